package services

import (
	"github.com/quatton/apsflow/pkg/qapi/services/callbacks"
	"github.com/quatton/apsflow/pkg/qapi/services/workitems"
)

type Services struct {
	Callbacks *callbacks.Service
	WorkItems *workitems.Service
}

// EmptyServices is enough to describe the API, e.g. for OpenAPI output.
func EmptyServices() *Services {
	return &Services{
		Callbacks: callbacks.NewService(),
		WorkItems: workitems.NewService(nil),
	}
}
