package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/apsflow/pkg/qapi/services"
)

func RegisterAPI(api huma.API, svcs *services.Services) {
	if svcs == nil {
		svcs = services.EmptyServices()
	}
	RegisterHealth(api)
	RegisterCallbacks(api, svcs.Callbacks)
	RegisterWorkItems(api, svcs.WorkItems)
}
