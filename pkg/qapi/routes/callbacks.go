package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/apsflow/pkg/qapi/schemas"
	"github.com/quatton/apsflow/pkg/qapi/services/callbacks"
)

// CallbackInput is a work item status posted by the job service.
type CallbackInput struct {
	Secret  string `query:"secret" doc:"Shared secret embedded in the callback URL"`
	Body    schemas.CallbackPayload
	RawBody []byte
}

type CallbackOutput struct {
	Body schemas.CallbackAck
}

func RegisterCallbacks(api huma.API, svc *callbacks.Service) {
	register := func(kind callbacks.Kind, summary string) {
		huma.Register(api, huma.Operation{
			OperationID:   "workitem-callback-" + string(kind),
			Method:        http.MethodPost,
			Path:          "/api/workitems/callbacks/" + string(kind),
			Summary:       summary,
			Tags:          []string{TagCallbacks.String()},
			DefaultStatus: http.StatusOK,
		}, func(ctx context.Context, input *CallbackInput) (*CallbackOutput, error) {
			if err := svc.Authorize(input.Secret); err != nil {
				return nil, huma.Error403Forbidden("invalid callback secret")
			}
			wi, err := svc.Handle(ctx, kind, input.RawBody)
			if errors.Is(err, callbacks.ErrBadPayload) {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			if err != nil {
				return nil, huma.Error500InternalServerError("failed to record callback", err)
			}
			resp := &CallbackOutput{}
			resp.Body.ID = wi.ID
			resp.Body.Status = string(wi.Status)
			resp.Body.Terminal = wi.Status.Terminal()
			return resp, nil
		})
	}

	register(callbacks.KindComplete, "Receive a completion callback")
	register(callbacks.KindProgress, "Receive a progress callback")
}
