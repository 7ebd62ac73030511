package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/db/models"
	"github.com/quatton/apsflow/pkg/qapi/schemas"
	"github.com/quatton/apsflow/pkg/qapi/services/workitems"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

type GetWorkItemInput struct {
	JobID string `path:"jobId" doc:"Work item id"`
}

type GetWorkItemOutput struct {
	Body struct {
		WorkItem schemas.WorkItemResponse        `json:"workItem"`
		Events   []schemas.WorkItemEventResponse `json:"events"`
	}
}

type ListWorkItemsInput struct {
	Status string `query:"status" doc:"Filter by status" required:"false"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum number of records"`
}

type ListWorkItemsOutput struct {
	Body struct {
		WorkItems []schemas.WorkItemResponse `json:"workItems" doc:"Most recent first"`
	}
}

func toResponse(m *models.WorkItem) schemas.WorkItemResponse {
	return schemas.WorkItemResponse{
		JobID:       m.JobID,
		ActivityID:  m.ActivityID,
		Nickname:    m.Nickname,
		Status:      m.Status,
		Progress:    m.Progress,
		ReportURL:   m.ReportURL,
		Arguments:   m.Arguments,
		SubmittedAt: m.SubmittedAt,
		FinishedAt:  m.FinishedAt,
	}
}

func RegisterWorkItems(api huma.API, svc *workitems.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workitems",
		Method:      http.MethodGet,
		Path:        "/api/workitems",
		Summary:     "List recorded work items",
		Tags:        []string{TagWorkItems.String()},
	}, func(ctx context.Context, input *ListWorkItemsInput) (*ListWorkItemsOutput, error) {
		if !svc.Enabled() {
			return nil, huma.Error503ServiceUnavailable("ledger is not configured")
		}
		recs, err := svc.List(ctx, db.ListOptions{Status: qrunner.Status(input.Status), Limit: input.Limit})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list work items", err)
		}
		resp := &ListWorkItemsOutput{}
		resp.Body.WorkItems = make([]schemas.WorkItemResponse, 0, len(recs))
		for i := range recs {
			resp.Body.WorkItems = append(resp.Body.WorkItems, toResponse(&recs[i]))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workitem",
		Method:      http.MethodGet,
		Path:        "/api/workitems/{jobId}",
		Summary:     "Get a recorded work item",
		Tags:        []string{TagWorkItems.String()},
	}, func(ctx context.Context, input *GetWorkItemInput) (*GetWorkItemOutput, error) {
		if !svc.Enabled() {
			return nil, huma.Error503ServiceUnavailable("ledger is not configured")
		}
		rec, err := svc.Get(ctx, input.JobID)
		if qerr.IsCode(err, qerr.CodeNotFound) {
			return nil, huma.Error404NotFound("work item not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get work item", err)
		}
		evs, err := svc.Events(ctx, input.JobID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get events", err)
		}

		resp := &GetWorkItemOutput{}
		resp.Body.WorkItem = toResponse(rec)
		resp.Body.Events = make([]schemas.WorkItemEventResponse, 0, len(evs))
		for _, ev := range evs {
			resp.Body.Events = append(resp.Body.Events, schemas.WorkItemEventResponse{
				Status:    ev.Status,
				Progress:  ev.Progress,
				Source:    ev.Source,
				CreatedAt: ev.CreatedAt,
			})
		}
		return resp, nil
	})
}
