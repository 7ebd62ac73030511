package schemas

import "time"

// CallbackPayload is what the job service posts to onComplete and onProgress
// URLs. Unknown fields are accepted and kept in the ledger details.
type CallbackPayload struct {
	_ struct{} `json:"-" additionalProperties:"true"`

	ID        string         `json:"id" doc:"Work item id"`
	Status    string         `json:"status" doc:"Work item status"`
	Progress  string         `json:"progress,omitempty" doc:"Progress message reported by the job"`
	ReportURL string         `json:"reportUrl,omitempty" doc:"Location of the job report"`
	Stats     map[string]any `json:"stats,omitempty" doc:"Service-side timings"`
}

// CallbackAck acknowledges a callback.
type CallbackAck struct {
	ID       string `json:"id" doc:"Work item id"`
	Status   string `json:"status" doc:"Status as recorded"`
	Terminal bool   `json:"terminal" doc:"Whether the status is final"`
}

// WorkItemResponse is a ledger record.
type WorkItemResponse struct {
	JobID       string            `json:"jobId" doc:"Work item id"`
	ActivityID  string            `json:"activityId" doc:"Activity the job ran"`
	Nickname    string            `json:"nickname,omitempty" doc:"Owner nickname"`
	Status      string            `json:"status" doc:"Last known status"`
	Progress    string            `json:"progress,omitempty" doc:"Last progress message"`
	ReportURL   string            `json:"reportUrl,omitempty" doc:"Location of the job report"`
	Arguments   map[string]string `json:"arguments,omitempty" doc:"Argument names and verbs"`
	SubmittedAt time.Time         `json:"submittedAt" doc:"Submission time"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty" doc:"Time a terminal status was recorded"`
}

// WorkItemEventResponse is one observed status.
type WorkItemEventResponse struct {
	Status    string    `json:"status" doc:"Observed status"`
	Progress  string    `json:"progress,omitempty" doc:"Progress message"`
	Source    string    `json:"source" enum:"poll,callback" doc:"Where the status came from"`
	CreatedAt time.Time `json:"createdAt" doc:"Observation time"`
}
