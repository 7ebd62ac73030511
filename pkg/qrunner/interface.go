package qrunner

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Status represents the execution state of a work item
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inprogress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"

	// Failure details reported by the service. All are terminal.
	StatusFailedDownload            Status = "failedDownload"
	StatusFailedInstructions        Status = "failedInstructions"
	StatusFailedUpload              Status = "failedUpload"
	StatusFailedUploadOptional      Status = "failedUploadOptional"
	StatusFailedLimitDataSize       Status = "failedLimitDataSize"
	StatusFailedLimitProcessingTime Status = "failedLimitProcessingTime"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled:
		return true
	}
	return strings.HasPrefix(string(s), string(StatusFailed))
}

// Succeeded reports whether outputs are available.
func (s Status) Succeeded() bool {
	return s == StatusSuccess
}

// Verb is the HTTP method the job engine uses on an argument URL.
type Verb string

const (
	VerbGet  Verb = "get"
	VerbPut  Verb = "put"
	VerbHead Verb = "head"
	VerbPost Verb = "post"
)

// Argument binds one activity parameter to a URL. Build it with NewArgument.
type Argument struct {
	URL         string            `json:"url"`
	Verb        Verb              `json:"verb,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	LocalName   string            `json:"localName,omitempty"`
	OnDemand    *bool             `json:"onDemand,omitempty"`
	Zip         *bool             `json:"zip,omitempty"`
	Description string            `json:"description,omitempty"`
}

// Spec is an immutable request to run an activity.
type Spec struct {
	// ActivityID is the fully qualified id, e.g. "owner.Activity+alias".
	ActivityID string
	Arguments  map[string]Argument
	Nickname   string
	// OnCompleteURL and OnProgressURL receive HTTP POST callbacks from the
	// service. Local polling still happens.
	OnCompleteURL          string
	OnProgressURL          string
	LimitProcessingTimeSec int
}

const (
	argOnComplete = "onComplete"
	argOnProgress = "onProgress"
)

func (s Spec) MarshalJSON() ([]byte, error) {
	args := make(map[string]Argument, len(s.Arguments)+2)
	for k, v := range s.Arguments {
		args[k] = v
	}
	if s.OnCompleteURL != "" {
		args[argOnComplete] = Argument{URL: s.OnCompleteURL, Verb: VerbPost}
	}
	if s.OnProgressURL != "" {
		args[argOnProgress] = Argument{URL: s.OnProgressURL, Verb: VerbPost}
	}
	return json.Marshal(struct {
		ActivityID             string              `json:"activityId"`
		Arguments              map[string]Argument `json:"arguments"`
		Nickname               string              `json:"nickname,omitempty"`
		LimitProcessingTimeSec int                 `json:"limitProcessingTimeSec,omitempty"`
	}{s.ActivityID, args, s.Nickname, s.LimitProcessingTimeSec})
}

// Stats are the service-side timings of a work item.
type Stats struct {
	TimeQueued              *time.Time `json:"timeQueued,omitempty"`
	TimeDownloadStarted     *time.Time `json:"timeDownloadStarted,omitempty"`
	TimeInstructionsStarted *time.Time `json:"timeInstructionsStarted,omitempty"`
	TimeInstructionsEnded   *time.Time `json:"timeInstructionsEnded,omitempty"`
	TimeUploadEnded         *time.Time `json:"timeUploadEnded,omitempty"`
	TimeFinished            *time.Time `json:"timeFinished,omitempty"`
	BytesDownloaded         int64      `json:"bytesDownloaded,omitempty"`
	BytesUploaded           int64      `json:"bytesUploaded,omitempty"`
}

// WorkItem is a status payload as returned by the service.
type WorkItem struct {
	ID           string `json:"id"`
	Status       Status `json:"status"`
	Progress     string `json:"progress,omitempty"`
	ReportURL    string `json:"reportUrl,omitempty"`
	DebugInfoURL string `json:"debugInfoUrl,omitempty"`
	Stats        *Stats `json:"stats,omitempty"`

	// Raw is the payload exactly as received.
	Raw json.RawMessage `json:"-"`
}

func (w *WorkItem) UnmarshalJSON(b []byte) error {
	type plain WorkItem
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*w = WorkItem(p)
	w.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Details decodes Raw into a generic map.
func (w *WorkItem) Details() map[string]any {
	if len(w.Raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(w.Raw, &m); err != nil {
		return nil
	}
	return m
}

// Result is created once, when a terminal status is observed.
type Result struct {
	JobID     string         `json:"jobId"`
	Status    Status         `json:"status"`
	ReportURL string         `json:"reportUrl,omitempty"`
	Stats     *Stats         `json:"stats,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Result snapshots w.
func (w *WorkItem) Result() *Result {
	return &Result{
		JobID:     w.ID,
		Status:    w.Status,
		ReportURL: w.ReportURL,
		Stats:     w.Stats,
		Details:   w.Details(),
	}
}

// Runner submits and tracks work items.
type Runner interface {
	// Submit starts one work item. Failures are never retried.
	Submit(ctx context.Context, spec Spec) (*WorkItem, error)

	// SubmitBatch starts all specs in one call. The result is ordered like
	// specs; any failure fails the whole batch.
	SubmitBatch(ctx context.Context, specs []Spec) ([]*WorkItem, error)

	// Get returns the current status of a work item.
	Get(ctx context.Context, id string) (*WorkItem, error)

	// Cancel asks the service to stop a work item.
	Cancel(ctx context.Context, id string) error
}
