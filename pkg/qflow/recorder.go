package qflow

import (
	"context"

	"github.com/quatton/apsflow/pkg/qrunner"
)

// Recorder keeps a ledger of work items. Errors are logged by the workflow
// and never fail a run.
type Recorder interface {
	RecordSubmitted(ctx context.Context, wi *qrunner.WorkItem, spec qrunner.Spec) error
	RecordProgress(ctx context.Context, wi *qrunner.WorkItem) error
	RecordResult(ctx context.Context, res *qrunner.Result) error
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmitted(context.Context, *qrunner.WorkItem, qrunner.Spec) error {
	return nil
}

func (nopRecorder) RecordProgress(context.Context, *qrunner.WorkItem) error { return nil }

func (nopRecorder) RecordResult(context.Context, *qrunner.Result) error { return nil }
