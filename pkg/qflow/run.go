package qflow

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/quatton/apsflow/pkg/qtrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// RunRequest describes one job whose inputs are local files and whose
// outputs land in the container.
type RunRequest struct {
	ActivityID string
	// InputFiles maps argument names to local paths. Each file is stored
	// under its base name.
	InputFiles map[string]string
	// OutputFiles maps argument names to object keys.
	OutputFiles map[string]string
	// Arguments are passed through unchanged, e.g. inline parameters.
	Arguments map[string]qrunner.Argument
	Container string
	Nickname  string

	DownloadOutputs bool
	// OutputDir receives downloads as OutputDir/objectKey. Empty means the
	// working directory.
	OutputDir string

	PollInterval time.Duration
	Timeout      time.Duration
	OnProgress   qrunner.ProgressFunc

	OnCompleteURL string
	OnProgressURL string
}

func (r RunRequest) movesFiles() bool {
	return len(r.InputFiles) > 0 || len(r.OutputFiles) > 0
}

// RunWithFiles stages inputs, prepares outputs, submits the job, waits for it
// and, on success, downloads the outputs. Failed and cancelled jobs are
// returned as results, not errors, and nothing is downloaded for them.
func (w *Workflow) RunWithFiles(ctx context.Context, req RunRequest) (*qrunner.Result, error) {
	var container string
	if req.movesFiles() {
		var err error
		if container, err = w.requireContainer(req.Container); err != nil {
			return nil, err
		}
	}

	runID := uuid.NewString()
	logger := w.logger.With("run_id", runID, "activity", req.ActivityID)
	ctx, span := w.tracer.Start(ctx, "qflow.RunWithFiles", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("activity", req.ActivityID),
	))
	defer span.End()

	fail := func(err error) (*qrunner.Result, error) {
		qtrace.SetError(ctx, err)
		return nil, err
	}

	if req.movesFiles() {
		if _, err := w.EnsureContainer(ctx, container, "", ""); err != nil {
			return fail(err)
		}
	}

	args := make(map[string]qrunner.Argument, len(req.Arguments)+len(req.InputFiles)+len(req.OutputFiles))
	maps.Copy(args, req.Arguments)

	for _, name := range slices.Sorted(maps.Keys(req.InputFiles)) {
		url, err := w.UploadInputFile(ctx, container, "", req.InputFiles[name])
		if err != nil {
			return fail(fmt.Errorf("input %s: %w", name, err))
		}
		args[name] = qrunner.NewArgument(url, qrunner.VerbGet)
	}
	for _, name := range slices.Sorted(maps.Keys(req.OutputFiles)) {
		url, err := w.PrepareOutputURL(ctx, container, req.OutputFiles[name])
		if err != nil {
			return fail(fmt.Errorf("output %s: %w", name, err))
		}
		args[name] = qrunner.NewArgument(url, qrunner.VerbPut)
	}
	logger.Debug("arguments prepared", "inputs", len(req.InputFiles), "outputs", len(req.OutputFiles))

	jobID, err := w.SubmitJob(ctx, qrunner.Spec{
		ActivityID:    req.ActivityID,
		Arguments:     args,
		Nickname:      req.Nickname,
		OnCompleteURL: req.OnCompleteURL,
		OnProgressURL: req.OnProgressURL,
	})
	if err != nil {
		return fail(err)
	}
	logger.Info("work item started", "job_id", jobID)

	res, err := w.AwaitCompletion(ctx, jobID, qrunner.WaitOptions{
		PollInterval: req.PollInterval,
		Timeout:      req.Timeout,
		OnProgress:   req.OnProgress,
	})
	if err != nil {
		return fail(err)
	}

	if !req.DownloadOutputs || !res.Status.Succeeded() || len(req.OutputFiles) == 0 {
		return res, nil
	}
	for _, name := range slices.Sorted(maps.Keys(req.OutputFiles)) {
		key := req.OutputFiles[name]
		dest, err := outputPath(req.OutputDir, key)
		if err != nil {
			return fail(err)
		}
		if err := w.DownloadOutputFile(ctx, container, key, dest); err != nil {
			return fail(fmt.Errorf("output %s: %w", name, err))
		}
		logger.Info("output downloaded", "object", key, "path", dest)
	}
	return res, nil
}

// outputPath keeps object keys such as "../x" from escaping dir.
func outputPath(dir, objectKey string) (string, error) {
	rel := filepath.FromSlash(objectKey)
	if !filepath.IsLocal(rel) {
		return "", qerr.Newf(qerr.CodeConfiguration, "object key %q is not a local path", objectKey)
	}
	return filepath.Join(dir, rel), nil
}

// DefaultBatchConcurrency bounds concurrent waits in RunBatch.
const DefaultBatchConcurrency = 4

// BatchOptions tune RunBatch. Zero values take the workflow defaults.
type BatchOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Concurrency  int
	// OnProgress receives the index of the spec the payload belongs to. It
	// may be called from several goroutines at once.
	OnProgress func(index int, wi *qrunner.WorkItem)
}

// RunBatch submits all specs in one call and waits for every work item.
// Results are ordered like specs. The first wait failure stops the other
// waits and no results are returned.
func (w *Workflow) RunBatch(ctx context.Context, specs []qrunner.Spec, opts BatchOptions) ([]*qrunner.Result, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	ctx, span := w.tracer.Start(ctx, "qflow.RunBatch", trace.WithAttributes(attribute.Int("size", len(specs))))
	defer span.End()

	items, err := w.runner.SubmitBatch(ctx, specs)
	if err != nil {
		qtrace.SetError(ctx, err)
		return nil, err
	}
	for i, wi := range items {
		w.submitted(ctx, wi, specs[i])
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	results := make([]*qrunner.Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, wi := range items {
		if gctx.Err() != nil {
			break
		}
		wopts := qrunner.WaitOptions{PollInterval: opts.PollInterval, Timeout: opts.Timeout}
		if opts.OnProgress != nil {
			wopts.OnProgress = func(p *qrunner.WorkItem) { opts.OnProgress(i, p) }
		}
		g.Go(func() error {
			res, err := w.AwaitCompletion(gctx, wi.ID, wopts)
			if err != nil {
				return fmt.Errorf("work item %s: %w", wi.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		qtrace.SetError(ctx, err)
		return nil, err
	}
	return results, nil
}
