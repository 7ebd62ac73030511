// Package qflow orchestrates remote jobs end to end: it stages input files in
// cloud storage, prepares output locations, submits the work item, waits for
// it and fetches the outputs.
package qflow

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/quatton/apsflow/pkg/qtrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

const tracerName = "github.com/quatton/apsflow/pkg/qflow"

// Defaults apply whenever a call leaves the matching field empty.
type Defaults struct {
	Container    string
	Region       string
	Policy       qart.Policy
	PollInterval time.Duration
	Timeout      time.Duration
}

func (d Defaults) withFallbacks() Defaults {
	if d.Policy == "" {
		d.Policy = qart.PolicyTransient
	}
	if d.PollInterval <= 0 {
		d.PollInterval = qrunner.DefaultPollInterval
	}
	if d.Timeout <= 0 {
		d.Timeout = qrunner.DefaultTimeout
	}
	return d
}

// Workflow is safe for concurrent use.
type Workflow struct {
	broker   qart.Broker
	runner   qrunner.Runner
	transfer *qart.Transfer
	poller   *qrunner.Poller
	clock    clock.Clock
	defaults Defaults
	recorder Recorder
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *qlog.Logger
}

// Option configures a Workflow
type Option func(*Workflow)

func WithDefaults(d Defaults) Option {
	return func(w *Workflow) {
		w.defaults = d
	}
}

// WithTransfer replaces the signed-URL transfer client.
func WithTransfer(t *qart.Transfer) Option {
	return func(w *Workflow) {
		w.transfer = t
	}
}

// WithClock drives polling and durations from c.
func WithClock(c clock.Clock) Option {
	return func(w *Workflow) {
		w.clock = c
	}
}

func WithRecorder(r Recorder) Option {
	return func(w *Workflow) {
		w.recorder = r
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) {
		w.tracer = t
	}
}

func WithLogger(l *qlog.Logger) Option {
	return func(w *Workflow) {
		w.logger = l
	}
}

// New builds a workflow over a storage broker and a job runner.
func New(broker qart.Broker, runner qrunner.Runner, opts ...Option) *Workflow {
	w := &Workflow{
		broker:   broker,
		runner:   runner,
		clock:    clock.RealClock{},
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.defaults = w.defaults.withFallbacks()
	w.logger = qlog.OrDefault(w.logger)
	if w.transfer == nil {
		w.transfer = qart.NewTransfer(qart.WithTransferLogger(w.logger))
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer(tracerName)
	}
	w.poller = qrunner.NewPoller(runner, qrunner.WithClock(w.clock), qrunner.WithPollerLogger(w.logger))
	return w
}

// Defaults returns the effective defaults.
func (w *Workflow) Defaults() Defaults {
	return w.defaults
}

func (w *Workflow) container(key string) string {
	if key != "" {
		return key
	}
	return w.defaults.Container
}

func (w *Workflow) requireContainer(key string) (string, error) {
	if key = w.container(key); key == "" {
		return "", qerr.New(qerr.CodeConfiguration, qerr.ErrContainerRequired)
	}
	return key, nil
}

// EnsureContainer gets or creates the container. Empty arguments take the
// workflow defaults.
func (w *Workflow) EnsureContainer(ctx context.Context, key, region string, policy qart.Policy) (*qart.Container, error) {
	key, err := w.requireContainer(key)
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = w.defaults.Region
	}
	if policy == "" {
		policy = w.defaults.Policy
	}

	ctx, span := w.tracer.Start(ctx, "qflow.EnsureContainer", trace.WithAttributes(attribute.String("bucket", key)))
	defer span.End()

	c, err := w.broker.EnsureContainer(ctx, key, region, policy)
	if err != nil {
		qtrace.SetError(ctx, err)
		return nil, err
	}
	return c, nil
}

// UploadInputFile uploads the file at path and returns a signed URL the job
// can read it from. An empty objectKey uses the file name.
func (w *Workflow) UploadInputFile(ctx context.Context, containerKey, objectKey, path string) (string, error) {
	containerKey, err := w.requireContainer(containerKey)
	if err != nil {
		return "", err
	}
	if objectKey == "" {
		objectKey = filepath.Base(path)
	}

	ctx, span := w.tracer.Start(ctx, "qflow.UploadInputFile", trace.WithAttributes(
		attribute.String("bucket", containerKey),
		attribute.String("object", objectKey),
	))
	defer span.End()

	ticket, err := w.broker.IssueUploadTicket(ctx, containerKey, objectKey, qart.AccessReadWrite)
	if err != nil {
		qtrace.SetError(ctx, err)
		return "", err
	}
	size, err := w.transfer.UploadFile(ctx, ticket, path)
	if err != nil {
		qtrace.SetError(ctx, err)
		return "", err
	}
	w.metrics.bytes("upload", size)

	url, err := w.broker.IssueDownloadURL(ctx, containerKey, objectKey, qart.InputURLMinutes)
	if err != nil {
		qtrace.SetError(ctx, err)
		return "", err
	}
	w.logger.Debug("input staged", "bucket", containerKey, "object", objectKey)
	return url, nil
}

// PrepareOutputURL returns a signed URL the job can PUT objectKey to.
func (w *Workflow) PrepareOutputURL(ctx context.Context, containerKey, objectKey string) (string, error) {
	containerKey, err := w.requireContainer(containerKey)
	if err != nil {
		return "", err
	}
	ticket, err := w.broker.IssueUploadTicket(ctx, containerKey, objectKey, qart.AccessReadWrite)
	if err != nil {
		return "", err
	}
	if ticket.Shape() != qart.ShapePut {
		return "", qerr.New(qerr.CodeConfiguration, fmt.Errorf("output %s needs a single signed URL, got a %s ticket: %w",
			objectKey, ticket.Shape(), qerr.ErrUnknownTicketShape))
	}
	return ticket.URL, nil
}

// SubmitJob submits spec once and returns the work item id.
func (w *Workflow) SubmitJob(ctx context.Context, spec qrunner.Spec) (string, error) {
	ctx, span := w.tracer.Start(ctx, "qflow.SubmitJob", trace.WithAttributes(attribute.String("activity", spec.ActivityID)))
	defer span.End()

	wi, err := w.runner.Submit(ctx, spec)
	if err != nil {
		qtrace.SetError(ctx, err)
		return "", err
	}
	span.SetAttributes(attribute.String("job_id", wi.ID))
	w.submitted(ctx, wi, spec)
	return wi.ID, nil
}

func (w *Workflow) submitted(ctx context.Context, wi *qrunner.WorkItem, spec qrunner.Spec) {
	w.metrics.jobSubmitted(spec.ActivityID)
	if err := w.recorder.RecordSubmitted(ctx, wi, spec); err != nil {
		w.logger.Warn("failed to record submission", "job_id", wi.ID, "error", err)
	}
}

// AwaitCompletion blocks until jobID is terminal, the timeout passes or ctx
// ends. Zero options take the workflow defaults. A timeout leaves the remote
// job running.
func (w *Workflow) AwaitCompletion(ctx context.Context, jobID string, opts qrunner.WaitOptions) (*qrunner.Result, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = w.defaults.PollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = w.defaults.Timeout
	}

	ctx, span := w.tracer.Start(ctx, "qflow.AwaitCompletion", trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	user := opts.OnProgress
	opts.OnProgress = func(wi *qrunner.WorkItem) {
		if err := w.recorder.RecordProgress(ctx, wi); err != nil {
			w.logger.Warn("failed to record progress", "job_id", jobID, "error", err)
		}
		if user != nil {
			user(wi)
		}
	}

	start := w.clock.Now()
	res, err := w.poller.Wait(ctx, jobID, opts)
	if err != nil {
		qtrace.SetError(ctx, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("status", string(res.Status)))
	w.metrics.jobFinished(res.Status, w.clock.Since(start).Seconds())
	if err := w.recorder.RecordResult(ctx, res); err != nil {
		w.logger.Warn("failed to record result", "job_id", jobID, "error", err)
	}
	w.logger.Info("work item finished", "job_id", jobID, "status", res.Status)
	return res, nil
}

// DownloadOutputFile fetches objectKey into dest, creating parent
// directories.
func (w *Workflow) DownloadOutputFile(ctx context.Context, containerKey, objectKey, dest string) error {
	containerKey, err := w.requireContainer(containerKey)
	if err != nil {
		return err
	}

	ctx, span := w.tracer.Start(ctx, "qflow.DownloadOutputFile", trace.WithAttributes(
		attribute.String("bucket", containerKey),
		attribute.String("object", objectKey),
	))
	defer span.End()

	url, err := w.broker.IssueDownloadURL(ctx, containerKey, objectKey, qart.DownloadURLMinutes)
	if err != nil {
		qtrace.SetError(ctx, err)
		return err
	}
	n, err := w.transfer.DownloadFile(ctx, url, dest)
	if err != nil {
		qtrace.SetError(ctx, err)
		return err
	}
	w.metrics.bytes("download", n)
	return nil
}

// CancelJob asks the service to stop jobID. Errors are returned; callers may
// ignore them.
func (w *Workflow) CancelJob(ctx context.Context, jobID string) error {
	return w.runner.Cancel(ctx, jobID)
}
