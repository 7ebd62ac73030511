package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quatton/apsflow/pkg/db/models"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/uptrace/bun"
)

// Event sources.
const (
	SourcePoll     = "poll"
	SourceCallback = "callback"
)

// Ledger records work items in Postgres. It satisfies qflow.Recorder.
type Ledger struct {
	db  bun.IDB
	now func() time.Time
}

func NewLedger(db bun.IDB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// newRecord builds the row for a fresh submission. Argument URLs are signed
// and therefore dropped.
func newRecord(wi *qrunner.WorkItem, spec qrunner.Spec) *models.WorkItem {
	args := make(map[string]string, len(spec.Arguments)+2)
	for name, a := range spec.Arguments {
		args[name] = string(a.Verb)
	}
	if spec.OnCompleteURL != "" {
		args["onComplete"] = string(qrunner.VerbPost)
	}
	if spec.OnProgressURL != "" {
		args["onProgress"] = string(qrunner.VerbPost)
	}
	status := wi.Status
	if status == "" {
		status = qrunner.StatusPending
	}
	return &models.WorkItem{
		JobID:      wi.ID,
		ActivityID: spec.ActivityID,
		Nickname:   spec.Nickname,
		Status:     string(status),
		Arguments:  args,
	}
}

func statsMap(s *qrunner.Stats) map[string]any {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func (l *Ledger) RecordSubmitted(ctx context.Context, wi *qrunner.WorkItem, spec qrunner.Spec) error {
	rec := newRecord(wi, spec)
	_, err := l.db.NewInsert().
		Model(rec).
		On("CONFLICT (job_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("recording submission of %s: %w", wi.ID, err)
	}
	return nil
}

// RecordProgress stores a polled status.
func (l *Ledger) RecordProgress(ctx context.Context, wi *qrunner.WorkItem) error {
	return l.RecordStatus(ctx, wi, SourcePoll)
}

// RecordStatus appends an event and moves the record forward. Records already
// in a terminal status keep it.
func (l *Ledger) RecordStatus(ctx context.Context, wi *qrunner.WorkItem, source string) error {
	return l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// callbacks may report jobs submitted by another client
		stub := &models.WorkItem{JobID: wi.ID, Status: string(qrunner.StatusPending)}
		if _, err := tx.NewInsert().Model(stub).On("CONFLICT (job_id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("recording %s: %w", wi.ID, err)
		}

		ev := &models.WorkItemEvent{
			JobID:    wi.ID,
			Status:   string(wi.Status),
			Progress: wi.Progress,
			Source:   source,
		}
		if _, err := tx.NewInsert().Model(ev).Exec(ctx); err != nil {
			return fmt.Errorf("recording event for %s: %w", wi.ID, err)
		}

		q := tx.NewUpdate().
			Model((*models.WorkItem)(nil)).
			Set("status = ?", string(wi.Status)).
			Set("progress = ?", wi.Progress).
			Set("updated_at = ?", l.now()).
			Where("job_id = ?", wi.ID).
			Where("finished_at IS NULL")
		if wi.ReportURL != "" {
			q = q.Set("report_url = ?", wi.ReportURL)
		}
		if wi.Status.Terminal() {
			q = q.Set("finished_at = ?", l.now()).
				Set("stats = ?", statsMap(wi.Stats)).
				Set("details = ?", wi.Details())
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("updating %s: %w", wi.ID, err)
		}
		return nil
	})
}

func (l *Ledger) RecordResult(ctx context.Context, res *qrunner.Result) error {
	now := l.now()
	_, err := l.db.NewUpdate().
		Model((*models.WorkItem)(nil)).
		Set("status = ?", string(res.Status)).
		Set("report_url = ?", res.ReportURL).
		Set("stats = ?", statsMap(res.Stats)).
		Set("details = ?", res.Details).
		Set("finished_at = COALESCE(finished_at, ?)", now).
		Set("updated_at = ?", now).
		Where("job_id = ?", res.JobID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("recording result of %s: %w", res.JobID, err)
	}
	return nil
}

// Get returns the record for jobID.
func (l *Ledger) Get(ctx context.Context, jobID string) (*models.WorkItem, error) {
	rec := new(models.WorkItem)
	err := l.db.NewSelect().Model(rec).Where("job_id = ?", jobID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, qerr.New(qerr.CodeNotFound, fmt.Errorf("work item %s is not in the ledger", jobID))
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListOptions filter List. Zero values mean no filter.
type ListOptions struct {
	Status qrunner.Status
	Limit  int
}

// List returns the most recently submitted records first.
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]models.WorkItem, error) {
	var recs []models.WorkItem
	q := l.db.NewSelect().Model(&recs).Order("submitted_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if err := q.Limit(limit).Scan(ctx); err != nil {
		return nil, err
	}
	return recs, nil
}

// Events returns the observed statuses of jobID in order.
func (l *Ledger) Events(ctx context.Context, jobID string) ([]models.WorkItemEvent, error) {
	var evs []models.WorkItemEvent
	err := l.db.NewSelect().
		Model(&evs).
		Where("job_id = ?", jobID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	return evs, err
}
