package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkItem is one submitted job as seen by this client. Signed URLs are never
// stored; Arguments keeps only argument names and verbs.
type WorkItem struct {
	bun.BaseModel `bun:"table:ledger.work_items,alias:wi"`

	ID         uuid.UUID         `bun:"type:uuid,default:gen_random_uuid(),pk"`
	JobID      string            `bun:",unique,notnull"`
	ActivityID string            `bun:",notnull"`
	Nickname   string            `bun:",nullzero"`
	Status     string            `bun:",notnull"`
	Progress   string            `bun:",nullzero"`
	ReportURL  string            `bun:",nullzero"`
	Arguments  map[string]string `bun:"type:jsonb"`
	Stats      map[string]any    `bun:"type:jsonb"`
	Details    map[string]any    `bun:"type:jsonb"`

	SubmittedAt time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	FinishedAt  *time.Time `bun:",nullzero"`
	UpdatedAt   time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
}

// WorkItemEvent is one observed status, from polling or a webhook.
type WorkItemEvent struct {
	bun.BaseModel `bun:"table:ledger.work_item_events,alias:ev"`

	ID        int64     `bun:",pk,autoincrement"`
	JobID     string    `bun:",notnull"`
	Status    string    `bun:",notnull"`
	Progress  string    `bun:",nullzero"`
	Source    string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
