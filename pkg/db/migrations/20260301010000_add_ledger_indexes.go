package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		_, err := db.NewRaw("CREATE INDEX IF NOT EXISTS ledger_work_items_status_idx ON ledger.work_items (status)").Exec(ctx)
		if err != nil {
			return err
		}
		_, err = db.NewRaw("CREATE INDEX IF NOT EXISTS ledger_work_item_events_job_id_idx ON ledger.work_item_events (job_id, created_at)").Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		_, err := db.NewRaw("DROP INDEX IF EXISTS ledger.ledger_work_item_events_job_id_idx").Exec(ctx)
		if err != nil {
			return err
		}
		_, err = db.NewRaw("DROP INDEX IF EXISTS ledger.ledger_work_items_status_idx").Exec(ctx)
		return err
	})
}
