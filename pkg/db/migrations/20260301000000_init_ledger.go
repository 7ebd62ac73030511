package migrations

import (
	"context"
	"fmt"

	"github.com/quatton/apsflow/pkg/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		_, err := db.NewRaw("CREATE SCHEMA IF NOT EXISTS ledger").Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewCreateTable().
			Model((*models.WorkItem)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewCreateTable().
			Model((*models.WorkItemEvent)(nil)).
			IfNotExists().
			ForeignKey(`("job_id") REFERENCES ledger.work_items ("job_id") ON DELETE CASCADE`).
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		_, err := db.NewDropTable().Model((*models.WorkItemEvent)(nil)).IfExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewDropTable().Model((*models.WorkItem)(nil)).IfExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewRaw("DROP SCHEMA IF EXISTS ledger").Exec(ctx)
		return err
	})
}
