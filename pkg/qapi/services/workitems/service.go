// Package workitems serves the job ledger over the API.
package workitems

import (
	"context"

	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/db/models"
)

// Ledger is the read side of db.Ledger.
type Ledger interface {
	Get(ctx context.Context, jobID string) (*models.WorkItem, error)
	List(ctx context.Context, opts db.ListOptions) ([]models.WorkItem, error)
	Events(ctx context.Context, jobID string) ([]models.WorkItemEvent, error)
}

type Service struct {
	ledger Ledger
}

func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

func (s *Service) Enabled() bool {
	return s != nil && s.ledger != nil
}

func (s *Service) Get(ctx context.Context, jobID string) (*models.WorkItem, error) {
	return s.ledger.Get(ctx, jobID)
}

func (s *Service) List(ctx context.Context, opts db.ListOptions) ([]models.WorkItem, error) {
	return s.ledger.List(ctx, opts)
}

func (s *Service) Events(ctx context.Context, jobID string) ([]models.WorkItemEvent, error) {
	return s.ledger.Events(ctx, jobID)
}
