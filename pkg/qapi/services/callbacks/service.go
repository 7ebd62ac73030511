// Package callbacks turns job service webhooks into ledger entries.
package callbacks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qrunner"
)

// Kind is the callback argument a payload arrived through.
type Kind string

const (
	KindComplete Kind = "complete"
	KindProgress Kind = "progress"
)

var (
	ErrForbidden  = errors.New("invalid callback secret")
	ErrBadPayload = errors.New("invalid callback payload")
)

// StatusRecorder is satisfied by db.Ledger.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, wi *qrunner.WorkItem, source string) error
}

// Handler observes decoded callbacks after they are recorded.
type Handler func(ctx context.Context, kind Kind, wi *qrunner.WorkItem)

type Service struct {
	secret   string
	recorder StatusRecorder
	handlers []Handler
	received *prometheus.CounterVec
	logger   *qlog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithSecret requires callbacks to present secret.
func WithSecret(secret string) Option {
	return func(s *Service) {
		s.secret = secret
	}
}

func WithRecorder(r StatusRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithHandler adds h to the handlers run for every accepted callback.
func WithHandler(h Handler) Option {
	return func(s *Service) {
		s.handlers = append(s.handlers, h)
	}
}

// WithRegisterer exports a counter of received callbacks.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.received = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apsflow",
			Subsystem: "webhooks",
			Name:      "callbacks_received_total",
			Help:      "Callbacks accepted, by kind and status.",
		}, []string{"kind", "status"})
		reg.MustRegister(s.received)
	}
}

func WithLogger(l *qlog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = qlog.OrDefault(s.logger)
	return s
}

// Authorize checks a presented secret. Without a configured secret every
// caller is accepted.
func (s *Service) Authorize(presented string) error {
	if s.secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(s.secret), []byte(presented)) != 1 {
		return ErrForbidden
	}
	return nil
}

// Handle decodes raw, records it and runs the handlers.
func (s *Service) Handle(ctx context.Context, kind Kind, raw []byte) (*qrunner.WorkItem, error) {
	var wi qrunner.WorkItem
	if err := json.Unmarshal(raw, &wi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if wi.ID == "" || wi.Status == "" {
		return nil, fmt.Errorf("%w: id and status are required", ErrBadPayload)
	}

	logger := s.logger.With("job_id", wi.ID, "kind", kind)
	if s.received != nil {
		s.received.WithLabelValues(string(kind), string(wi.Status)).Inc()
	}
	if s.recorder != nil {
		if err := s.recorder.RecordStatus(ctx, &wi, db.SourceCallback); err != nil {
			return nil, err
		}
	}
	for _, h := range s.handlers {
		h(ctx, kind, &wi)
	}

	if kind == KindComplete && !wi.Status.Terminal() {
		logger.Warn("completion callback with non-terminal status", "status", wi.Status)
	} else {
		logger.Info("callback received", "status", wi.Status)
	}
	return &wi, nil
}
