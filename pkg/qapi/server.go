package qapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/quatton/apsflow/pkg/qapi/routes"
	"github.com/quatton/apsflow/pkg/qapi/services"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qtrace"
	"go.opentelemetry.io/otel/trace"
)

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler builds the complete HTTP handler. A nil tracer uses the global
// provider.
func Handler(svcs *services.Services, gatherer prometheus.Gatherer, tracer trace.Tracer) http.Handler {
	api := NewApi()
	routes.RegisterAPI(api.Api, svcs)
	if gatherer != nil {
		api.MountMetrics(gatherer)
	}
	return qtrace.HTTPMiddleware(tracer)(api.Router)
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *qlog.Logger) error {
	logger = qlog.OrDefault(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook receiver listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down webhook receiver")
	return srv.Shutdown(shutdownCtx)
}
