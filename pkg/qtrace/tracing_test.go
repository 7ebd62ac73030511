package qtrace

import (
	"context"
	"errors"
	"testing"

	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{Logger: qlog.Discard()})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetErrorMarksSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	SetError(ctx, errors.New("boom"))
	AddEvent(ctx, "checkpoint")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	names := []string{}
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "checkpoint")
}
