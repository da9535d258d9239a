package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingInstallsGlobals(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracing(context.Background(), Config{ServiceName: "stagetracker-test", SampleRatio: 1},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "event.process")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.Contains(t, carrier.Keys(), "traceparent")
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "event.process", ended[0].Name())
	svc, ok := ended[0].Resource().Set().Value("service.name")
	require.True(t, ok)
	require.Equal(t, "stagetracker-test", svc.AsString())
}

func TestInitTracingZeroRatioDropsRootSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracing(context.Background(), Config{ServiceName: "quiet", SampleRatio: 0},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	_, span := tp.Tracer("test").Start(context.Background(), "event.process")
	span.End()
	require.Empty(t, recorder.Ended())
}
