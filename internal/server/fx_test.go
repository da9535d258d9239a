package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-stage-tracker/internal/config"
	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
)

const testPipeline = `id: e2e
filters:
  - id: stamp-received
    type: timing
    options:
      tracking_field: timestamps
      step_field: received
      timestamp_field: sent_at
  - id: stamp-processed
    type: timing
    add_tag: [timed]
    options:
      tracking_field: timestamps
      step_field: processed
`

func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("logging.level", "error")
	v.Set("pipeline.watch", false)
	v.Set("progress.enabled", false)
	v.Set("worker.concurrency", 2)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return &cfg
}

func writePipeline(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPipeline), 0o600))
	return path
}

func TestBuildProcessesSubmittedEvents(t *testing.T) {
	cfg := testConfig(t, map[string]any{
		"pipeline.path":              writePipeline(t),
		"progress.enabled":           true,
		"progress.batch.max_wait_ms": 10,
		"progress.batch.max_events":  1,
		"worker.retry_backoff_ms":    1,
		"ingest.queue_depth":         8,
		"tracing.enabled":            true,
	})
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, app.tracer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.dispatch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, app.Close(context.Background()))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events",
		bytes.NewBufferString(`{"sent_at":"2024-05-01T10:00:00Z"}`))
	req.Header.Set("X-Source", "e2e")
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		EventIDs []string `json:"event_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.EventIDs, 1)
	id := resp.EventIDs[0]

	require.Eventually(t, func() bool {
		stored, err := app.events.GetRecord(context.Background(), id)
		return err == nil && stored.Status == ingest.StatusProcessed
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := app.events.GetRecord(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "e2e", stored.Pipeline)
	require.Equal(t, "processed", stored.LastStep)
	require.Equal(t, []string{"timed"}, stored.Tags)
	require.NotEmpty(t, stored.ArchiveURI)

	require.Eventually(t, func() bool {
		trace := httptest.NewRecorder()
		app.Handler().ServeHTTP(trace, httptest.NewRequest(http.MethodGet, "/v1/events/"+id+"/trace", nil))
		return trace.Code == http.StatusOK &&
			bytes.Contains(trace.Body.Bytes(), []byte(`"status":"success"`)) &&
			bytes.Contains(trace.Body.Bytes(), []byte(`"prior":"received"`))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBuildFailsOnMissingPipeline(t *testing.T) {
	cfg := testConfig(t, map[string]any{
		"pipeline.path": filepath.Join(t.TempDir(), "missing.yaml"),
	})
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "pipeline load failed")
}

func TestBuildWaitsForPipelineWhenWatching(t *testing.T) {
	cfg := testConfig(t, map[string]any{
		"pipeline.path":  filepath.Join(t.TempDir(), "later.yaml"),
		"pipeline.watch": true,
	})
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })
	require.NotNil(t, app.watcher)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewLimiterAppliesOverrides(t *testing.T) {
	t.Parallel()

	l := newLimiter(config.RateLimitConfig{
		DefaultRPS:   1000,
		DefaultBurst: 1000,
		Sources:      map[string]config.SourceRate{"slow": {RPS: 0.001, Burst: 1}},
	})
	require.True(t, l.Allow("slow"))
	require.False(t, l.Allow("slow"))
	require.True(t, l.Allow("fast"))
}
