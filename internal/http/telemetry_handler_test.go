package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/consumer"
	"wisefido-telemetry/internal/pipeline"
)

// fakeStream 流状态替身
type fakeStream struct {
	status  consumer.Status
	metrics consumer.Metrics
}

func (f *fakeStream) Status() consumer.Status   { return f.status }
func (f *fakeStream) Metrics() consumer.Metrics { return f.metrics }

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p := pipeline.New(pipeline.Config{}, nil, zap.NewNop())
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func newTestRouter(t *testing.T, p *pipeline.Pipeline, stream StreamStatusProvider) *Router {
	t.Helper()
	logger := zap.NewNop()
	router := NewRouter(logger)
	router.RegisterTelemetryRoutes(
		NewTelemetryHandler(p, stream, logger),
		NewViewportHandler(p, logger),
		NewExportHandler(p, logger),
	)
	return router
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetStatus(t *testing.T) {
	p := newTestPipeline(t)
	v := 97.0
	p.Ingest("spo2", time.Now().UnixMilli(), &v)

	stream := &fakeStream{
		status:  consumer.StatusReady,
		metrics: consumer.Metrics{MessagesProcessed: 5, SamplesIngested: 5},
	}
	router := newTestRouter(t, p, stream)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/telemetry/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeResult(t, rec)
	assert.Equal(t, float64(ResultSuccess), out["code"])

	result := out["result"].(map[string]any)
	group := result["group"].(map[string]any)
	assert.Equal(t, "vitals", group["group"])
	assert.Equal(t, "live", group["state"])

	streamOut := result["stream"].(map[string]any)
	assert.Equal(t, "ready", streamOut["status"])
	assert.Equal(t, float64(5), streamOut["messages_processed"])
}

func TestGetStatus_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, newTestPipeline(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/data/api/v1/telemetry/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResume(t *testing.T) {
	p := newTestPipeline(t)
	v := 72.0
	p.Ingest("bpm", time.Now().UnixMilli(), &v)
	p.NotifyUserInteraction("vitals")
	require.True(t, p.IsPaused("vitals"))

	router := newTestRouter(t, p, nil)

	req := httptest.NewRequest(http.MethodPost, "/data/api/v1/telemetry/resume?group=vitals", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, p.IsPaused("vitals"))

	out := decodeResult(t, rec)
	result := out["result"].(map[string]any)
	assert.Equal(t, "live", result["state"])
}

func TestGetLatest(t *testing.T) {
	p := newTestPipeline(t)
	v1, v2 := 97.0, 72.0
	p.Ingest("spo2", 1000, &v1)
	p.Ingest("bpm", 2000, &v2)

	router := newTestRouter(t, p, nil)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/telemetry/latest", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeResult(t, rec)
	result := out["result"].(map[string]any)

	spo2 := result["spo2"].(map[string]any)
	assert.Equal(t, float64(1000), spo2["timestamp"])
	assert.Equal(t, 97.0, spo2["value"])
}

func TestExport(t *testing.T) {
	p := newTestPipeline(t)
	for i := int64(0); i < 5; i++ {
		v := 96.0 + float64(i)
		p.Ingest("spo2", 1000+i*1000, &v)
	}

	router := newTestRouter(t, p, nil)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/telemetry/export?channel=spo2&from=1000&to=3000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"),
	)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "telemetry_spo2_1000_3000.xlsx")
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestExport_MissingChannel(t *testing.T) {
	router := newTestRouter(t, newTestPipeline(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/telemetry/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport_InvalidRange(t *testing.T) {
	router := newTestRouter(t, newTestPipeline(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/telemetry/export?channel=spo2&from=5000&to=1000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
