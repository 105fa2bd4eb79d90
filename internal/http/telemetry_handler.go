package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/consumer"
	"wisefido-telemetry/internal/pipeline"
)

// StreamStatusProvider 流接入健康度来源
type StreamStatusProvider interface {
	Status() consumer.Status
	Metrics() consumer.Metrics
}

// TelemetryHandler 遥测控制面接口
type TelemetryHandler struct {
	pipeline *pipeline.Pipeline
	stream   StreamStatusProvider
	logger   *zap.Logger
}

func NewTelemetryHandler(p *pipeline.Pipeline, stream StreamStatusProvider, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{pipeline: p, stream: stream, logger: logger}
}

// statusModel 状态面响应
type statusModel struct {
	Group  pipeline.GroupStatus `json:"group"`
	Stream streamModel          `json:"stream"`
}

type streamModel struct {
	Status            string `json:"status"`
	MessagesProcessed int64  `json:"messages_processed"`
	MessagesFailed    int64  `json:"messages_failed"`
	SamplesIngested   int64  `json:"samples_ingested"`
}

// GET /data/api/v1/telemetry/status
// params:
// - group? string (default "vitals")
func (h *TelemetryHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = pipeline.DefaultGroup
	}

	resp := statusModel{
		Group: h.pipeline.Status(group),
	}
	if h.stream != nil {
		m := h.stream.Metrics()
		resp.Stream = streamModel{
			Status:            string(h.stream.Status()),
			MessagesProcessed: m.MessagesProcessed,
			MessagesFailed:    m.MessagesFailed,
			SamplesIngested:   m.SamplesIngested,
		}
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}

// POST /data/api/v1/telemetry/resume
// params:
// - group? string (default "vitals")
func (h *TelemetryHandler) Resume(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = pipeline.DefaultGroup
	}

	h.pipeline.ResumeLive(group)
	h.logger.Info("Resume requested", zap.String("group", group))

	writeJSON(w, http.StatusOK, Ok(h.pipeline.Status(group)))
}

// GET /data/api/v1/telemetry/latest
func (h *TelemetryHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.pipeline.LatestSamples()))
}
