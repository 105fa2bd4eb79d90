package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTelemetryRoutes 注册遥测控制面与数据面路由
func (r *Router) RegisterTelemetryRoutes(h *TelemetryHandler, ws *ViewportHandler, e *ExportHandler) {
	// 状态面：同步组状态 + 流接入健康度
	r.Handle("/data/api/v1/telemetry/status", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetStatus(w, req)
	})

	// "back to live" 控件
	r.Handle("/data/api/v1/telemetry/resume", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Resume(w, req)
	})

	// 每通道最新读数（卡片数字用，不走 WebSocket）
	r.Handle("/data/api/v1/telemetry/latest", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetLatest(w, req)
	})

	// 图表 viewport 接入
	r.Handle("/data/api/v1/telemetry/ws", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ws.Serve(w, req)
	})

	// 窗口数据导出
	r.Handle("/data/api/v1/telemetry/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		e.Export(w, req)
	})
}
