package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
	"wisefido-telemetry/internal/pipeline"
	"wisefido-telemetry/internal/viewsync"
)

// windowFrame viewport 连接上的双向帧
// 服务端下行：窗口同步；客户端上行：用户拖拽/缩放后的新窗口或 resume
type windowFrame struct {
	Type  string `json:"type"`
	Start int64  `json:"start,omitempty"`
	End   int64  `json:"end,omitempty"`
}

const (
	frameWindow = "window"
	frameResume = "resume"
)

// ViewportHandler 图表 viewport 的 WebSocket 接入
// 每条连接注册为同步组的一个 viewport：
// 服务端推送窗口变更，客户端上报用户交互
type ViewportHandler struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewViewportHandler(p *pipeline.Pipeline, logger *zap.Logger) *ViewportHandler {
	return &ViewportHandler{
		pipeline: p,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 仪表盘与后端同源部署，交由反向代理控制来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve GET /data/api/v1/telemetry/ws?group=
func (h *ViewportHandler) Serve(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = pipeline.DefaultGroup
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade viewport connection", zap.Error(err))
		return
	}

	adapter := newWSViewportAdapter(conn)
	handle, err := h.pipeline.RegisterViewport(group, adapter)
	if err != nil {
		h.logger.Warn("Failed to register viewport", zap.String("group", group), zap.Error(err))
		_ = conn.Close()
		return
	}

	h.logger.Info("Viewport connected", zap.String("group", group))

	// 读循环：连接生命周期 = viewport 生命周期
	go h.readPump(conn, adapter, handle, group)
}

func (h *ViewportHandler) readPump(conn *websocket.Conn, adapter *wsViewportAdapter, handle viewsync.Handle, group string) {
	defer func() {
		h.pipeline.UnregisterViewport(handle)
		_ = conn.Close()
		h.logger.Info("Viewport disconnected", zap.String("group", group))
	}()

	for {
		var frame windowFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Viewport read error", zap.String("group", group), zap.Error(err))
			}
			return
		}

		switch frame.Type {
		case frameWindow:
			win := models.Window{Start: frame.Start, End: frame.End}
			if !win.Valid() {
				h.logger.Warn("Ignoring invalid user window",
					zap.String("group", group),
					zap.Int64("start", win.Start),
					zap.Int64("end", win.End),
				)
				continue
			}
			// 回调必须在 run loop 上触发
			h.pipeline.Dispatch(func() {
				adapter.userChange(win)
			})
		case frameResume:
			h.pipeline.ResumeLive(group)
		default:
			h.logger.Debug("Ignoring unknown frame type", zap.String("type", frame.Type))
		}
	}
}

// wsViewportAdapter 把 WebSocket 连接适配为同步总线的 viewport
type wsViewportAdapter struct {
	conn *websocket.Conn

	writeMu sync.Mutex // 序列化并发写（loop 扇出 vs 控制帧）

	mu           sync.Mutex
	window       models.Window
	onUserChange func(w models.Window)
}

func newWSViewportAdapter(conn *websocket.Conn) *wsViewportAdapter {
	return &wsViewportAdapter{conn: conn}
}

// Window 当前可见窗口
func (a *wsViewportAdapter) Window() models.Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window
}

// SetWindow 程序化设置窗口并推送给客户端
func (a *wsViewportAdapter) SetWindow(w models.Window) error {
	a.mu.Lock()
	a.window = w
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteJSON(windowFrame{Type: frameWindow, Start: w.Start, End: w.End})
}

// OnUserWindowChange 注册用户窗口变更回调
func (a *wsViewportAdapter) OnUserWindowChange(fn func(w models.Window)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUserChange = fn
}

// userChange 用户交互入口；仅在 run loop 上调用
func (a *wsViewportAdapter) userChange(w models.Window) {
	a.mu.Lock()
	a.window = w
	fn := a.onUserChange
	a.mu.Unlock()

	if fn != nil {
		fn(w)
	}
}
