package viewsync

import (
	"wisefido-telemetry/internal/models"
)

// ViewportAdapter 图表渲染方的坐标轴对象
// 引擎只依赖这组窄接口：读写可见窗口、订阅用户驱动的窗口变更，
// 不触及渲染、样式或坐标轴标签
type ViewportAdapter interface {
	// Window 当前可见窗口
	Window() models.Window

	// SetWindow 程序化设置可见窗口
	// 返回错误不会中断总线对其余 viewport 的传播
	SetWindow(w models.Window) error

	// OnUserWindowChange 注册用户拖拽/缩放的窗口变更回调
	// 回调必须在 run loop 上触发
	OnUserWindowChange(fn func(w models.Window))
}

// Handle viewport 注册凭据，用于注销
// 图表组件持有它并在卸载时注销，避免总线内悬挂引用
type Handle struct {
	id      string
	groupID string
}

// GroupID 该 viewport 所属的同步组
func (h Handle) GroupID() string {
	return h.groupID
}
