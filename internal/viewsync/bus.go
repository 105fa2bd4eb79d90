package viewsync

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
)

// DefaultSpan 首个 viewport 注册时默认窗口的跨度（now-2m .. now）
const DefaultSpan = 2 * time.Minute

// ErrGroupNotFound 向未知同步组发布窗口——属于接线错误，调用方应视为致命
var ErrGroupNotFound = errors.New("synchronization group not found")

// Bus 视口窗口同步总线
// 每个同步组维护唯一的规范窗口，变更扇出到组内全部已注册 viewport；
// 组级抑制标志防止程序化 SetWindow 被误判为用户编辑而重新触发传播。
//
// 非并发安全：全部方法都必须在 run loop 任务内调用。
type Bus struct {
	deferTask func(func())
	now       func() time.Time
	logger    *zap.Logger

	groups  map[string]*group
	handles map[string]*viewport

	// 用户拖拽/缩放时先于传播触发（auto-follow 控制器挂接点）
	userChangeHook func(groupID string, w models.Window)
}

type group struct {
	id        string
	window    models.Window
	suppress  bool
	viewports map[string]*viewport
}

type viewport struct {
	id      string
	groupID string
	adapter ViewportAdapter
}

// NewBus 创建同步总线
// deferTask 把闭包投递到下一个调度 tick（由 run loop 提供），
// 用于在扇出完成、当前调用栈展开之后清除抑制标志
func NewBus(deferTask func(func()), now func() time.Time, logger *zap.Logger) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{
		deferTask: deferTask,
		now:       now,
		logger:    logger,
		groups:    make(map[string]*group),
		handles:   make(map[string]*viewport),
	}
}

// SetUserChangeHook 注册用户窗口变更钩子（传播之前触发一次）
func (b *Bus) SetUserChangeHook(fn func(groupID string, w models.Window)) {
	b.userChangeHook = fn
}

// Register 注册 viewport 到同步组，立即推送当前规范窗口
// 组内首个注册者使用默认窗口 now-2m..now
func (b *Bus) Register(groupID string, adapter ViewportAdapter) Handle {
	g, ok := b.groups[groupID]
	if !ok {
		g = &group{
			id:        groupID,
			viewports: make(map[string]*viewport),
		}
		b.groups[groupID] = g
	}

	vp := &viewport{
		id:      uuid.NewString(),
		groupID: groupID,
		adapter: adapter,
	}
	g.viewports[vp.id] = vp
	b.handles[vp.id] = vp

	if g.window.IsZero() {
		end := b.now().UnixMilli()
		g.window = models.Window{Start: end - DefaultSpan.Milliseconds(), End: end}
	}

	// 初始窗口同样是程序化赋值，需抑制回声
	b.suppressDuring(g, func() {
		if err := vp.adapter.SetWindow(g.window); err != nil {
			b.logger.Warn("Failed to set initial window on viewport",
				zap.String("viewport_id", vp.id),
				zap.String("group_id", groupID),
				zap.Error(err),
			)
		}
	})

	handleID := vp.id
	adapter.OnUserWindowChange(func(w models.Window) {
		b.userChanged(handleID, w)
	})

	b.logger.Debug("Viewport registered",
		zap.String("viewport_id", vp.id),
		zap.String("group_id", groupID),
		zap.Int("group_size", len(g.viewports)),
	)

	return Handle{id: vp.id, groupID: groupID}
}

// Unregister 注销 viewport；幂等，可在总线扇出期间安全调用
func (b *Bus) Unregister(h Handle) {
	vp, ok := b.handles[h.id]
	if !ok {
		return
	}
	delete(b.handles, h.id)

	if g, ok := b.groups[vp.groupID]; ok {
		delete(g.viewports, vp.id)
	}

	b.logger.Debug("Viewport unregistered",
		zap.String("viewport_id", vp.id),
		zap.String("group_id", vp.groupID),
	)
}

// Publish 设置同步组的规范窗口并扇出到组内全部 viewport
// 单个 adapter 失败只记日志，不阻断其余 adapter，也不向调用方抛出
func (b *Bus) Publish(groupID string, w models.Window) error {
	g, ok := b.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	b.publishTo(g, w)
	return nil
}

// Window 返回同步组当前的规范窗口
func (b *Bus) Window(groupID string) (models.Window, error) {
	g, ok := b.groups[groupID]
	if !ok {
		return models.Window{}, ErrGroupNotFound
	}
	return g.window, nil
}

// GroupSize 组内已注册 viewport 数（状态展示用）
func (b *Bus) GroupSize(groupID string) int {
	g, ok := b.groups[groupID]
	if !ok {
		return 0
	}
	return len(g.viewports)
}

// publishTo 扇出实现
// 扇出顺序不保证；窗口赋值幂等，重复设置同一窗口无副作用
func (b *Bus) publishTo(g *group, w models.Window) {
	g.window = w

	// 复制快照再迭代：扇出期间的注销不会破坏遍历
	targets := make([]*viewport, 0, len(g.viewports))
	for _, vp := range g.viewports {
		targets = append(targets, vp)
	}

	b.suppressDuring(g, func() {
		for _, vp := range targets {
			if _, still := b.handles[vp.id]; !still {
				continue
			}
			if err := vp.adapter.SetWindow(w); err != nil {
				b.logger.Warn("Failed to propagate window to viewport",
					zap.String("viewport_id", vp.id),
					zap.String("group_id", g.id),
					zap.Error(err),
				)
			}
		}
	})
}

// suppressDuring 在扇出期间置位抑制标志，并在下一 tick 清除
// 同步清除不够：adapter 的变更通知可能在当前调用栈内回流
func (b *Bus) suppressDuring(g *group, fanout func()) {
	g.suppress = true
	fanout()
	b.deferTask(func() {
		g.suppress = false
	})
}

// userChanged 处理某个 viewport 上报的用户窗口变更
func (b *Bus) userChanged(handleID string, w models.Window) {
	vp, ok := b.handles[handleID]
	if !ok {
		// viewport 已在回调派发前注销
		return
	}
	g, ok := b.groups[vp.groupID]
	if !ok {
		return
	}

	if g.suppress {
		// 总线自身的传播回声，忽略
		return
	}
	if !w.Valid() {
		b.logger.Warn("Ignoring invalid user window",
			zap.String("viewport_id", handleID),
			zap.Int64("start", w.Start),
			zap.Int64("end", w.End),
		)
		return
	}

	if b.userChangeHook != nil {
		b.userChangeHook(g.id, w)
	}

	// 用户选择的窗口同样传播给兄弟 viewport：暂停期间各图表仍保持步调一致
	b.publishTo(g, w)
}
