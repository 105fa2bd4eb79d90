package follow

import (
	"time"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
)

// State 跟随状态
type State string

const (
	// StateLive 可见窗口自动跟踪最新采样
	StateLive State = "live"
	// StatePaused 用户拖离后窗口保持不动，静默期满自动回到 live
	StatePaused State = "paused"
)

const (
	// DefaultLiveSpan live 模式下窗口跨度（容量约束内存，跨度约束可见范围）
	DefaultLiveSpan = 2 * time.Minute
	// DefaultResumeDelay 用户最后一次交互后多久自动恢复 live
	DefaultResumeDelay = 15 * time.Second
)

// Controller 单个同步组的自动跟随状态机
// 两个状态、四条迁移：它只决定窗口"何时"跟踪 now，
// 窗口"如何"扇出是同步总线的职责。
//
// 非并发安全：全部方法在 run loop 任务内调用；
// 定时器回调经由 post 搬回 loop。
type Controller struct {
	groupID     string
	liveSpan    time.Duration
	resumeDelay time.Duration

	clock   Clock
	post    func(func())
	publish func(groupID string, w models.Window) error
	logger  *zap.Logger

	state       State
	pausedUntil int64 // 毫秒时间戳；0 表示未暂停
	timer       Timer
	gen         uint64 // 重新武装后旧定时器回调作废
	closed      bool
}

// NewController 创建状态机，初始状态 live
// liveSpan/resumeDelay 传 0 使用默认值
func NewController(
	groupID string,
	liveSpan time.Duration,
	resumeDelay time.Duration,
	clock Clock,
	post func(func()),
	publish func(groupID string, w models.Window) error,
	logger *zap.Logger,
) *Controller {
	if liveSpan <= 0 {
		liveSpan = DefaultLiveSpan
	}
	if resumeDelay <= 0 {
		resumeDelay = DefaultResumeDelay
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Controller{
		groupID:     groupID,
		liveSpan:    liveSpan,
		resumeDelay: resumeDelay,
		clock:       clock,
		post:        post,
		publish:     publish,
		logger:      logger,
		state:       StateLive,
	}
}

// State 当前状态
func (c *Controller) State() State {
	return c.state
}

// IsPaused 是否处于暂停（UI 据此显示"回到实时"入口）
func (c *Controller) IsPaused() bool {
	return c.state == StatePaused
}

// PausedUntil 自动恢复的绝对时刻（毫秒）；未暂停时为 0
func (c *Controller) PausedUntil() int64 {
	return c.pausedUntil
}

// OnSample 新采样到达
// live：窗口重算为 [latest-liveSpan, latest] 并发布；
// paused：缓冲区照常累积，可见窗口不再自动前移
func (c *Controller) OnSample(latestTs int64) {
	if c.closed || c.state != StateLive {
		return
	}
	w := models.Window{Start: latestTs - c.liveSpan.Milliseconds(), End: latestTs}
	if err := c.publish(c.groupID, w); err != nil {
		c.logger.Error("Failed to publish live window",
			zap.String("group_id", c.groupID),
			zap.Error(err),
		)
	}
}

// OnUserInteraction 用户在任一 viewport 拖拽/缩放
// live → paused；已暂停时重置倒计时（触发恢复的是"无操作"，
// 不是距首次暂停的时长）
func (c *Controller) OnUserInteraction() {
	if c.closed {
		return
	}

	deadline := c.clock.Now().Add(c.resumeDelay)
	c.pausedUntil = deadline.UnixMilli()

	if c.state != StatePaused {
		c.state = StatePaused
		c.logger.Info("Auto-follow paused by user interaction",
			zap.String("group_id", c.groupID),
			zap.Int64("paused_until", c.pausedUntil),
		)
	}

	c.armTimer()
}

// Resume 显式回到 live（"back to live"控件），取消挂起的定时器
func (c *Controller) Resume() {
	if c.closed || c.state != StatePaused {
		return
	}
	c.cancelTimer()
	c.toLive("explicit resume")
}

// Close 视口拆除：同步取消挂起的定时器，之后的回调一律作废
func (c *Controller) Close() {
	c.closed = true
	c.cancelTimer()
}

func (c *Controller) armTimer() {
	c.cancelTimer()

	gen := c.gen
	c.timer = c.clock.AfterFunc(c.resumeDelay, func() {
		// 回调可能在任意协程触发，搬回 run loop 再判定
		c.post(func() {
			c.timerFired(gen)
		})
	})
}

func (c *Controller) cancelTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Controller) timerFired(gen uint64) {
	if gen != c.gen {
		// 已被重新武装或取消的旧定时器
		return
	}
	if c.closed || c.state != StatePaused {
		return
	}
	if c.clock.Now().UnixMilli() < c.pausedUntil {
		// 被更晚的交互重新武装过，等新定时器
		return
	}
	c.timer = nil
	c.toLive("inactivity")
}

func (c *Controller) toLive(reason string) {
	c.state = StateLive
	c.pausedUntil = 0
	c.logger.Info("Auto-follow resumed",
		zap.String("group_id", c.groupID),
		zap.String("reason", reason),
	)
}
