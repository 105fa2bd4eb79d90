package pipeline

import (
	"time"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/buffer"
	"wisefido-telemetry/internal/follow"
	"wisefido-telemetry/internal/models"
	"wisefido-telemetry/internal/runloop"
	"wisefido-telemetry/internal/viewsync"
)

// DefaultGroup 缺省同步组：仪表盘上的生命体征图表共享一个可见窗口
const DefaultGroup = "vitals"

// Config 管线配置
type Config struct {
	BufferCapacity int           // 每通道缓冲容量，默认 1800（30 分钟 @ 1Hz）
	LiveSpan       time.Duration // live 窗口跨度，默认 2 分钟
	ResumeDelay    time.Duration // 交互后自动恢复延迟，默认 15 秒
	DefaultGroup   string        // 通道所属同步组，默认 "vitals"
}

// GroupStatus 同步组状态快照（控制面用）
type GroupStatus struct {
	Group       string        `json:"group"`
	State       follow.State  `json:"state"`
	Paused      bool          `json:"paused"`
	PausedUntil int64         `json:"paused_until,omitempty"`
	Window      models.Window `json:"window"`
	Viewports   int           `json:"viewports"`
	Channels    []string      `json:"channels"`
}

// Pipeline 遥测管线：按通道的有界缓冲 + 窗口同步总线 + 自动跟随状态机
// 全部可变状态约束在内部 run loop；对外方法线程安全，
// 读取类方法通过投递任务 + 应答通道同步取值。
type Pipeline struct {
	cfg    Config
	loop   *runloop.Loop
	bus    *viewsync.Bus
	clock  follow.Clock
	logger *zap.Logger

	// 以下仅在 loop 任务内访问
	buffers     map[string]*buffer.SampleBuffer
	controllers map[string]*follow.Controller
	latestTs    map[string]int64 // 同步组内已见的最大采样时间戳
}

// New 创建管线（未启动）
func New(cfg Config, clock follow.Clock, logger *zap.Logger) *Pipeline {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = buffer.DefaultCapacity
	}
	if cfg.LiveSpan <= 0 {
		cfg.LiveSpan = follow.DefaultLiveSpan
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = follow.DefaultResumeDelay
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = DefaultGroup
	}
	if clock == nil {
		clock = follow.RealClock{}
	}

	p := &Pipeline{
		cfg:         cfg,
		loop:        runloop.New(),
		clock:       clock,
		logger:      logger,
		buffers:     make(map[string]*buffer.SampleBuffer),
		controllers: make(map[string]*follow.Controller),
		latestTs:    make(map[string]int64),
	}
	p.bus = viewsync.NewBus(p.deferTask, clock.Now, logger)
	p.bus.SetUserChangeHook(func(groupID string, _ models.Window) {
		p.controllerFor(groupID).OnUserInteraction()
	})
	return p
}

// Start 启动 run loop
func (p *Pipeline) Start() {
	p.loop.Start()
	p.logger.Info("Telemetry pipeline started",
		zap.Int("buffer_capacity", p.cfg.BufferCapacity),
		zap.Duration("live_span", p.cfg.LiveSpan),
		zap.Duration("resume_delay", p.cfg.ResumeDelay),
	)
}

// Stop 停止管线：取消全部挂起的恢复定时器后停掉 loop
func (p *Pipeline) Stop() {
	_ = p.loop.Post(func() {
		for _, c := range p.controllers {
			c.Close()
		}
	})
	p.loop.Stop()
	p.logger.Info("Telemetry pipeline stopped")
}

// Ingest 单个采样点入管线：写缓冲，live 状态下重算并发布窗口
func (p *Pipeline) Ingest(channel string, timestamp int64, value *float64) {
	err := p.loop.Post(func() {
		p.bufferFor(channel).Append(timestamp, value)

		group := p.cfg.DefaultGroup
		if timestamp > p.latestTs[group] {
			p.latestTs[group] = timestamp
		}
		p.controllerFor(group).OnSample(p.latestTs[group])
	})
	if err != nil {
		p.logger.Debug("Dropping sample, pipeline stopped", zap.String("channel", channel))
	}
}

// Backfill 批量预加载历史采样（会话启动时从存储回填）
// 只追加缓冲，不逐条驱动窗口；末尾按组内最新时间戳发布一次
func (p *Pipeline) Backfill(channel string, samples []models.Sample) {
	_ = p.loop.Post(func() {
		buf := p.bufferFor(channel)
		group := p.cfg.DefaultGroup
		for _, s := range samples {
			buf.Append(s.Timestamp, s.Value)
			if s.Timestamp > p.latestTs[group] {
				p.latestTs[group] = s.Timestamp
			}
		}
		if ts := p.latestTs[group]; ts > 0 {
			p.controllerFor(group).OnSample(ts)
		}
		p.logger.Info("Backfilled channel buffer",
			zap.String("channel", channel),
			zap.Int("samples", len(samples)),
		)
	})
}

// ClearChannel 清空通道缓冲（通道语义变更，如切换监测的生命体征）
func (p *Pipeline) ClearChannel(channel string) {
	_ = p.loop.Post(func() {
		if buf, ok := p.buffers[channel]; ok {
			buf.Clear()
		}
	})
}

// RegisterViewport 注册图表 viewport 到同步组
func (p *Pipeline) RegisterViewport(groupID string, adapter viewsync.ViewportAdapter) (viewsync.Handle, error) {
	ch := make(chan viewsync.Handle, 1)
	err := p.loop.Post(func() {
		// 确保组的控制器存在：注册即参与暂停/恢复
		p.controllerFor(groupID)
		ch <- p.bus.Register(groupID, adapter)
	})
	if err != nil {
		return viewsync.Handle{}, err
	}
	return <-ch, nil
}

// UnregisterViewport 注销 viewport；幂等
func (p *Pipeline) UnregisterViewport(h viewsync.Handle) {
	_ = p.loop.Post(func() {
		p.bus.Unregister(h)
	})
}

// ResumeLive 显式回到实时跟随（"back to live"控件）
func (p *Pipeline) ResumeLive(groupID string) {
	_ = p.loop.Post(func() {
		c := p.controllerFor(groupID)
		c.Resume()
		// 立刻把窗口拉回最新采样，不等下一帧
		if ts := p.latestTs[groupID]; ts > 0 {
			c.OnSample(ts)
		}
	})
}

// NotifyUserInteraction 上层直接上报的用户交互（非 adapter 路径）
func (p *Pipeline) NotifyUserInteraction(groupID string) {
	_ = p.loop.Post(func() {
		p.controllerFor(groupID).OnUserInteraction()
	})
}

// Dispatch 把任务投递到 run loop
// viewport 的用户窗口变更回调必须在 loop 上触发，传输层经由此方法切换协程
func (p *Pipeline) Dispatch(fn func()) {
	_ = p.loop.Post(fn)
}

// IsPaused 同步组是否处于暂停
func (p *Pipeline) IsPaused(groupID string) bool {
	ch := make(chan bool, 1)
	if err := p.loop.Post(func() {
		ch <- p.controllerFor(groupID).IsPaused()
	}); err != nil {
		return false
	}
	return <-ch
}

// Status 同步组状态快照
func (p *Pipeline) Status(groupID string) GroupStatus {
	ch := make(chan GroupStatus, 1)
	if err := p.loop.Post(func() {
		c := p.controllerFor(groupID)
		win, _ := p.bus.Window(groupID)
		channels := make([]string, 0, len(p.buffers))
		for name := range p.buffers {
			channels = append(channels, name)
		}
		ch <- GroupStatus{
			Group:       groupID,
			State:       c.State(),
			Paused:      c.IsPaused(),
			PausedUntil: c.PausedUntil(),
			Window:      win,
			Viewports:   p.bus.GroupSize(groupID),
			Channels:    channels,
		}
	}); err != nil {
		return GroupStatus{Group: groupID}
	}
	return <-ch
}

// SnapshotRange 通道在 [from, to] 内采样点的副本（导出、推流用）
func (p *Pipeline) SnapshotRange(channel string, from, to int64) []models.Sample {
	ch := make(chan []models.Sample, 1)
	if err := p.loop.Post(func() {
		buf, ok := p.buffers[channel]
		if !ok {
			ch <- nil
			return
		}
		ch <- buf.Snapshot(from, to)
	}); err != nil {
		return nil
	}
	return <-ch
}

// LatestSamples 每个通道的最新采样（实时缓存刷写用）
func (p *Pipeline) LatestSamples() map[string]models.Sample {
	ch := make(chan map[string]models.Sample, 1)
	if err := p.loop.Post(func() {
		out := make(map[string]models.Sample, len(p.buffers))
		for name, buf := range p.buffers {
			if s, ok := buf.Latest(); ok {
				out[name] = s
			}
		}
		ch <- out
	}); err != nil {
		return nil
	}
	return <-ch
}

// bufferFor 惰性创建通道缓冲（通道生命周期 = 进程）
func (p *Pipeline) bufferFor(channel string) *buffer.SampleBuffer {
	buf, ok := p.buffers[channel]
	if !ok {
		buf = buffer.NewSampleBuffer(p.cfg.BufferCapacity)
		p.buffers[channel] = buf
		p.logger.Info("Channel buffer created",
			zap.String("channel", channel),
			zap.Int("capacity", p.cfg.BufferCapacity),
		)
	}
	return buf
}

// controllerFor 惰性创建同步组的跟随控制器
func (p *Pipeline) controllerFor(groupID string) *follow.Controller {
	c, ok := p.controllers[groupID]
	if !ok {
		c = follow.NewController(
			groupID,
			p.cfg.LiveSpan,
			p.cfg.ResumeDelay,
			p.clock,
			p.deferTask,
			p.publishIfWatched,
			p.logger,
		)
		p.controllers[groupID] = c
	}
	return c
}

// publishIfWatched 控制器的发布出口
// 组内尚无 viewport 时无需扇出（viewport 注册时会拿到贴近 live 的默认窗口）
func (p *Pipeline) publishIfWatched(groupID string, w models.Window) error {
	if p.bus.GroupSize(groupID) == 0 {
		return nil
	}
	return p.bus.Publish(groupID, w)
}

// deferTask 投递到 loop 的下一 tick；loop 已停止时静默丢弃
func (p *Pipeline) deferTask(fn func()) {
	_ = p.loop.Post(fn)
}
