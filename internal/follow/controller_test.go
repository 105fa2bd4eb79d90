package follow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
)

// fakeClock 手工推进的模拟时钟
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_000_000)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance 推进模拟时间并触发到期的定时器
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			t.fn()
		}
	}
}

// firedCount 已触发的定时器数量
func (c *fakeClock) firedCount() int {
	n := 0
	for _, t := range c.timers {
		if t.fired {
			n++
		}
	}
	return n
}

type publishRecorder struct {
	windows []models.Window
	groups  []string
}

func (r *publishRecorder) publish(groupID string, w models.Window) error {
	r.groups = append(r.groups, groupID)
	r.windows = append(r.windows, w)
	return nil
}

// inlinePost 测试中定时器回调直接在当前栈执行（等价于 loop 串行化）
func inlinePost(fn func()) {
	fn()
}

func newTestController(clock *fakeClock) (*Controller, *publishRecorder) {
	rec := &publishRecorder{}
	c := NewController("vitals", 2*time.Minute, 15*time.Second, clock, inlinePost, rec.publish, zap.NewNop())
	return c, rec
}

func TestController_LivePublishesOnSample(t *testing.T) {
	clock := newFakeClock()
	c, rec := newTestController(clock)

	assert.Equal(t, StateLive, c.State())
	c.OnSample(500_000)

	require.Len(t, rec.windows, 1)
	assert.Equal(t, "vitals", rec.groups[0])
	assert.Equal(t, models.Window{
		Start: 500_000 - (2 * time.Minute).Milliseconds(),
		End:   500_000,
	}, rec.windows[0])
}

func TestController_PauseOnInteractionThenAutoResume(t *testing.T) {
	clock := newFakeClock()
	c, rec := newTestController(clock)

	c.OnUserInteraction()
	assert.Equal(t, StatePaused, c.State())
	assert.True(t, c.IsPaused())
	assert.Equal(t, clock.Now().Add(15*time.Second).UnixMilli(), c.PausedUntil())

	// 暂停期间采样不再推动窗口
	c.OnSample(600_000)
	assert.Empty(t, rec.windows)

	// 静默期满，自动回到 live
	clock.Advance(15 * time.Second)
	assert.Equal(t, StateLive, c.State())
	assert.EqualValues(t, 0, c.PausedUntil())

	c.OnSample(700_000)
	assert.Len(t, rec.windows, 1)
}

func TestController_ReinteractionResetsDeadline(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(clock)

	c.OnUserInteraction()
	first := c.PausedUntil()

	// 截止前再次交互：重置倒计时，而不是立即恢复
	clock.Advance(10 * time.Second)
	c.OnUserInteraction()
	second := c.PausedUntil()
	assert.Greater(t, second, first)

	// 原定截止时刻已过，但新的倒计时还没走完
	clock.Advance(10 * time.Second)
	assert.Equal(t, StatePaused, c.State())

	clock.Advance(5 * time.Second)
	assert.Equal(t, StateLive, c.State())
}

func TestController_ExplicitResumeCancelsTimer(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(clock)

	c.OnUserInteraction()
	c.Resume()
	assert.Equal(t, StateLive, c.State())
	assert.EqualValues(t, 0, c.PausedUntil())

	// 被取消的定时器此后不产生虚假恢复（也不会误触发任何迁移）
	prevFired := clock.firedCount()
	clock.Advance(time.Minute)
	assert.Equal(t, prevFired, clock.firedCount())
	assert.Equal(t, StateLive, c.State())
}

func TestController_ResumeWhileLiveIsNoop(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(clock)

	c.Resume()
	assert.Equal(t, StateLive, c.State())
}

func TestController_CloseCancelsPendingTimer(t *testing.T) {
	clock := newFakeClock()
	c, rec := newTestController(clock)

	c.OnUserInteraction()
	c.Close()

	clock.Advance(time.Minute)
	// 拆除后回调作废：状态不再迁移，也不发布窗口
	assert.Empty(t, rec.windows)
	c.OnSample(123)
	assert.Empty(t, rec.windows)
}

func TestController_StaleTimerIgnoredAfterRearm(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(clock)

	c.OnUserInteraction()
	// 强行触发旧代定时器回调（模拟 Stop 与触发的竞争）
	old := clock.timers[0]
	c.OnUserInteraction()
	old.fn()

	assert.Equal(t, StatePaused, c.State())
}
