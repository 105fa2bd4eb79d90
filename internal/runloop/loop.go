package runloop

import (
	"errors"
	"sync"
)

// ErrLoopStopped 向已停止的 loop 投递任务
var ErrLoopStopped = errors.New("run loop is stopped")

// Loop 单协程协作式事件循环
// 管线的全部可变状态（缓冲区、同步总线、跟随状态机）都约束在 loop 任务内，
// 因此组件之间无需加锁；需要防范的是回调重入，而非并行访问。
//
// 任务内再次 Post 的任务会在当前任务返回之后的 tick 执行——
// 这是"当前调用栈展开后再清除抑制标志"的原语。
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// New 创建未启动的 loop
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start 启动 loop 协程
func (l *Loop) Start() {
	go l.run()
}

// Post 投递任务；可从任意协程调用，也可从 loop 任务内部调用
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop 停止 loop；已入队的任务会先执行完。幂等，阻塞到 loop 退出
func (l *Loop) Stop() {
	l.mu.Lock()
	already := l.stopped
	l.stopped = true
	l.mu.Unlock()

	if !already {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		if len(batch) == 0 {
			if stopped {
				return
			}
			<-l.wake
			continue
		}

		for _, fn := range batch {
			fn()
		}
	}
}
