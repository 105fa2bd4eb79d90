package follow

import "time"

// Clock 可注入时钟：生产代码用真实时钟，测试用模拟时钟驱动恢复定时器
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer 可取消的单次定时器
type Timer interface {
	Stop() bool
}

// RealClock 基于标准库 time 的时钟
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
