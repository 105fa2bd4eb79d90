package buffer

import (
	"iter"

	"wisefido-telemetry/internal/models"
)

// DefaultCapacity 默认容量：30 分钟 @ 1Hz
const DefaultCapacity = 1800

// SampleBuffer 单通道有界时序缓冲区
// 按插入顺序保存 (timestamp, value) 采样点，超出容量时批量淘汰最旧数据。
// 时间戳不做排序：乱序帧按到达顺序原样追加（见 DESIGN.md）。
//
// 非并发安全：仅由拥有它的 run loop 协程读写。
type SampleBuffer struct {
	samples  []models.Sample
	capacity int
}

// NewSampleBuffer 创建缓冲区，capacity <= 0 时使用默认容量
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SampleBuffer{
		samples:  make([]models.Sample, 0, capacity),
		capacity: capacity,
	}
}

// Append 追加一个采样点；超出容量时一次性移除最旧的 len-capacity 条
// Append 不会失败：时间戳合法性由上层校验
func (b *SampleBuffer) Append(timestamp int64, value *float64) {
	b.samples = append(b.samples, models.Sample{Timestamp: timestamp, Value: value})
	if excess := len(b.samples) - b.capacity; excess > 0 {
		// 批量淘汰：整体前移一次，而不是逐条删除
		n := copy(b.samples, b.samples[excess:])
		b.samples = b.samples[:n]
	}
}

// Range 返回时间戳落在 [from, to] 内的采样点序列（插入顺序）
// 序列为惰性只读视图，可重复迭代，不消耗缓冲区
func (b *SampleBuffer) Range(from, to int64) iter.Seq[models.Sample] {
	return func(yield func(models.Sample) bool) {
		for _, s := range b.samples {
			if s.Timestamp < from || s.Timestamp > to {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Snapshot 返回 [from, to] 内采样点的副本切片（导出等一次性用途）
func (b *SampleBuffer) Snapshot(from, to int64) []models.Sample {
	var out []models.Sample
	for s := range b.Range(from, to) {
		out = append(out, s)
	}
	return out
}

// Latest 返回最新追加的采样点；缓冲区为空时第二个返回值为 false
func (b *SampleBuffer) Latest() (models.Sample, bool) {
	if len(b.samples) == 0 {
		return models.Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Clear 清空缓冲区（通道语义变更时使用，避免新旧数据混杂）
func (b *SampleBuffer) Clear() {
	b.samples = b.samples[:0]
}

// Len 当前采样点数量
func (b *SampleBuffer) Len() int {
	return len(b.samples)
}

// Cap 容量上限
func (b *SampleBuffer) Cap() int {
	return b.capacity
}
