package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-telemetry/internal/models"
)

func fv(v float64) *float64 {
	return &v
}

func TestSampleBuffer_CapacityBound(t *testing.T) {
	b := NewSampleBuffer(5)

	// 追加 1..7，始终满足 len <= cap
	for i := int64(1); i <= 7; i++ {
		b.Append(i, fv(float64(i)*10))
		assert.LessOrEqual(t, b.Len(), b.Cap())
	}

	// 场景验证：容量 5，追加 1..7 后应保留 [(3,30)..(7,70)]
	got := b.Snapshot(0, 100)
	require.Len(t, got, 5)
	for i, s := range got {
		assert.Equal(t, int64(i+3), s.Timestamp)
		require.NotNil(t, s.Value)
		assert.Equal(t, float64(i+3)*10, *s.Value)
	}
}

func TestSampleBuffer_EvictExactlyOldest(t *testing.T) {
	b := NewSampleBuffer(4)

	// 填满 N 条，再追加 1 条：保留 [2..N+1]，淘汰第 1 条
	for i := int64(1); i <= 5; i++ {
		b.Append(i, nil)
	}

	got := b.Snapshot(0, 100)
	require.Len(t, got, 4)
	assert.Equal(t, int64(2), got[0].Timestamp)
	assert.Equal(t, int64(5), got[3].Timestamp)
}

func TestSampleBuffer_RangeFilterAndRestart(t *testing.T) {
	b := NewSampleBuffer(10)
	for i := int64(1); i <= 10; i++ {
		b.Append(i*100, fv(float64(i)))
	}

	// 闭区间过滤
	var first []int64
	for s := range b.Range(300, 700) {
		first = append(first, s.Timestamp)
	}
	assert.Equal(t, []int64{300, 400, 500, 600, 700}, first)

	// 可重复迭代，不消耗缓冲区
	var second []int64
	for s := range b.Range(300, 700) {
		second = append(second, s.Timestamp)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, 10, b.Len())
}

func TestSampleBuffer_RangeEarlyStop(t *testing.T) {
	b := NewSampleBuffer(10)
	for i := int64(1); i <= 10; i++ {
		b.Append(i, nil)
	}

	count := 0
	for range b.Range(1, 10) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestSampleBuffer_LatestAndClear(t *testing.T) {
	b := NewSampleBuffer(3)

	_, ok := b.Latest()
	assert.False(t, ok)

	b.Append(1, fv(97))
	b.Append(2, fv(98))
	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2), latest.Timestamp)
	assert.Equal(t, 98.0, *latest.Value)

	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok = b.Latest()
	assert.False(t, ok)
	assert.Equal(t, 3, b.Cap())
}

func TestSampleBuffer_OutOfOrderAppendPreserved(t *testing.T) {
	// 乱序帧按到达顺序原样保存，不重排
	b := NewSampleBuffer(5)
	b.Append(100, nil)
	b.Append(50, nil)
	b.Append(150, nil)

	var ts []int64
	for s := range b.Range(0, 200) {
		ts = append(ts, s.Timestamp)
	}
	assert.Equal(t, []int64{100, 50, 150}, ts)
}

func TestSampleBuffer_NilValueStored(t *testing.T) {
	// nil 值（该 tick 无读数）允许存储，由可视化层跳过
	b := NewSampleBuffer(5)
	b.Append(1, nil)

	s, ok := b.Latest()
	require.True(t, ok)
	assert.Nil(t, s.Value)
	assert.Equal(t, models.Sample{Timestamp: 1, Value: nil}, s)
}
