package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/config"
	"wisefido-telemetry/internal/models"
	"wisefido-telemetry/internal/redisx"
)

// Status 流连接状态（供状态面展示：断流时图表标记为 stale）
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusReady        Status = "ready"
	StatusDisconnected Status = "disconnected"
)

// Ingestor 管线入口（便于单元测试注入）
type Ingestor interface {
	Ingest(channel string, timestamp int64, value *float64)
}

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数（格式错误等）
	SamplesIngested   int64 // 写入缓冲的采样点数
	SamplesSkipped    int64 // 跳过的采样点数（空通道键、空读数）

	// 错误分类统计
	ErrorsParse   int64 // 信封解析错误
	ErrorsChannel int64 // 通道键错误

	// 性能指标
	LastProcessTime time.Time

	// 启动时间
	StartTime time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed: m.MessagesProcessed,
		MessagesSucceeded: m.MessagesSucceeded,
		MessagesFailed:    m.MessagesFailed,
		SamplesIngested:   m.SamplesIngested,
		SamplesSkipped:    m.SamplesSkipped,
		ErrorsParse:       m.ErrorsParse,
		ErrorsChannel:     m.ErrorsChannel,
		LastProcessTime:   m.LastProcessTime,
		StartTime:         m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(samples int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.SamplesIngested += int64(samples)
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "channel":
		m.ErrorsChannel++
	}
}

// IncrementSkipped 增加跳过计数
func (m *Metrics) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SamplesSkipped++
}

// StreamConsumer Redis Streams 消费者：入站遥测的唯一入口
// 解析信封、按通道键分发进管线、写实时缓存；
// 单条坏帧丢弃并计数，不中断流水线
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	pipeline    Ingestor
	cache       *CacheManager
	logger      *zap.Logger
	metrics     *Metrics

	statusMu       sync.RWMutex
	status         Status
	onStatusChange func(Status)
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	pipeline Ingestor,
	cache *CacheManager,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		pipeline:    pipeline,
		cache:       cache,
		logger:      logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		status: StatusConnecting,
	}
}

// Status 当前连接状态
func (c *StreamConsumer) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Metrics 指标快照
func (c *StreamConsumer) Metrics() Metrics {
	return c.metrics.GetSnapshot()
}

// OnStatusChange 注册状态变更回调（webhook 通知等）
func (c *StreamConsumer) OnStatusChange(fn func(Status)) {
	c.onStatusChange = fn
}

// Start 启动消费循环；阻塞直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Telemetry.Stream.Input
	if err := redisx.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Telemetry.Stream.ConsumerGroup); err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}
	c.setStatus(StatusReady)

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.Telemetry.Stream.ConsumerGroup),
		zap.String("consumer_name", c.config.Telemetry.Stream.ConsumerName),
		zap.String("stream", stream),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	// 指数退避的消费循环（兼作断流重连策略）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.setStatus(StatusDisconnected)
			return nil
		default:
			if err := c.consumeStream(ctx, stream); err != nil {
				c.setStatus(StatusDisconnected)
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				c.setStatus(StatusReady)
				backoffDuration = time.Second
			}
		}
	}
}

// Stop 停止消费者（消费循环由 ctx 取消驱动退出）
func (c *StreamConsumer) Stop(ctx context.Context) error {
	c.setStatus(StatusDisconnected)
	c.logger.Info("Stream consumer stopped")
	return nil
}

// consumeStream 读取并处理一批消息
func (c *StreamConsumer) consumeStream(ctx context.Context, stream string) error {
	messages, err := redisx.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Telemetry.Stream.ConsumerGroup,
		c.config.Telemetry.Stream.ConsumerName,
		c.config.Telemetry.Stream.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		if err := c.processMessage(ctx, msg.Values); err != nil {
			c.logger.Warn("Dropped malformed frame",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}
		if err := redisx.AckMessage(ctx, c.redisClient, stream, c.config.Telemetry.Stream.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条信封消息
// 信封不合法（缺通道、值非数值）：丢弃计数，返回错误供上层记日志；
// 合法的 (channel, timestamp, value) 三元组逐个进管线
func (c *StreamConsumer) processMessage(ctx context.Context, values map[string]interface{}) error {
	msg, err := models.ParseTelemetryMessage(values)
	if err != nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("failed to parse telemetry envelope: %w", err)
	}

	envelopeTs := msg.Timestamp
	if envelopeTs == 0 {
		// 负载未携带时间戳时以接收时刻为准
		envelopeTs = time.Now().UnixMilli()
	}

	ingested := 0
	for channel, reading := range msg.Channels {
		if channel == "" {
			c.metrics.IncrementFailed("channel")
			c.logger.Warn("Dropping reading with empty channel key",
				zap.String("device_id", msg.DeviceID),
			)
			continue
		}
		if reading.Value == nil {
			// 该 tick 无读数：不写入缓冲
			c.metrics.IncrementSkipped()
			continue
		}

		ts := reading.Timestamp
		if ts == 0 {
			ts = envelopeTs
		}

		c.pipeline.Ingest(channel, ts, reading.Value)
		ingested++

		if c.cache != nil {
			if err := c.cache.UpdateLatest(ctx, channel, models.Sample{Timestamp: ts, Value: reading.Value}); err != nil {
				c.logger.Warn("Failed to update realtime cache",
					zap.String("channel", channel),
					zap.Error(err),
				)
			}
		}
	}

	c.metrics.IncrementSucceeded(ingested)

	c.logger.Debug("Processed telemetry frame",
		zap.String("device_id", msg.DeviceID),
		zap.Int("samples", ingested),
	)

	return nil
}

func (c *StreamConsumer) setStatus(s Status) {
	c.statusMu.Lock()
	changed := c.status != s
	c.status = s
	c.statusMu.Unlock()

	if changed {
		c.logger.Info("Stream status changed", zap.String("status", string(s)))
		if c.onStatusChange != nil {
			c.onStatusChange(s)
		}
	}
}

// reportMetrics 定期报告指标（每60秒）
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("samples_ingested", snapshot.SamplesIngested),
				zap.Int64("samples_skipped", snapshot.SamplesSkipped),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_channel", snapshot.ErrorsChannel),
				zap.Duration("uptime", uptime),
			)
		}
	}
}
