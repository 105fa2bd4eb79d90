package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/config"
	"wisefido-telemetry/internal/models"
	"wisefido-telemetry/internal/mqttx"
	"wisefido-telemetry/internal/redisx"
)

// MQTTConsumer 设备侧 MQTT 桥接器
// 订阅 telemetry/{device}/vitals，把设备负载转换为标准信封写入 Redis Stream；
// 管线只消费 Stream，一条路径进缓冲
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqttx.Client
	redisClient *redis.Client
	logger      *zap.Logger
	ctx         context.Context
}

// NewMQTTConsumer 创建 MQTT 桥接器
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttx.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 订阅设备遥测主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.ctx = ctx
	topic := c.config.Telemetry.MQTTTopic
	if err := c.mqttClient.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", topic))
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	topic := c.config.Telemetry.MQTTTopic
	if err := c.mqttClient.Unsubscribe(topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from topic %s: %w", topic, err)
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理单条设备消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		return fmt.Errorf("failed to extract device id: %w", err)
	}

	msg, err := buildEnvelope(deviceID, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to build envelope for device %s: %w", deviceID, err)
	}

	if _, err := redisx.PublishJSONToStream(
		c.ctx,
		c.redisClient,
		c.config.Telemetry.Stream.Input,
		msg,
	); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	c.logger.Debug("Bridged device frame",
		zap.String("device_id", deviceID),
		zap.Int("channels", len(msg.Channels)),
	)

	return nil
}

// deviceIDFromTopic 从 telemetry/{device}/vitals 提取设备ID
func deviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("unexpected topic format: %s", topic)
	}
	return parts[1], nil
}

// buildEnvelope 把设备负载（平铺的 vital→数值 JSON 对象）转换为标准信封
// 非数值字段跳过；无任何有效读数视为坏帧
func buildEnvelope(deviceID string, payload []byte, receivedAt int64) (*models.TelemetryMessage, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device payload: %w", err)
	}

	ts := receivedAt
	if v, ok := raw["timestamp"]; ok {
		if f, ok := v.(float64); ok {
			ts = int64(f)
		}
		delete(raw, "timestamp")
	}

	channels := make(map[string]models.ChannelReading, len(raw))
	for key, v := range raw {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		value := f
		channels[key] = models.ChannelReading{Value: &value, Timestamp: ts}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no numeric readings in payload")
	}

	return &models.TelemetryMessage{
		Type:      models.MessageTypeTelemetry,
		DeviceID:  deviceID,
		Timestamp: ts,
		Channels:  channels,
	}, nil
}
