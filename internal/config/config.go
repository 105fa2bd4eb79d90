package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 遥测服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string
	}

	Telemetry struct {
		// Redis Streams 入站配置
		Stream struct {
			Input         string
			ConsumerGroup string
			ConsumerName  string
			BatchSize     int64
		}

		// MQTT 桥接（床旁设备 → Stream 信封）
		MQTTTopic string

		// 管线参数
		BufferCapacity int
		LiveSpan       time.Duration
		ResumeDelay    time.Duration
		Group          string

		// 会话回填的通道清单（逗号分隔）
		BackfillChannels []string

		// 实时缓存配置
		Cache struct {
			KeyPrefix string
			TTL       time.Duration
		}
	}

	// 流状态 webhook（护士站告警）
	Notify struct {
		WebhookURL string
		Timeout    time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-telemetry")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8087")

	cfg.Telemetry.Stream.Input = getEnv("TELEMETRY_STREAM", "telemetry:data:stream")
	cfg.Telemetry.Stream.ConsumerGroup = getEnv("TELEMETRY_CONSUMER_GROUP", "telemetry-pipeline")
	cfg.Telemetry.Stream.ConsumerName = getEnv("TELEMETRY_CONSUMER_NAME", "telemetry-pipeline-1")
	cfg.Telemetry.Stream.BatchSize = int64(getEnvInt("TELEMETRY_BATCH_SIZE", 10))

	cfg.Telemetry.MQTTTopic = getEnv("TELEMETRY_MQTT_TOPIC", "telemetry/+/vitals")

	cfg.Telemetry.BufferCapacity = getEnvInt("TELEMETRY_BUFFER_CAPACITY", 1800)
	cfg.Telemetry.LiveSpan = time.Duration(getEnvInt("TELEMETRY_LIVE_SPAN_SECONDS", 120)) * time.Second
	cfg.Telemetry.ResumeDelay = time.Duration(getEnvInt("TELEMETRY_RESUME_DELAY_SECONDS", 15)) * time.Second
	cfg.Telemetry.Group = getEnv("TELEMETRY_GROUP", "vitals")

	if channels := getEnv("TELEMETRY_BACKFILL_CHANNELS", ""); channels != "" {
		for _, ch := range strings.Split(channels, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				cfg.Telemetry.BackfillChannels = append(cfg.Telemetry.BackfillChannels, ch)
			}
		}
	}

	cfg.Telemetry.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "telemetry:channel:")
	cfg.Telemetry.Cache.TTL = time.Duration(getEnvInt("CACHE_TTL_SECONDS", 30)) * time.Second

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Notify.Timeout = time.Duration(getEnvInt("NOTIFY_TIMEOUT_SECONDS", 5)) * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
