package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "owlrd", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "wisefido-telemetry", cfg.MQTT.ClientID)

	assert.Equal(t, ":8087", cfg.HTTP.Addr)

	assert.Equal(t, "telemetry:data:stream", cfg.Telemetry.Stream.Input)
	assert.Equal(t, "telemetry-pipeline", cfg.Telemetry.Stream.ConsumerGroup)
	assert.Equal(t, int64(10), cfg.Telemetry.Stream.BatchSize)
	assert.Equal(t, "telemetry/+/vitals", cfg.Telemetry.MQTTTopic)

	assert.Equal(t, 1800, cfg.Telemetry.BufferCapacity)
	assert.Equal(t, 2*time.Minute, cfg.Telemetry.LiveSpan)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ResumeDelay)
	assert.Equal(t, "vitals", cfg.Telemetry.Group)
	assert.Empty(t, cfg.Telemetry.BackfillChannels)

	assert.Equal(t, "telemetry:channel:", cfg.Telemetry.Cache.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.Cache.TTL)

	assert.Equal(t, "", cfg.Notify.WebhookURL)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "15432")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("TELEMETRY_STREAM", "test:stream")
	os.Setenv("TELEMETRY_BUFFER_CAPACITY", "600")
	os.Setenv("TELEMETRY_LIVE_SPAN_SECONDS", "60")
	os.Setenv("TELEMETRY_RESUME_DELAY_SECONDS", "30")
	os.Setenv("TELEMETRY_BACKFILL_CHANNELS", "spo2, bpm,rr")
	os.Setenv("NOTIFY_WEBHOOK_URL", "http://nurse-station/hook")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "test:stream", cfg.Telemetry.Stream.Input)
	assert.Equal(t, 600, cfg.Telemetry.BufferCapacity)
	assert.Equal(t, time.Minute, cfg.Telemetry.LiveSpan)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.ResumeDelay)
	assert.Equal(t, []string{"spo2", "bpm", "rr"}, cfg.Telemetry.BackfillChannels)
	assert.Equal(t, "http://nurse-station/hook", cfg.Notify.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)

	os.Clearenv()
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "u",
		Password: "p",
		Database: "owlrd",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=owlrd sslmode=disable", c.GetDSN())
}

func TestGetEnvInt_Invalid(t *testing.T) {
	os.Clearenv()
	os.Setenv("TELEMETRY_BUFFER_CAPACITY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	// 非法数值回落到默认值
	assert.Equal(t, 1800, cfg.Telemetry.BufferCapacity)

	os.Clearenv()
}
