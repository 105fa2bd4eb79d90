package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/config"
	"wisefido-telemetry/internal/consumer"
	httpapi "wisefido-telemetry/internal/http"
	"wisefido-telemetry/internal/mqttx"
	"wisefido-telemetry/internal/pipeline"
	"wisefido-telemetry/internal/redisx"
	"wisefido-telemetry/internal/repository"
)

// TelemetryService 遥测服务：组装管线、接入层与控制面
type TelemetryService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttx.Client

	pipeline       *pipeline.Pipeline
	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer
	historyRepo    repository.HistoryRepository
	server         *Server
}

// NewTelemetryService 创建遥测服务
func NewTelemetryService(cfg *config.Config, logger *zap.Logger) (*TelemetryService, error) {
	// 初始化Redis
	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttx.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	// 创建管线
	p := pipeline.New(pipeline.Config{
		BufferCapacity: cfg.Telemetry.BufferCapacity,
		LiveSpan:       cfg.Telemetry.LiveSpan,
		ResumeDelay:    cfg.Telemetry.ResumeDelay,
		DefaultGroup:   cfg.Telemetry.Group,
	}, nil, logger)

	// 创建CacheManager
	cacheManager := consumer.NewCacheManager(
		consumer.NewRedisKV(redisClient),
		cfg.Telemetry.Cache.KeyPrefix,
		cfg.Telemetry.Cache.TTL,
		logger,
	)

	// 创建Consumer
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, p, cacheManager, logger)
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)

	// 流状态 webhook
	if cfg.Notify.WebhookURL != "" {
		notifier := NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
		streamConsumer.OnStatusChange(func(s consumer.Status) {
			if err := notifier.NotifyStreamStatus(string(s)); err != nil {
				logger.Warn("Failed to deliver stream status webhook", zap.Error(err))
			}
		})
	}

	svc := &TelemetryService{
		config:         cfg,
		logger:         logger,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		pipeline:       p,
		streamConsumer: streamConsumer,
		mqttConsumer:   mqttConsumer,
	}

	// 会话回填需要历史库
	if len(cfg.Telemetry.BackfillChannels) > 0 {
		db, err := repository.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		svc.db = db
		svc.historyRepo = repository.NewPostgresHistoryRepository(db)
	}

	// 控制面路由
	router := httpapi.NewRouter(logger)
	router.RegisterTelemetryRoutes(
		httpapi.NewTelemetryHandler(p, streamConsumer, logger),
		httpapi.NewViewportHandler(p, logger),
		httpapi.NewExportHandler(p, logger),
	)
	svc.server = NewServer(cfg.HTTP.Addr, router, logger)

	return svc, nil
}

// Start 启动服务
func (s *TelemetryService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry service components")

	s.pipeline.Start()

	// 会话回填：把缓冲容量对应时段的历史数据预载进缓冲
	if s.historyRepo != nil {
		s.backfill(ctx)
	}

	// 设备桥接
	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}

	// 启动Stream消费者
	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			s.logger.Error("Stream consumer exited", zap.Error(err))
		}
	}()

	// 控制面
	go func() {
		if err := s.server.Start(); err != nil {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	s.logger.Info("Telemetry service started successfully")
	return nil
}

// Stop 停止服务
func (s *TelemetryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry service")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	if err := s.mqttConsumer.Stop(); err != nil {
		s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
	}
	s.mqttClient.Disconnect()

	if err := s.streamConsumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping stream consumer", zap.Error(err))
	}

	// 取消挂起的恢复定时器并停掉 run loop
	s.pipeline.Stop()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Telemetry service stopped")
	return nil
}

// backfill 按配置的通道清单从历史库回填缓冲
func (s *TelemetryService) backfill(ctx context.Context) {
	// 回填时段与缓冲容量对齐（1Hz 采样下 capacity 秒）
	since := time.Now().Add(-time.Duration(s.config.Telemetry.BufferCapacity) * time.Second)

	for _, channel := range s.config.Telemetry.BackfillChannels {
		samples, err := s.historyRepo.RecentSamples(ctx, channel, since)
		if err != nil {
			s.logger.Warn("Failed to backfill channel, starting empty",
				zap.String("channel", channel),
				zap.Error(err),
			)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		s.pipeline.Backfill(channel, samples)
	}
}
