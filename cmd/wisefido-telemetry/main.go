package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/config"
	logpkg "wisefido-telemetry/internal/logger"
	"wisefido-telemetry/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-telemetry")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-telemetry service",
		zap.String("version", "1.0.0"),
		zap.String("input_stream", cfg.Telemetry.Stream.Input),
		zap.String("mqtt_topic", cfg.Telemetry.MQTTTopic),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Int("buffer_capacity", cfg.Telemetry.BufferCapacity),
	)

	// 创建服务
	telemetryService, err := service.NewTelemetryService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create telemetry service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := telemetryService.Start(ctx); err != nil {
		logger.Fatal("Failed to start telemetry service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := telemetryService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
