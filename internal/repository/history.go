package repository

import (
	"context"
	"time"

	"wisefido-telemetry/internal/models"
)

// HistoryRepository 历史遥测数据Repository接口
// 注意：此Repository只提供查询方法，会话回填用；数据落库由采集侧负责
type HistoryRepository interface {
	// RecentSamples 获取通道自 since 起的历史采样点（按时间升序）
	RecentSamples(ctx context.Context, channel string, since time.Time) ([]models.Sample, error)

	// LatestSample 获取通道最新一条采样点
	LatestSample(ctx context.Context, channel string) (*models.Sample, error)
}
