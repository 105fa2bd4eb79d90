package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-telemetry/internal/models"
)

// PostgresHistoryRepository 历史遥测数据Repository实现
type PostgresHistoryRepository struct {
	db *sql.DB
}

// NewPostgresHistoryRepository 创建历史遥测Repository
func NewPostgresHistoryRepository(db *sql.DB) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

// 确保实现了接口
var _ HistoryRepository = (*PostgresHistoryRepository)(nil)

// RecentSamples 按时间升序查询通道历史采样点
func (r *PostgresHistoryRepository) RecentSamples(ctx context.Context, channel string, since time.Time) ([]models.Sample, error) {
	query := `
		SELECT timestamp_ms, value
		FROM telemetry_samples
		WHERE channel = $1 AND timestamp_ms >= $2
		ORDER BY timestamp_ms ASC
	`

	rows, err := r.db.QueryContext(ctx, query, channel, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var ts int64
		var value sql.NullFloat64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		s := models.Sample{Timestamp: ts}
		if value.Valid {
			v := value.Float64
			s.Value = &v
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sample rows: %w", err)
	}

	return samples, nil
}

// LatestSample 查询通道最新一条采样点；无数据返回 nil
func (r *PostgresHistoryRepository) LatestSample(ctx context.Context, channel string) (*models.Sample, error) {
	query := `
		SELECT timestamp_ms, value
		FROM telemetry_samples
		WHERE channel = $1
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`

	var ts int64
	var value sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, channel).Scan(&ts, &value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sample: %w", err)
	}

	s := &models.Sample{Timestamp: ts}
	if value.Valid {
		v := value.Float64
		s.Value = &v
	}
	return s, nil
}
