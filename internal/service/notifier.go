package service

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier 流状态 webhook 通知（护士站侧在断流时标记图表为 stale）
type Notifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewNotifier 创建 webhook 通知器
func NewNotifier(url string, timeout time.Duration, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Notifier{
		client: client,
		url:    url,
		logger: logger,
	}
}

// streamStatusEvent webhook 负载
type streamStatusEvent struct {
	Event     string `json:"event"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// NotifyStreamStatus 上报流状态变更
func (n *Notifier) NotifyStreamStatus(status string) error {
	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(streamStatusEvent{
			Event:     "stream_status",
			Status:    status,
			Timestamp: time.Now().UnixMilli(),
		}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post stream status webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("stream status webhook returned %d", resp.StatusCode())
	}

	n.logger.Debug("Stream status webhook delivered", zap.String("status", status))
	return nil
}
