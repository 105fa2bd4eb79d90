package models

import (
	"encoding/json"
)

// Sample 单个时序采样点
// Timestamp 为毫秒级 Unix 时间戳；Value 为 nil 表示该 tick 无读数
// （正常情况下上游应跳过 nil 值，不写入缓冲区）
type Sample struct {
	Timestamp int64    `json:"timestamp"`
	Value     *float64 `json:"value"`
}

// Window 当前可见的时间窗口 [Start, End]，单位与 Sample.Timestamp 一致
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// IsZero 窗口是否未初始化
func (w Window) IsZero() bool {
	return w.Start == 0 && w.End == 0
}

// Valid 窗口是否合法（Start < End）
func (w Window) Valid() bool {
	return w.Start < w.End
}

// 消息类型标识符
const (
	MessageTypeTelemetry = "telemetry"
	MessageTypeStatus    = "status"
)

// ChannelReading 单通道的采样负载
// Timestamp 可选：缺省时以信封的 Timestamp（即接收时刻）为准
type ChannelReading struct {
	Value     *float64 `json:"value"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// TelemetryMessage 入站遥测消息信封（从 Redis Streams 解析）
// 按通道名分发，每个通道携带一个数值读数
type TelemetryMessage struct {
	Type      string                    `json:"type"`
	DeviceID  string                    `json:"device_id,omitempty"`
	TenantID  string                    `json:"tenant_id,omitempty"`
	Timestamp int64                     `json:"timestamp"`
	Channels  map[string]ChannelReading `json:"channels"`
}

// ParseTelemetryMessage 从 Redis Streams 消息解析遥测信封
// values 为 Stream 条目的字段表，约定 data 字段为 JSON 字符串
func ParseTelemetryMessage(values map[string]interface{}) (*TelemetryMessage, error) {
	dataStr, ok := values["data"].(string)
	if !ok {
		return nil, ErrInvalidDataFormat
	}

	var msg TelemetryMessage
	if err := json.Unmarshal([]byte(dataStr), &msg); err != nil {
		return nil, err
	}

	if msg.Type != MessageTypeTelemetry {
		return nil, &DataFormatError{Message: "unexpected message type: " + msg.Type}
	}
	if len(msg.Channels) == 0 {
		return nil, &DataFormatError{Message: "message carries no channels"}
	}

	return &msg, nil
}

// ErrInvalidDataFormat 数据格式错误
var ErrInvalidDataFormat = &DataFormatError{Message: "invalid data format"}

// DataFormatError 数据格式错误类型
type DataFormatError struct {
	Message string
}

func (e *DataFormatError) Error() string {
	return e.Message
}
