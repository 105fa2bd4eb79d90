package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
	"wisefido-telemetry/internal/pipeline"
)

// ExportHandler 窗口数据导出（护理记录归档用）
type ExportHandler struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

func NewExportHandler(p *pipeline.Pipeline, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{pipeline: p, logger: logger}
}

// Export GET /data/api/v1/telemetry/export
// params:
// - channel string (required)
// - from? int64 毫秒时间戳（缺省取组的当前窗口）
// - to? int64
// - group? string (default "vitals")
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeJSON(w, http.StatusBadRequest, Fail("channel is required"))
		return
	}

	group := r.URL.Query().Get("group")
	if group == "" {
		group = pipeline.DefaultGroup
	}

	from := parseInt64(r.URL.Query().Get("from"), 0)
	to := parseInt64(r.URL.Query().Get("to"), 0)
	if from == 0 || to == 0 {
		win := h.pipeline.Status(group).Window
		if win.IsZero() {
			writeJSON(w, http.StatusBadRequest, Fail("no window available, pass from/to"))
			return
		}
		from, to = win.Start, win.End
	}
	if from >= to {
		writeJSON(w, http.StatusBadRequest, Fail("invalid range: from must be before to"))
		return
	}

	samples := h.pipeline.SnapshotRange(channel, from, to)

	data, err := generateSamplesExcel(channel, samples)
	if err != nil {
		h.logger.Error("Failed to generate export file",
			zap.String("channel", channel),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export file"))
		return
	}

	filename := fmt.Sprintf("telemetry_%s_%d_%d.xlsx", channel, from, to)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	_, _ = w.Write(data)
}

// generateSamplesExcel 生成通道采样点的 Excel 文件
func generateSamplesExcel(channel string, samples []models.Sample) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Telemetry"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 设置表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	headers := []string{"Channel", "Timestamp (ms)", "Time", "Value"}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 15)
	_ = f.SetColWidth(sheetName, "B", "C", 24)
	_ = f.SetColWidth(sheetName, "D", "D", 12)

	for i, s := range samples {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), channel)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), s.Timestamp)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row),
			time.UnixMilli(s.Timestamp).UTC().Format("2006-01-02 15:04:05.000"))
		if s.Value != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), *s.Value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}

	return buf.Bytes(), nil
}
