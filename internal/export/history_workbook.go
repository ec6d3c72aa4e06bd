package export

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"cardiotwin/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	historySheet = "Score History"
	summarySheet = "Summary"
)

// HistoryHeader 得分历史表头
var HistoryHeader = []string{
	"#",
	"Timestamp (ms)",
	"Time (UTC)",
	"Score",
	"Zone",
	"Zone Label",
}

// HistoryExport 导出内容
type HistoryExport struct {
	SessionID string
	History   []models.ScorePoint
	Baseline  *models.Baseline // 可为空
}

// GenerateHistoryWorkbook 生成会话得分历史 Excel 文件（历史 + 摘要两个工作表）
func GenerateHistoryWorkbook(in HistoryExport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(historySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHistory(f, in.History, headerStyle); err != nil {
		return nil, err
	}
	if err := writeSummary(f, in, headerStyle); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHistory(f *excelize.File, history []models.ScorePoint, headerStyle int) error {
	for col, header := range HistoryHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(historySheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
	}
	if err := f.SetCellStyle(historySheet, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	zoneStyles := make(map[models.Zone]int)
	for _, z := range []models.Zone{models.ZoneGreen, models.ZoneYellow, models.ZoneOrange, models.ZoneRed} {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{z.ColorHex()}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("failed to create zone style: %w", err)
		}
		zoneStyles[z] = style
	}

	for i, p := range history {
		row := i + 2 // 第1行是表头
		values := []interface{}{
			i + 1,
			p.Timestamp,
			time.UnixMilli(p.Timestamp).UTC().Format(time.RFC3339),
			p.Score,
			string(p.Zone),
			p.Zone.Label(),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(historySheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if style, ok := zoneStyles[p.Zone]; ok {
			zoneCell := fmt.Sprintf("E%d", row)
			if err := f.SetCellStyle(historySheet, zoneCell, zoneCell, style); err != nil {
				return fmt.Errorf("failed to set zone style: %w", err)
			}
		}
	}

	for col, width := range map[string]float64{"A": 8, "B": 16, "C": 24, "D": 10, "E": 10, "F": 18} {
		if err := f.SetColWidth(historySheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(historySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, in HistoryExport, headerStyle int) error {
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Session ID", in.SessionID},
		{"Scored Readings", len(in.History)},
	}

	if n := len(in.History); n > 0 {
		minScore, maxScore, sum := in.History[0].Score, in.History[0].Score, 0.0
		for _, p := range in.History {
			if p.Score < minScore {
				minScore = p.Score
			}
			if p.Score > maxScore {
				maxScore = p.Score
			}
			sum += p.Score
		}
		last := in.History[n-1]
		rows = append(rows,
			[]interface{}{"Min Score", minScore},
			[]interface{}{"Max Score", maxScore},
			[]interface{}{"Average Score", math.Round(sum/float64(n)*10) / 10},
			[]interface{}{"Latest Score", last.Score},
			[]interface{}{"Latest Zone", fmt.Sprintf("%s (%s)", last.Zone, last.Zone.Label())},
		)
	}

	if b := in.Baseline; b != nil {
		rows = append(rows,
			[]interface{}{"Resting Heart Rate (bpm)", b.RestingHeartRate},
			[]interface{}{"Resting HRV (ms)", b.RestingHRV},
			[]interface{}{"Normal SpO2 (%)", b.NormalSpO2},
			[]interface{}{"Normal Temperature (°C)", b.NormalTemperature},
			[]interface{}{"Calibration Samples", b.SampleCount},
		)
	}

	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 28); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return f.SetColWidth(summarySheet, "B", "B", 28)
}
