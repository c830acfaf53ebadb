package evacuation

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
)

const (
	exportSheet   = "Evacuations"
	exportPage    = 500
	exportMaxRows = 10000
)

var exportHeaders = []interface{}{
	"ID", "Patient ID", "Origin Clinic ID", "Target Hospital ID", "Status", "Priority",
	"Reason", "Notes", "Decline Reason", "Requested By", "Accepted At", "Arrived At", "Created At",
}

var exportWidths = []float64{38, 38, 38, 38, 14, 12, 30, 30, 30, 24, 22, 22, 22}

// Export renders the caller's evacuations matching f as an XLSX workbook.
func (s *Service) Export(ctx context.Context, kind access.TenantKind, f Filter) ([]byte, error) {
	var all []*Evacuation
	for offset := 0; offset < exportMaxRows; offset += exportPage {
		items, total, err := s.List(ctx, kind, f, exportPage, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if offset+exportPage >= total {
			break
		}
	}
	data, err := renderWorkbook(all)
	if err != nil {
		return nil, apperr.Upstream(fmt.Errorf("render export: %w", err))
	}
	return data, nil
}

func timeCell(t *time.Time) interface{} {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringCell(s *string) interface{} {
	if s == nil {
		return ""
	}
	return *s
}

func renderWorkbook(items []*Evacuation) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, header); err != nil {
		return nil, err
	}
	for i, w := range exportWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, err
		}
	}

	for i, e := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			e.ID.String(), e.PatientID.String(), e.OriginClinicID.String(), e.TargetHospitalID.String(),
			string(e.Status), string(e.Priority), e.Reason, e.Notes, stringCell(e.DeclineReason),
			e.RequestedBy, timeCell(e.AcceptedAt), timeCell(e.ArrivedAt), timeCell(&e.CreatedAt),
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
