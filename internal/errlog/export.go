package errlog

import (
	"bytes"
	"fmt"
	"time"

	"wa-bot-go/internal/store"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Errors"

// Export renders error log rows as an xlsx workbook.
func Export(rows []store.ErrorLog) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	headers := []string{"Occurred At", "Type", "Message"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		f.SetCellValue(exportSheet, fmt.Sprintf("A%d", r), row.OccurredAt.UTC().Format(time.RFC3339))
		f.SetCellValue(exportSheet, fmt.Sprintf("B%d", r), row.ErrorType)
		f.SetCellValue(exportSheet, fmt.Sprintf("C%d", r), row.ErrorMessage)
	}
	f.SetColWidth(exportSheet, "A", "A", 24)
	f.SetColWidth(exportSheet, "C", "C", 80)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
