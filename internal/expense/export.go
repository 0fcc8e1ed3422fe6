package expense

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportSheet is the worksheet holding exported expenses
const ExportSheet = "Expenses"

var exportHeaders = []string{"Date", "Category", "Business", "Amount", "ID"}

// WriteWorkbook writes expenses as a single-sheet xlsx workbook
func WriteWorkbook(w io.Writer, expenses []*Expense) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(ExportSheet, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range expenses {
		row := i + 2
		values := []any{
			e.CreatedAt.Format("2006-01-02"),
			string(e.Category),
			e.BusinessName,
			e.Amount.InexactFloat64(),
			e.ID,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(ExportSheet, cell, v); err != nil {
				return fmt.Errorf("writing row %d: %w", row, err)
			}
		}
	}

	_ = f.SetColWidth(ExportSheet, "A", "A", 14)
	_ = f.SetColWidth(ExportSheet, "B", "B", 18)
	_ = f.SetColWidth(ExportSheet, "C", "C", 32)
	_ = f.SetColWidth(ExportSheet, "D", "D", 12)
	_ = f.SetColWidth(ExportSheet, "E", "E", 38)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
