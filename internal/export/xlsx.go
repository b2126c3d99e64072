// Package export renders ledger views as spreadsheet workbooks.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"unitledger/internal/core"
	"unitledger/internal/views"
)

const (
	ExpensesSheet = "Expenses"
	SummarySheet  = "Summary"

	// ContentType is the MIME type of the written workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// numFmtTwoDecimals is the built-in "0.00" number format.
const numFmtTwoDecimals = 2

// categoryHeaderRow is where the per-category table starts on the summary sheet.
const categoryHeaderRow = 7

var expenseHeaders = []string{
	"ID", "Date", "Type", "Unit", "Category", "Description", "Amount", "Status", "Method", "Attachment",
}

// WriteXLSX writes records, in the order given, plus the summary of all
// records to w. records is usually a filtered view; summary should come from
// the whole ledger.
func WriteXLSX(w io.Writer, records []core.ExpenseRecord, summary core.Summary, currency string) error {
	if currency == "" {
		currency = core.DefaultCurrency
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExpensesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: numFmtTwoDecimals})
	if err != nil {
		return fmt.Errorf("amount style: %w", err)
	}

	if err := writeExpenses(f, records, headerStyle, amountStyle, currency); err != nil {
		return err
	}
	if err := writeSummary(f, records, summary, headerStyle, amountStyle, currency); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeExpenses(f *excelize.File, records []core.ExpenseRecord, headerStyle, amountStyle int, currency string) error {
	headers := make([]string, len(expenseHeaders))
	copy(headers, expenseHeaders)
	headers[6] = fmt.Sprintf("Amount (%s)", currency)

	if err := writeRow(f, ExpensesSheet, 1, toCells(headers)); err != nil {
		return err
	}
	if err := f.SetCellStyle(ExpensesSheet, "A1", "J1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, r := range records {
		row := i + 2
		attachment := ""
		if r.HasAttachment() {
			attachment = r.AttachmentName
			if attachment == "" {
				attachment = "yes"
			}
		}
		cells := []any{
			r.ID,
			r.Date.String(),
			r.ExpenseType.Label(),
			r.UnitName,
			r.Category.Label(),
			r.Description,
			r.Amount.Float(),
			r.PaymentStatus.Label(),
			r.PaymentMethod.Label(),
			attachment,
		}
		if err := writeRow(f, ExpensesSheet, row, cells); err != nil {
			return err
		}
	}

	if len(records) > 0 {
		last := fmt.Sprintf("G%d", len(records)+1)
		if err := f.SetCellStyle(ExpensesSheet, "G2", last, amountStyle); err != nil {
			return fmt.Errorf("style amounts: %w", err)
		}
	}

	widths := map[string]float64{"A": 16, "B": 12, "C": 14, "D": 16, "E": 14, "F": 36, "G": 14, "H": 10, "I": 14, "J": 20}
	for col, width := range widths {
		if err := f.SetColWidth(ExpensesSheet, col, col, width); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, records []core.ExpenseRecord, summary core.Summary, headerStyle, amountStyle int, currency string) error {
	rows := [][]any{
		{"Totals", fmt.Sprintf("Amount (%s)", currency), ""},
		{"Total Expenses", summary.Total.Float(), ""},
		{"Unit Expenses", summary.UnitTotal.Float(), ""},
		{"Salaries", summary.SalaryTotal.Float(), ""},
		{"Exported Total", views.TotalAmount(records).Float(), ""},
		{},
		{"Category", fmt.Sprintf("Amount (%s)", currency), "Entries"},
	}
	for _, c := range views.ByCategory(records) {
		rows = append(rows, []any{c.Category.Label(), c.Amount.Float(), c.Count})
	}

	for i, cells := range rows {
		if len(cells) == 0 {
			continue
		}
		if err := writeRow(f, SummarySheet, i+1, cells); err != nil {
			return err
		}
	}

	if err := f.SetCellStyle(SummarySheet, "B2", "B5", amountStyle); err != nil {
		return fmt.Errorf("style summary amounts: %w", err)
	}
	if len(rows) > categoryHeaderRow {
		if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("B%d", categoryHeaderRow+1), fmt.Sprintf("B%d", len(rows)), amountStyle); err != nil {
			return fmt.Errorf("style category amounts: %w", err)
		}
	}
	for _, row := range []int{1, categoryHeaderRow} {
		if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("A%d", row), fmt.Sprintf("C%d", row), headerStyle); err != nil {
			return fmt.Errorf("style summary header: %w", err)
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 18); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	return f.SetColWidth(SummarySheet, "B", "C", 14)
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	for col, v := range cells {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
