package reports

import (
	"fmt"
	"net/http"

	"github.com/sunbirdmfi/microfin_backend/utils"
	"github.com/xuri/excelize/v2"
)

// BuildMetricSummaryWorkbook renders summary rows into a spreadsheet, one
// row per (metric, period) total.
func BuildMetricSummaryWorkbook(rows []*MetricSummaryRow) (*excelize.File, error) {
	f := excelize.NewFile()
	sheetName := "Sheet1"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue(sheetName, "A1", "Metric")
	f.SetCellValue(sheetName, "B1", "Period")
	f.SetCellValue(sheetName, "C1", "Total")
	f.SetCellValue(sheetName, "D1", "BranchName")
	f.SetCellValue(sheetName, "E1", "BranchCode")
	f.SetCellValue(sheetName, "F1", "LoanOfficer")
	f.SetCellValue(sheetName, "G1", "Currency")

	// Add data
	for i, row := range rows {
		rowNo := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+rowNo, row.Metric)
		f.SetCellValue(sheetName, "B"+rowNo, row.Period)
		f.SetCellValue(sheetName, "C"+rowNo, row.Total.String())
		f.SetCellValue(sheetName, "D"+rowNo, utils.DereferencePtr(row.BranchName, ""))
		f.SetCellValue(sheetName, "E"+rowNo, utils.DereferencePtr(row.BranchCode, ""))
		f.SetCellValue(sheetName, "F"+rowNo, utils.DereferencePtr(row.LoanOfficerName, ""))
		f.SetCellValue(sheetName, "G"+rowNo, utils.DereferencePtr(row.Currency, ""))
	}
	return f, nil
}

// BuildProfitSummaryWorkbook renders profit rows into a spreadsheet.
func BuildProfitSummaryWorkbook(rows []*ProfitSummaryRow) (*excelize.File, error) {
	f := excelize.NewFile()
	sheetName := "Sheet1"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}

	f.SetCellValue(sheetName, "A1", "Period")
	f.SetCellValue(sheetName, "B1", "Income")
	f.SetCellValue(sheetName, "C1", "Expenses")
	f.SetCellValue(sheetName, "D1", "Profit")

	for i, row := range rows {
		rowNo := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+rowNo, row.Period)
		f.SetCellValue(sheetName, "B"+rowNo, row.Income.String())
		f.SetCellValue(sheetName, "C"+rowNo, row.Expenses.String())
		f.SetCellValue(sheetName, "D"+rowNo, row.Profit.String())
	}
	return f, nil
}

// WriteExcel streams a workbook as an xlsx download.
func WriteExcel(w http.ResponseWriter, f *excelize.File, filename string) error {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	return f.Write(w)
}
