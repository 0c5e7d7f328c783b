package paymentplans

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Payment Plans"

// BuildWorkbook renders the contract's payment plans as a spreadsheet with a
// totals row covering non-cancelled planned amounts and received amounts.
func BuildWorkbook(contract ContractSummary, plans []PaymentPlan) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create export sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headers := []string{"ID", "Amount", "Planned Date", "Actual Payment Date", "Status"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("write export header: %w", err)
		}
	}

	var plannedTotal, receivedTotal float64
	for i, p := range plans {
		row := i + 2
		f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), p.ID)
		f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), p.Amount)
		f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), p.PlannedDate.Format(dateLayout))
		if p.ActualPaymentDate != nil {
			f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), p.ActualPaymentDate.Format(dateLayout))
		}
		f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), string(p.Status))

		if p.Status != StatusCancelled {
			plannedTotal += p.Amount
			if p.Status == StatusPaid {
				receivedTotal += p.Amount
			}
		}
	}

	totalsRow := len(plans) + 2
	f.SetCellValue(exportSheet, fmt.Sprintf("A%d", totalsRow), "Total")
	f.SetCellValue(exportSheet, fmt.Sprintf("B%d", totalsRow), plannedTotal)
	f.SetCellValue(exportSheet, fmt.Sprintf("D%d", totalsRow), receivedTotal)
	f.SetCellValue(exportSheet, fmt.Sprintf("E%d", totalsRow), fmt.Sprintf("contract amount %.2f", contract.Amount))

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create bold style: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", "E1", boldStyle); err != nil {
		return nil, fmt.Errorf("style export header: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, fmt.Sprintf("A%d", totalsRow), fmt.Sprintf("E%d", totalsRow), boldStyle); err != nil {
		return nil, fmt.Errorf("style totals row: %w", err)
	}

	return f, nil
}
