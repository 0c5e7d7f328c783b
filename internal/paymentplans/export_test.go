package paymentplans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildWorkbookTotalsSkipCancelled(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	paidAt := now.AddDate(0, 0, -1)
	contract := ContractSummary{ID: 1, Name: "Acme retainer", Amount: 30000}
	plans := []PaymentPlan{
		{ID: 1, ContractID: 1, Amount: 10000, PlannedDate: now, ActualPaymentDate: &paidAt, Status: StatusPaid},
		{ID: 2, ContractID: 1, Amount: 5000, PlannedDate: now.AddDate(0, 1, 0), Status: StatusPending},
		{ID: 3, ContractID: 1, Amount: 8000, PlannedDate: now.AddDate(0, 2, 0), Status: StatusCancelled},
	}

	f, err := BuildWorkbook(contract, plans)
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetCellValue(exportSheet, "A1")
	require.NoError(t, err)
	require.Equal(t, "ID", got)

	got, err = f.GetCellValue(exportSheet, "D2")
	require.NoError(t, err)
	require.Equal(t, "2026-03-09", got)

	// Totals row sits below the data and excludes the cancelled plan.
	got, err = f.GetCellValue(exportSheet, "B5")
	require.NoError(t, err)
	require.Equal(t, "15000", got)

	got, err = f.GetCellValue(exportSheet, "D5")
	require.NoError(t, err)
	require.Equal(t, "10000", got)
}
