package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medcare-hms/medcare/internal/money"
)

func TestRenderReceiptGroupsAmounts(t *testing.T) {
	receipt := Receipt{
		ReceiptNumber: "RCP-20260315-4821",
		Amount:        money.MustParse("12345.5"),
		PaymentMethod: MethodBankTransfer,
		IssuedDate:    time.Date(2026, 3, 15, 14, 5, 0, 0, time.UTC),
		PrintCount:    1,
	}
	detail := InvoiceDetail{
		Invoice: Invoice{InvoiceNumber: "INV-202603-0042"},
		Items: []InvoiceItem{{
			Description: "Inpatient ward, seven nights with meals",
			Quantity:    decimal.NewFromInt(7),
			UnitPrice:   money.MustParse("1800"),
			Discount:    money.MustParse("254.5"),
			TotalPrice:  money.MustParse("12345.5"),
		}},
	}

	out := RenderReceipt(receipt, detail)
	require.Contains(t, out, "RECEIPT RCP-20260315-4821")
	require.Contains(t, out, "Invoice: INV-202603-0042")
	require.Contains(t, out, "12,345.50")
	require.Contains(t, out, "1,800.00")
	require.Contains(t, out, "-254.50")
	require.Contains(t, out, "Bank Transfer")
	require.Contains(t, out, "COPY #1")
	for _, line := range strings.Split(out, "\n") {
		require.LessOrEqual(t, len([]rune(line)), 40, line)
	}
}
