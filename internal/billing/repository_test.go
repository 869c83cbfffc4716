package billing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvoiceForUpdateLocksRow(t *testing.T) {
	require.True(t, strings.HasSuffix(invoiceForUpdateSQL, "WHERE id=$1 FOR UPDATE"), invoiceForUpdateSQL)
	require.True(t, strings.HasPrefix(invoiceForUpdateSQL, "SELECT "+invoiceColumns))
}
