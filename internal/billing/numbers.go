package billing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	invoiceNumberAttempts = 10000
	invoiceSuffixMax      = 10000
	invoiceFallbackMin    = 10000
	invoiceFallbackMax    = 99999
	receiptSuffixMin      = 1000
	receiptSuffixMax      = 9999
)

// Numbers issues invoice and receipt numbers.
type Numbers struct {
	intN func(n int) int
	now  func() time.Time
}

// NewNumbers returns a generator backed by math/rand/v2 and the wall clock.
func NewNumbers() *Numbers {
	return &Numbers{intN: rand.IntN, now: time.Now}
}

// InvoiceNumber returns INV-YYYYMM-XXXX, trying random suffixes until exists
// reports a free one. After invoiceNumberAttempts collisions it falls back to
// a five digit suffix without checking.
func (n *Numbers) InvoiceNumber(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	prefix := "INV-" + n.now().Format("200601")
	for range invoiceNumberAttempts {
		candidate := fmt.Sprintf("%s-%04d", prefix, n.intN(invoiceSuffixMax))
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d", prefix, invoiceFallbackMin+n.intN(invoiceFallbackMax-invoiceFallbackMin+1)), nil
}

// ReceiptNumber returns RCP-YYYYMMDD-NNNN with NNNN in 1000..9999.
func (n *Numbers) ReceiptNumber() string {
	suffix := receiptSuffixMin + n.intN(receiptSuffixMax-receiptSuffixMin+1)
	return fmt.Sprintf("RCP-%s-%d", n.now().Format("20060102"), suffix)
}
