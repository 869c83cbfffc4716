package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PeriodStats aggregates invoices created inside a window.
type PeriodStats struct {
	TotalInvoices   int             `json:"total_invoices"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	PendingInvoices int             `json:"pending_invoices"`
}

// Stats is the billing dashboard summary.
type Stats struct {
	Today           PeriodStats           `json:"today"`
	Month           PeriodStats           `json:"month"`
	ByStatus        map[Status]int        `json:"by_status"`
	ByPaymentMethod map[PaymentMethod]int `json:"by_payment_method"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

// StatsWindow bounds the today and month aggregates. Ends are exclusive.
type StatsWindow struct {
	DayStart   time.Time
	DayEnd     time.Time
	MonthStart time.Time
	MonthEnd   time.Time
}

// WindowFor returns the calendar day and month containing now.
func WindowFor(now time.Time) StatsWindow {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return StatsWindow{
		DayStart:   day,
		DayEnd:     day.AddDate(0, 0, 1),
		MonthStart: month,
		MonthEnd:   month.AddDate(0, 1, 0),
	}
}

// BillingStats returns the dashboard summary for the day containing now.
func (s *Service) BillingStats(ctx context.Context, now time.Time) (Stats, error) {
	window := WindowFor(now)
	key, err := s.cache.BuildKey(ctx, "billing", "stats", window.DayStart.Format("2006-01-02"))
	if err != nil {
		return Stats{}, err
	}
	return s.cache.FetchStats(ctx, key, func(ctx context.Context) (Stats, error) {
		stats, err := s.repo.Stats(ctx, window)
		if err != nil {
			return Stats{}, err
		}
		stats.GeneratedAt = s.now()
		return stats, nil
	})
}

// WarmStats recomputes today's summary and stores it in the cache.
func (s *Service) WarmStats(ctx context.Context) error {
	window := WindowFor(s.now())
	key, err := s.cache.BuildKey(ctx, "billing", "stats", window.DayStart.Format("2006-01-02"))
	if err != nil {
		return err
	}
	stats, err := s.repo.Stats(ctx, window)
	if err != nil {
		return err
	}
	stats.GeneratedAt = s.now()
	return s.cache.Store(ctx, key, stats)
}
