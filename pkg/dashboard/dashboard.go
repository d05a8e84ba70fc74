// Package dashboard aggregates the tenant's operational view: KPIs,
// revenue time-series, usage totals and stock alerts.
package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/metering"
	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/tenantcfg"
)

// Service computes dashboard views. Reads only.
type Service struct {
	verified  *store.VerifiedRepo
	reviews   *store.ReviewRepo
	stocks    *store.StockRepo
	meter     metering.Meter
	tenants   *tenantcfg.Loader
	evaluator *AlertEvaluator
	logger    *slog.Logger
}

// NewService creates the service.
func NewService(verified *store.VerifiedRepo, reviews *store.ReviewRepo, stocks *store.StockRepo, meter metering.Meter, tenants *tenantcfg.Loader, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	evaluator, err := NewAlertEvaluator()
	if err != nil {
		return nil, err
	}
	return &Service{
		verified:  verified,
		reviews:   reviews,
		stocks:    stocks,
		meter:     meter,
		tenants:   tenants,
		evaluator: evaluator,
		logger:    logger.With("component", "dashboard"),
	}, nil
}

// Summary is the KPI block.
type Summary struct {
	VerifiedInvoices int64           `json:"verified_invoices"`
	Revenue          decimal.Decimal `json:"revenue"`
	StockValue       decimal.Decimal `json:"stock_value"`
	TrackedParts     int             `json:"tracked_parts"`
	PendingHeaders   int             `json:"pending_headers"`
	PendingLines     int             `json:"pending_lines"`
}

// Summarize computes the tenant's KPIs.
func (s *Service) Summarize(ctx context.Context, tenant string) (*Summary, error) {
	summary := &Summary{Revenue: decimal.Zero, StockValue: decimal.Zero}

	invoices, err := s.verified.All(ctx, tenant)
	if err != nil {
		return nil, err
	}
	summary.VerifiedInvoices = int64(len(invoices))
	for _, inv := range invoices {
		summary.Revenue = summary.Revenue.Add(inv.Amount)
	}

	levels, err := s.stocks.Levels(ctx, tenant)
	if err != nil {
		return nil, err
	}
	summary.TrackedParts = len(levels)
	for _, lvl := range levels {
		summary.StockValue = summary.StockValue.Add(lvl.TotalValue)
	}

	headers, err := s.reviews.HeadersAll(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		if h.Status == store.StatusPending || h.Status == store.StatusDuplicateReceipt {
			summary.PendingHeaders++
		}
	}
	lines, err := s.reviews.LinesAll(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if l.Status == store.StatusPending {
			summary.PendingLines++
		}
	}
	return summary, nil
}

// DayPoint is one day of the revenue series.
type DayPoint struct {
	Date     string          `json:"date"`
	Invoices int64           `json:"invoices"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// Timeseries returns one point per day for the trailing window,
// including empty days, oldest first. Rows without a date fall back to
// their creation day.
func (s *Service) Timeseries(ctx context.Context, tenant string, days int) ([]DayPoint, error) {
	if days <= 0 {
		days = 30
	}

	invoices, err := s.verified.All(ctx, tenant)
	if err != nil {
		return nil, err
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	byDay := make(map[string]*DayPoint, days)
	series := make([]DayPoint, 0, days)
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d).Format("2006-01-02")
		series = append(series, DayPoint{Date: date, Revenue: decimal.Zero})
		byDay[date] = &series[len(series)-1]
	}

	for _, inv := range invoices {
		date := inv.CreatedAt.UTC().Format("2006-01-02")
		if inv.Date != nil && *inv.Date != "" {
			date = *inv.Date
		}
		point, ok := byDay[date]
		if !ok {
			continue
		}
		point.Invoices++
		point.Revenue = point.Revenue.Add(inv.Amount)
	}
	return series, nil
}

// Alerts evaluates the tenant's alert rules over current stock.
func (s *Service) Alerts(ctx context.Context, tenant string) ([]Alert, error) {
	cfg, err := s.tenants.Load(tenant, false)
	if err != nil {
		return nil, err
	}
	levels, err := s.stocks.Levels(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Evaluate(cfg.Alerts, levels)
}

// Usage aggregates the tenant's extraction spend. period is "day" or
// "month".
func (s *Service) Usage(ctx context.Context, tenant, period string) (*metering.Usage, error) {
	p := metering.MonthlyPeriod()
	if period == "day" {
		p = metering.DailyPeriod()
	}
	return s.meter.GetUsage(ctx, tenant, p)
}
