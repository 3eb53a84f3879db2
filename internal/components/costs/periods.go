package costs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finsight/costgate/internal/platform/logutil"
	"github.com/finsight/costgate/internal/validate"
)

// Cost types the extended-period summary can be sliced by.
const (
	CostTypeTotal        = "total"
	CostTypeCloud        = "cloud"
	CostTypeGenAI        = "genai"
	CostTypeSubscription = "subscription"
)

const dateLayout = "2006-01-02"

// PeriodRange is one named date range with inclusive boundaries.
type PeriodRange struct {
	Key   string
	Start string
	End   string
}

// namedRanges computes the boundary dates of every summary range from the
// reference time. Pure date arithmetic; no network calls.
func namedRanges(now time.Time, fiscalYearStart time.Month) []PeriodRange {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)

	// Monday-based week.
	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	weekStart := today.AddDate(0, 0, -(weekday - 1))
	lastWeekStart := weekStart.AddDate(0, 0, -7)
	lastWeekEnd := weekStart.AddDate(0, 0, -1)

	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	prevMonthStart := monthStart.AddDate(0, -1, 0)
	prevMonthEnd := monthStart.AddDate(0, 0, -1)
	twoMonthsAgoStart := monthStart.AddDate(0, -2, 0)
	twoMonthsAgoEnd := prevMonthStart.AddDate(0, 0, -1)

	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
	fyStart := fiscalYearStartDate(today, fiscalYearStart)

	ranges := []PeriodRange{
		{Key: "yesterday", Start: fmtDate(yesterday), End: fmtDate(yesterday)},
		{Key: "week_to_date", Start: fmtDate(weekStart), End: fmtDate(today)},
		{Key: "last_week", Start: fmtDate(lastWeekStart), End: fmtDate(lastWeekEnd)},
		{Key: "month_to_date", Start: fmtDate(monthStart), End: fmtDate(today)},
		{Key: "previous_month", Start: fmtDate(prevMonthStart), End: fmtDate(prevMonthEnd)},
		{Key: "last_two_months", Start: fmtDate(prevMonthStart), End: fmtDate(today)},
		{Key: "year_to_date", Start: fmtDate(yearStart), End: fmtDate(today)},
		{Key: "fiscal_year_to_date", Start: fmtDate(fyStart), End: fmtDate(today)},
		{Key: "last_30_days", Start: fmtDate(today.AddDate(0, 0, -29)), End: fmtDate(today)},
		{Key: "previous_30_days", Start: fmtDate(today.AddDate(0, 0, -59)), End: fmtDate(today.AddDate(0, 0, -30))},
		// The two most recently completed calendar months, keyed by name.
		{Key: monthKey(prevMonthStart), Start: fmtDate(prevMonthStart), End: fmtDate(prevMonthEnd)},
		{Key: monthKey(twoMonthsAgoStart), Start: fmtDate(twoMonthsAgoStart), End: fmtDate(twoMonthsAgoEnd)},
	}
	return ranges
}

func fmtDate(t time.Time) string {
	return t.Format(dateLayout)
}

func monthKey(t time.Time) string {
	return strings.ToLower(t.Month().String())
}

// fiscalYearStartDate returns the most recent fiscal year boundary at or
// before the reference date.
func fiscalYearStartDate(today time.Time, startMonth time.Month) time.Time {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	fy := time.Date(today.Year(), startMonth, 1, 0, 0, 0, 0, today.Location())
	if fy.After(today) {
		fy = fy.AddDate(-1, 0, 0)
	}
	return fy
}

// CalculateFiscalYearForecast extrapolates the fiscal-year-to-date cost
// linearly over the full fiscal year. Zero elapsed days yields zero.
func CalculateFiscalYearForecast(fiscalYearToDateCost float64, daysElapsed, totalDays int) float64 {
	if daysElapsed <= 0 {
		return 0
	}
	return fiscalYearToDateCost / float64(daysElapsed) * float64(totalDays)
}

// extractCost reduces one range's raw combined-totals response to a single
// scalar for the requested cost type. Preference order per category: the
// actual figure for the period, else the month-to-date figure, else the
// monthly projection, else 0. The total cost type sums the per-category
// chains.
func extractCost(raw *rawCombinedTotals, costType string) float64 {
	if raw == nil {
		return 0
	}
	subscription := coalesceFloat(raw.SubscriptionCost, raw.SubscriptionMTDCost, raw.SubscriptionProjection)
	cloud := coalesceFloat(raw.CloudCost, raw.CloudMTDCost, raw.CloudProjection)
	genai := coalesceFloat(raw.GenAICost, raw.GenAIMTDCost, raw.GenAIProjection)

	switch costType {
	case CostTypeCloud:
		return cloud
	case CostTypeGenAI:
		return genai
	case CostTypeSubscription:
		return subscription
	default:
		return subscription + cloud + genai
	}
}

// Aggregator produces the multi-period summary: one combined-totals query
// per named range, fanned out in parallel.
type Aggregator struct {
	gateway         *Gateway
	fiscalYearStart time.Month
	now             func() time.Time
	log             *slog.Logger
}

// NewAggregator creates an aggregator over the gateway. fiscalYearStartMonth
// is 1-12; out-of-range values fall back to January.
func NewAggregator(g *Gateway, fiscalYearStartMonth int, log *slog.Logger) *Aggregator {
	start := time.Month(fiscalYearStartMonth)
	if start < time.January || start > time.December {
		start = time.January
	}
	return &Aggregator{
		gateway:         g,
		fiscalYearStart: start,
		now:             time.Now,
		log:             logutil.NoopIfNil(log),
	}
}

// SetClock overrides the time source. Used in tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// ExtendedPeriodCosts bundles one scalar cost per named range plus a
// fiscal-year forecast. A failure in any single range defaults that range
// to 0 without aborting the others; the aggregate succeeds as long as the
// fan-out itself completed.
func (a *Aggregator) ExtendedPeriodCosts(ctx context.Context, userID, orgSlug, costType string) Result[ExtendedPeriods] {
	if costType == "" {
		costType = CostTypeTotal
	}
	switch costType {
	case CostTypeTotal, CostTypeCloud, CostTypeGenAI, CostTypeSubscription:
	default:
		return fail(emptyExtendedPeriods(costType), ReasonValidation)
	}
	if err := validate.OrgSlug(orgSlug); err != nil {
		return fail(emptyExtendedPeriods(costType), ReasonValidation)
	}
	if userID == "" {
		return fail(emptyExtendedPeriods(costType), ReasonAuthentication)
	}

	now := a.now()
	ranges := namedRanges(now, a.fiscalYearStart)
	results := make([]*rawCombinedTotals, len(ranges))

	// Plain errgroup, no shared context cancellation: one range failing
	// must not abort the siblings.
	var eg errgroup.Group
	for i, pr := range ranges {
		eg.Go(func() error {
			raw, err := a.fetchRange(ctx, userID, orgSlug, pr)
			if err != nil {
				a.log.Warn("period range query failed", "range", pr.Key, "org_slug", orgSlug, "error", err)
				return nil
			}
			results[i] = raw
			return nil
		})
	}
	_ = eg.Wait()

	out := ExtendedPeriods{
		CostType: costType,
		Periods:  make(map[string]float64, len(ranges)),
	}
	for i, pr := range ranges {
		out.Periods[pr.Key] = extractCost(results[i], costType)
	}

	fyStart := fiscalYearStartDate(now, a.fiscalYearStart)
	daysElapsed := int(now.Sub(fyStart).Hours()/24) + 1
	totalDays := int(fyStart.AddDate(1, 0, 0).Sub(fyStart).Hours() / 24)
	out.FiscalYearForecast = CalculateFiscalYearForecast(out.Periods["fiscal_year_to_date"], daysElapsed, totalDays)

	return ok(out)
}

// fetchRange issues one combined-totals query for a range and decodes the
// raw shape. The raw pointer fields are kept so extraction can tell a
// reported zero from an absent figure.
func (a *Aggregator) fetchRange(ctx context.Context, userID, orgSlug string, pr PeriodRange) (*rawCombinedTotals, error) {
	res, err := a.gateway.fetch(ctx, userID, orgSlug, RouteTotal, Filters{
		StartDate: pr.Start,
		EndDate:   pr.End,
	})
	if err != nil {
		return nil, err
	}
	if !res.found {
		return nil, nil
	}
	var raw rawCombinedTotals
	if err := json.Unmarshal(res.body, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}
