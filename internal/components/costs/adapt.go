package costs

import (
	"sort"
	"strings"
)

// Backend responses use raw ledger field names and omit fields freely, so
// every shape is decoded into a pointer-field struct first. Coalescing then
// distinguishes "absent" (nil) from a legitimate zero: a $0 cost survives
// the chain, only literal absence falls through to the next source.

func coalesceFloat(sources ...*float64) float64 {
	for _, s := range sources {
		if s != nil {
			return *s
		}
	}
	return 0
}

func coalesceString(sources ...*string) string {
	for _, s := range sources {
		if s != nil {
			return *s
		}
	}
	return ""
}

// providerLabel trims the provider display name and defaults blanks to
// "Unknown".
func providerLabel(s *string) string {
	if s == nil {
		return "Unknown"
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return "Unknown"
	}
	return trimmed
}

type rawCostRow struct {
	Provider      *string  `json:"provider"`
	ProviderName  *string  `json:"provider_name"`
	Service       *string  `json:"service"`
	ServiceName   *string  `json:"service_name"`
	Category      *string  `json:"category"`
	HierarchyNode *string  `json:"hierarchy_node"`
	Period        *string  `json:"period"`
	Date          *string  `json:"date"`
	BilledCost    *float64 `json:"total_billed_cost"`
	EffectiveCost *float64 `json:"total_effective_cost"`
	TotalCost     *float64 `json:"total_cost"`
}

type rawCostSummary struct {
	TotalBilledCost    *float64 `json:"total_billed_cost"`
	TotalEffectiveCost *float64 `json:"total_effective_cost"`
	TotalCost          *float64 `json:"total_cost"`
	RowCount           *int     `json:"row_count"`
}

type rawCategoryCosts struct {
	Rows    []rawCostRow    `json:"rows"`
	Summary *rawCostSummary `json:"summary"`
}

func adaptCategoryCosts(raw rawCategoryCosts) CategoryCosts {
	out := emptyCategoryCosts()
	for _, r := range raw.Rows {
		out.Rows = append(out.Rows, CostRow{
			Provider:      providerLabel(firstString(r.Provider, r.ProviderName)),
			Service:       coalesceString(r.Service, r.ServiceName),
			Category:      coalesceString(r.Category),
			HierarchyNode: coalesceString(r.HierarchyNode),
			Period:        coalesceString(r.Period, r.Date),
			BilledCost:    coalesceFloat(r.BilledCost, r.TotalCost),
			EffectiveCost: coalesceFloat(r.EffectiveCost, r.BilledCost, r.TotalCost),
		})
	}
	if raw.Summary != nil {
		out.Summary = CostSummary{
			TotalBilledCost:    coalesceFloat(raw.Summary.TotalBilledCost, raw.Summary.TotalCost),
			TotalEffectiveCost: coalesceFloat(raw.Summary.TotalEffectiveCost, raw.Summary.TotalBilledCost, raw.Summary.TotalCost),
		}
		if raw.Summary.RowCount != nil {
			out.Summary.RowCount = *raw.Summary.RowCount
		} else {
			out.Summary.RowCount = len(out.Rows)
		}
	} else {
		out.Summary.RowCount = len(out.Rows)
	}
	return out
}

func firstString(sources ...*string) *string {
	for _, s := range sources {
		if s != nil {
			return s
		}
	}
	return nil
}

// rawCombinedTotals carries every field variant the combined-totals route
// has been observed to return: current subtotals, month-to-date figures,
// and monthly projections.
type rawCombinedTotals struct {
	SubscriptionCost       *float64 `json:"subscription_cost"`
	CloudCost              *float64 `json:"cloud_cost"`
	GenAICost              *float64 `json:"genai_cost"`
	CombinedTotal          *float64 `json:"combined_total"`
	TotalCost              *float64 `json:"total_cost"`
	SubscriptionMTDCost    *float64 `json:"subscription_mtd_cost"`
	CloudMTDCost           *float64 `json:"cloud_mtd_cost"`
	GenAIMTDCost           *float64 `json:"genai_mtd_cost"`
	SubscriptionProjection *float64 `json:"subscription_projected_cost"`
	CloudProjection        *float64 `json:"cloud_projected_cost"`
	GenAIProjection        *float64 `json:"genai_projected_cost"`
}

// adaptCombinedTotals normalizes the combined-totals shape. The combined
// figure prefers the backend's own combined_total; when absent it is the
// sum of whichever category subtotals are present, falling back to the
// single total_cost field.
func adaptCombinedTotals(raw rawCombinedTotals) CombinedTotals {
	out := CombinedTotals{
		SubscriptionCost: coalesceFloat(raw.SubscriptionCost, raw.SubscriptionMTDCost, raw.SubscriptionProjection),
		CloudCost:        coalesceFloat(raw.CloudCost, raw.CloudMTDCost, raw.CloudProjection),
		GenAICost:        coalesceFloat(raw.GenAICost, raw.GenAIMTDCost, raw.GenAIProjection),
	}

	switch {
	case raw.CombinedTotal != nil:
		out.CombinedTotal = *raw.CombinedTotal
	case raw.SubscriptionCost != nil || raw.CloudCost != nil || raw.GenAICost != nil:
		out.CombinedTotal = out.SubscriptionCost + out.CloudCost + out.GenAICost
	case raw.TotalCost != nil:
		out.CombinedTotal = *raw.TotalCost
	}
	return out
}

type rawTrendPoint struct {
	Period             *string  `json:"period"`
	Date               *string  `json:"date"`
	TotalBilledCost    *float64 `json:"total_billed_cost"`
	TotalEffectiveCost *float64 `json:"total_effective_cost"`
	TotalCost          *float64 `json:"total_cost"`
}

type rawTrendSeries struct {
	Granularity *string         `json:"granularity"`
	Points      []rawTrendPoint `json:"points"`
	Rows        []rawTrendPoint `json:"rows"`
}

// adaptTrendSeries remaps the backend's (date, total_cost) points onto the
// stable contract. The backend does not distinguish billed from effective
// cost at this granularity, so both fields carry the single value.
func adaptTrendSeries(raw rawTrendSeries, requestedGranularity string) TrendSeries {
	out := emptyTrendSeries()
	out.Granularity = coalesceString(raw.Granularity)
	if out.Granularity == "" {
		out.Granularity = requestedGranularity
	}

	points := raw.Points
	if len(points) == 0 {
		points = raw.Rows
	}
	for _, p := range points {
		cost := coalesceFloat(p.TotalBilledCost, p.TotalCost)
		out.Points = append(out.Points, TrendPoint{
			Period:             coalesceString(p.Period, p.Date),
			TotalBilledCost:    cost,
			TotalEffectiveCost: coalesceFloat(p.TotalEffectiveCost, p.TotalBilledCost, p.TotalCost),
		})
	}
	return out
}

type rawGranularRow struct {
	Date          *string  `json:"date"`
	Provider      *string  `json:"provider"`
	Category      *string  `json:"category"`
	HierarchyNode *string  `json:"hierarchy_node"`
	Cost          *float64 `json:"cost"`
	TotalCost     *float64 `json:"total_cost"`
}

type rawGranularTrend struct {
	Rows []rawGranularRow `json:"rows"`
}

// adaptGranularTrend normalizes rows and collects the distinct dimension
// values observed, sorted for stable output.
func adaptGranularTrend(raw rawGranularTrend) GranularTrend {
	out := emptyGranularTrend()
	providers := make(map[string]struct{})
	categories := make(map[string]struct{})
	nodes := make(map[string]struct{})

	for _, r := range raw.Rows {
		row := GranularRow{
			Date:          coalesceString(r.Date),
			Provider:      providerLabel(r.Provider),
			Category:      coalesceString(r.Category),
			HierarchyNode: coalesceString(r.HierarchyNode),
			Cost:          coalesceFloat(r.Cost, r.TotalCost),
		}
		out.Rows = append(out.Rows, row)
		providers[row.Provider] = struct{}{}
		if row.Category != "" {
			categories[row.Category] = struct{}{}
		}
		if row.HierarchyNode != "" {
			nodes[row.HierarchyNode] = struct{}{}
		}
	}

	out.Providers = sortedKeys(providers)
	out.Categories = sortedKeys(categories)
	out.HierarchyNodes = sortedKeys(nodes)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type rawProviderRow struct {
	Provider           *string  `json:"provider"`
	ProviderName       *string  `json:"provider_name"`
	TotalEffectiveCost *float64 `json:"total_effective_cost"`
	TotalBilledCost    *float64 `json:"total_billed_cost"`
	TotalCost          *float64 `json:"total_cost"`
}

type rawProviderBreakdown struct {
	Providers []rawProviderRow `json:"providers"`
	Rows      []rawProviderRow `json:"rows"`
}

// adaptProviderBreakdown computes each provider's percentage share of the
// category total. A zero total yields zero shares, not NaN.
func adaptProviderBreakdown(raw rawProviderBreakdown) ProviderBreakdown {
	out := emptyProviderBreakdown()

	rows := raw.Providers
	if len(rows) == 0 {
		rows = raw.Rows
	}

	var sum float64
	for _, r := range rows {
		sum += coalesceFloat(r.TotalEffectiveCost, r.TotalBilledCost, r.TotalCost)
	}
	for _, r := range rows {
		cost := coalesceFloat(r.TotalEffectiveCost, r.TotalBilledCost, r.TotalCost)
		share := 0.0
		if sum != 0 {
			share = cost / sum * 100
		}
		out.Providers = append(out.Providers, ProviderShare{
			Provider: providerLabel(firstString(r.Provider, r.ProviderName)),
			Cost:     cost,
			Share:    share,
		})
	}
	return out
}

type rawServiceRow struct {
	Service       *string  `json:"service"`
	ServiceName   *string  `json:"service_name"`
	Provider      *string  `json:"provider"`
	BilledCost    *float64 `json:"billed_cost"`
	EffectiveCost *float64 `json:"effective_cost"`
	SavingsCost   *float64 `json:"savings_cost"`
	UsageQuantity *string  `json:"usage_quantity"`
}

type rawServiceBreakdown struct {
	Services []rawServiceRow `json:"services"`
	Rows     []rawServiceRow `json:"rows"`
}

func adaptServiceBreakdown(raw rawServiceBreakdown) ServiceBreakdown {
	out := emptyServiceBreakdown()

	rows := raw.Services
	if len(rows) == 0 {
		rows = raw.Rows
	}
	for _, r := range rows {
		out.Services = append(out.Services, ServiceCost{
			Service:       coalesceString(r.Service, r.ServiceName),
			Provider:      providerLabel(r.Provider),
			BilledCost:    coalesceFloat(r.BilledCost),
			EffectiveCost: coalesceFloat(r.EffectiveCost, r.BilledCost),
			SavingsCost:   coalesceFloat(r.SavingsCost),
			UsageQuantity: coalesceString(r.UsageQuantity),
		})
	}
	return out
}
