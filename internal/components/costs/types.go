// Package costs implements the query gateway to the backend cost service:
// credential resolution, parameterized queries, response normalization, and
// the multi-period fan-out summary.
package costs

// Filters holds optional query constraints. Zero values mean "not set" and
// are omitted from the outgoing query string.
type Filters struct {
	// EntityID scopes the query to a single hierarchy node by id.
	EntityID string

	// HierarchyPath scopes the query to a hierarchy subtree by path string.
	HierarchyPath string

	// Providers is a provider allow-list.
	Providers []string

	// Categories is a service-category allow-list.
	Categories []string

	// StartDate and EndDate are inclusive ISO 8601 calendar dates. An
	// explicit range takes precedence over Days.
	StartDate string
	EndDate   string

	// Days selects a trailing window when no explicit range is set.
	Days int

	// Granularity is the trend bucket size: daily, weekly, monthly.
	Granularity string
}

// Result is the discriminated outcome of a query operation. Data is always
// structurally complete: on failure it carries the zero value for T so
// callers never null-check below the Success discriminant.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

func ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func fail[T any](zero T, reason string) Result[T] {
	return Result[T]{Success: false, Data: zero, Error: reason}
}

// CostRow is one normalized row of a category cost query.
type CostRow struct {
	Provider      string  `json:"provider"`
	Service       string  `json:"service"`
	Category      string  `json:"category"`
	HierarchyNode string  `json:"hierarchy_node"`
	Period        string  `json:"period"`
	BilledCost    float64 `json:"total_billed_cost"`
	EffectiveCost float64 `json:"total_effective_cost"`
}

// CostSummary is the optional summary block of a category cost query.
type CostSummary struct {
	TotalBilledCost    float64 `json:"total_billed_cost"`
	TotalEffectiveCost float64 `json:"total_effective_cost"`
	RowCount           int     `json:"row_count"`
}

// CategoryCosts is the result of the GenAI and cloud cost queries.
type CategoryCosts struct {
	Rows    []CostRow   `json:"rows"`
	Summary CostSummary `json:"summary"`
}

func emptyCategoryCosts() CategoryCosts {
	return CategoryCosts{Rows: []CostRow{}}
}

// CombinedTotals is the result of the combined-totals query: one subtotal
// per category plus the combined figure.
type CombinedTotals struct {
	SubscriptionCost float64 `json:"subscription_cost"`
	CloudCost        float64 `json:"cloud_cost"`
	GenAICost        float64 `json:"genai_cost"`
	CombinedTotal    float64 `json:"combined_total"`
}

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Period             string  `json:"period"`
	TotalBilledCost    float64 `json:"total_billed_cost"`
	TotalEffectiveCost float64 `json:"total_effective_cost"`
}

// TrendSeries is the result of the trend query.
type TrendSeries struct {
	Granularity string       `json:"granularity"`
	Points      []TrendPoint `json:"points"`
}

func emptyTrendSeries() TrendSeries {
	return TrendSeries{Points: []TrendPoint{}}
}

// GranularRow is one pre-aggregated row keyed by (date, provider, category,
// hierarchy node), for client-side re-filtering.
type GranularRow struct {
	Date          string  `json:"date"`
	Provider      string  `json:"provider"`
	Category      string  `json:"category"`
	HierarchyNode string  `json:"hierarchy_node"`
	Cost          float64 `json:"cost"`
}

// GranularTrend is the result of the granular trend query, including the
// distinct dimension values observed so the UI can populate filters.
type GranularTrend struct {
	Rows           []GranularRow `json:"rows"`
	Providers      []string      `json:"providers"`
	Categories     []string      `json:"categories"`
	HierarchyNodes []string      `json:"hierarchy_nodes"`
}

func emptyGranularTrend() GranularTrend {
	return GranularTrend{
		Rows:           []GranularRow{},
		Providers:      []string{},
		Categories:     []string{},
		HierarchyNodes: []string{},
	}
}

// ProviderShare is one provider's cost plus its share of the total.
type ProviderShare struct {
	Provider string  `json:"provider"`
	Cost     float64 `json:"cost"`
	Share    float64 `json:"share"` // percentage of the category total
}

// ProviderBreakdown is the result of the by-provider query.
type ProviderBreakdown struct {
	Providers []ProviderShare `json:"providers"`
}

func emptyProviderBreakdown() ProviderBreakdown {
	return ProviderBreakdown{Providers: []ProviderShare{}}
}

// ServiceCost is one service-level row with FOCUS cost fields.
type ServiceCost struct {
	Service       string  `json:"service"`
	Provider      string  `json:"provider"`
	BilledCost    float64 `json:"billed_cost"`
	EffectiveCost float64 `json:"effective_cost"`
	SavingsCost   float64 `json:"savings_cost"`
	UsageQuantity string  `json:"usage_quantity,omitempty"`
}

// ServiceBreakdown is the result of the by-service query.
type ServiceBreakdown struct {
	Services []ServiceCost `json:"services"`
}

func emptyServiceBreakdown() ServiceBreakdown {
	return ServiceBreakdown{Services: []ServiceCost{}}
}

// ExtendedPeriods bundles one scalar cost per named date range plus a
// fiscal-year forecast.
type ExtendedPeriods struct {
	CostType           string             `json:"cost_type"`
	Periods            map[string]float64 `json:"periods"`
	FiscalYearForecast float64            `json:"fiscal_year_forecast"`
}

func emptyExtendedPeriods(costType string) ExtendedPeriods {
	return ExtendedPeriods{CostType: costType, Periods: map[string]float64{}}
}

// Error reason categories carried in Result.Error. Stable strings, not
// backend error text.
const (
	ReasonValidation     = "validation_error"
	ReasonAuthentication = "authentication_error"
	ReasonAuthorization  = "authorization_error"
	ReasonRateLimit      = "rate_limit_error"
	ReasonUpstream       = "upstream_unavailable"
)
