package costs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/finsight/costgate/internal/components/authctx"
	"github.com/finsight/costgate/internal/platform/logutil"
	"github.com/finsight/costgate/internal/retry"
	"github.com/finsight/costgate/internal/validate"
)

// GatewayConfig holds gateway behavior settings.
type GatewayConfig struct {
	// AuthRetryDelay is the pause before the single retry after a
	// credential rejection, giving an eventually-consistent credential
	// store time to catch up.
	AuthRetryDelay time.Duration
}

// Gateway performs parameterized reads against the backend cost service on
// behalf of an organization member. Each operation resolves the caller's
// organization context, issues the query, and normalizes the response into
// a discriminated Result.
type Gateway struct {
	resolver *authctx.Resolver
	client   *BackendClient
	policy   retry.Policy
	log      *slog.Logger
}

// NewGateway creates a gateway over the resolver and backend client.
func NewGateway(resolver *authctx.Resolver, backend *BackendClient, cfg GatewayConfig, log *slog.Logger) *Gateway {
	delay := cfg.AuthRetryDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Gateway{
		resolver: resolver,
		client:   backend,
		policy: retry.Policy{
			MaxAttempts: 2,
			Delay:       delay,
			Retryable: func(err error) bool {
				return errors.Is(err, ErrAuthFailed)
			},
		},
		log: logutil.NoopIfNil(log),
	}
}

type fetchResult struct {
	body  []byte
	found bool
}

// fetch resolves the caller's context and performs the query. On a
// credential rejection it invalidates the cached context so the single
// retry re-resolves a fresh credential; a second rejection is terminal.
func (g *Gateway) fetch(ctx context.Context, userID, orgSlug, route string, f Filters) (fetchResult, error) {
	return retry.Do(ctx, g.policy, func(ctx context.Context) (fetchResult, error) {
		orgCtx, err := g.resolver.Resolve(ctx, userID, orgSlug)
		if err != nil {
			return fetchResult{}, err
		}
		if orgCtx == nil {
			return fetchResult{}, errNoContext
		}

		body, found, err := g.client.Get(ctx, orgCtx.APIKey, orgSlug, route, f)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				g.resolver.Invalidate(userID, orgSlug)
			}
			return fetchResult{}, err
		}
		return fetchResult{body: body, found: found}, nil
	})
}

var errNoContext = errors.New("no organization context")

// query runs one operation end to end: validate, fetch with the retry
// policy, classify failures, and decode the body defensively. A missing
// body (404) and an undecodable body both yield a successful zero-value
// result; absence of data is not an error.
func query[T any](g *Gateway, ctx context.Context, userID, orgSlug, route string, f Filters, zero T, adapt func([]byte) (T, error)) Result[T] {
	if err := validate.OrgSlug(orgSlug); err != nil {
		return fail(zero, ReasonValidation)
	}
	if userID == "" {
		return fail(zero, ReasonAuthentication)
	}

	res, err := g.fetch(ctx, userID, orgSlug, route, f)
	if err != nil {
		return fail(zero, classify(err))
	}
	if !res.found {
		return ok(zero)
	}

	data, err := adapt(res.body)
	if err != nil {
		g.log.Warn("undecodable backend response", "route", route, "org_slug", orgSlug, "error", err)
		return ok(zero)
	}
	return ok(data)
}

func classify(err error) string {
	switch {
	case errors.Is(err, errNoContext):
		return ReasonAuthorization
	case errors.Is(err, ErrAuthFailed):
		return ReasonAuthentication
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimit
	default:
		return ReasonUpstream
	}
}

// GenAICosts returns row-level GenAI/LLM spend.
func (g *Gateway) GenAICosts(ctx context.Context, userID, orgSlug string, f Filters) Result[CategoryCosts] {
	return query(g, ctx, userID, orgSlug, RouteGenAI, f, emptyCategoryCosts(), func(body []byte) (CategoryCosts, error) {
		var raw rawCategoryCosts
		if err := json.Unmarshal(body, &raw); err != nil {
			return emptyCategoryCosts(), err
		}
		return adaptCategoryCosts(raw), nil
	})
}

// CloudCosts returns row-level cloud infrastructure spend.
func (g *Gateway) CloudCosts(ctx context.Context, userID, orgSlug string, f Filters) Result[CategoryCosts] {
	return query(g, ctx, userID, orgSlug, RouteCloud, f, emptyCategoryCosts(), func(body []byte) (CategoryCosts, error) {
		var raw rawCategoryCosts
		if err := json.Unmarshal(body, &raw); err != nil {
			return emptyCategoryCosts(), err
		}
		return adaptCategoryCosts(raw), nil
	})
}

// TotalCosts returns the three category subtotals plus the combined total.
func (g *Gateway) TotalCosts(ctx context.Context, userID, orgSlug string, f Filters) Result[CombinedTotals] {
	return query(g, ctx, userID, orgSlug, RouteTotal, f, CombinedTotals{}, func(body []byte) (CombinedTotals, error) {
		var raw rawCombinedTotals
		if err := json.Unmarshal(body, &raw); err != nil {
			return CombinedTotals{}, err
		}
		return adaptCombinedTotals(raw), nil
	})
}

// Trend returns one point per period at the requested granularity,
// defaulting to a trailing 30-day daily window.
func (g *Gateway) Trend(ctx context.Context, userID, orgSlug string, f Filters) Result[TrendSeries] {
	if f.StartDate == "" && f.EndDate == "" && f.Days == 0 {
		f.Days = 30
	}
	if f.Granularity == "" {
		f.Granularity = "daily"
	}
	return query(g, ctx, userID, orgSlug, RouteTrend, f, emptyTrendSeries(), func(body []byte) (TrendSeries, error) {
		var raw rawTrendSeries
		if err := json.Unmarshal(body, &raw); err != nil {
			return emptyTrendSeries(), err
		}
		return adaptTrendSeries(raw, f.Granularity), nil
	})
}

// GranularTrend returns pre-aggregated rows keyed by (date, provider,
// category, hierarchy node) plus the distinct dimension values observed.
func (g *Gateway) GranularTrend(ctx context.Context, userID, orgSlug string, f Filters) Result[GranularTrend] {
	return query(g, ctx, userID, orgSlug, RouteTrendGranular, f, emptyGranularTrend(), func(body []byte) (GranularTrend, error) {
		var raw rawGranularTrend
		if err := json.Unmarshal(body, &raw); err != nil {
			return emptyGranularTrend(), err
		}
		return adaptGranularTrend(raw), nil
	})
}

// ByProvider returns per-provider costs with computed percentage shares.
func (g *Gateway) ByProvider(ctx context.Context, userID, orgSlug string, f Filters) Result[ProviderBreakdown] {
	return query(g, ctx, userID, orgSlug, RouteByProvider, f, emptyProviderBreakdown(), func(body []byte) (ProviderBreakdown, error) {
		var raw rawProviderBreakdown
		if err := json.Unmarshal(body, &raw); err != nil {
			return emptyProviderBreakdown(), err
		}
		return adaptProviderBreakdown(raw), nil
	})
}

// ByService returns service-level costs with FOCUS cost fields.
func (g *Gateway) ByService(ctx context.Context, userID, orgSlug string, f Filters) Result[ServiceBreakdown] {
	return query(g, ctx, userID, orgSlug, RouteByService, f, emptyServiceBreakdown(), func(body []byte) (ServiceBreakdown, error) {
		var raw rawServiceBreakdown
		if err := json.Unmarshal(body, &raw); err != nil {
			return emptyServiceBreakdown(), err
		}
		return adaptServiceBreakdown(raw), nil
	})
}
