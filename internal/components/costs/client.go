package costs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/finsight/costgate/internal/platform/http/client"
)

// Sentinel errors for the backend status taxonomy.
var (
	ErrAuthFailed  = errors.New("backend rejected credential")
	ErrValidation  = errors.New("backend rejected query parameters")
	ErrRateLimited = errors.New("backend rate limit exceeded")
	ErrUpstream    = errors.New("backend unavailable")
)

// Backend routes, one per query operation.
const (
	RouteGenAI         = "genai"
	RouteCloud         = "cloud"
	RouteTotal         = "total"
	RouteTrend         = "trend"
	RouteTrendGranular = "trend-granular"
	RouteByProvider    = "by-provider"
	RouteByService     = "by-service"
)

// ClientConfig holds backend connection settings.
type ClientConfig struct {
	// BaseURL is the backend cost service origin.
	BaseURL string

	// APIKeyHeader is the header name the credential travels in.
	APIKeyHeader string

	// Timeout bounds one standard query call.
	Timeout time.Duration

	// TotalTimeout bounds a combined-totals call; longer because the
	// backend fans out three sub-queries internally.
	TotalTimeout time.Duration
}

// BackendClient issues parameterized GETs against the backend cost service
// and maps response statuses onto the error taxonomy.
type BackendClient struct {
	cfg  ClientConfig
	http *client.Client
}

// NewBackendClient creates a backend client over the shared outbound HTTP
// client.
func NewBackendClient(cfg ClientConfig, httpClient *client.Client) *BackendClient {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-Api-Key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 30 * time.Second
	}
	return &BackendClient{cfg: cfg, http: httpClient}
}

// buildQuery converts filters into query parameters, omitting absent
// fields. An explicit date range wins over a trailing-days window.
func buildQuery(f Filters) url.Values {
	q := url.Values{}
	if f.EntityID != "" {
		q.Set("entity_id", f.EntityID)
	}
	if f.HierarchyPath != "" {
		q.Set("hierarchy_path", f.HierarchyPath)
	}
	if len(f.Providers) > 0 {
		q.Set("providers", strings.Join(f.Providers, ","))
	}
	if len(f.Categories) > 0 {
		q.Set("categories", strings.Join(f.Categories, ","))
	}
	if f.StartDate != "" && f.EndDate != "" {
		q.Set("start_date", f.StartDate)
		q.Set("end_date", f.EndDate)
	} else if f.Days > 0 {
		q.Set("days", strconv.Itoa(f.Days))
	}
	if f.Granularity != "" {
		q.Set("granularity", f.Granularity)
	}
	return q
}

// Get performs one query call. The second return value reports whether the
// backend had data: a 404 is not an error, it returns (nil, false, nil).
func (c *BackendClient) Get(ctx context.Context, apiKey, orgSlug, route string, f Filters) ([]byte, bool, error) {
	timeout := c.cfg.Timeout
	if route == RouteTotal {
		timeout = c.cfg.TotalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/v1/costs/%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), orgSlug, route)
	if q := buildQuery(f); len(q) > 0 {
		u += "?" + q.Encode()
	}

	header := http.Header{}
	header.Set(c.cfg.APIKeyHeader, apiKey)

	body, resp, err := c.http.GetJSON(ctx, u, header)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, true, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, ErrAuthFailed
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, ErrRateLimited
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, ErrValidation
	default:
		return nil, false, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
}
