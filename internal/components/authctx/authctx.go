// Package authctx resolves the organization context for an authenticated
// request: which org the caller is acting in, their role there, and the
// backend credential for that org. Resolutions are cached for a short TTL
// because every cost query repeats the same lookup.
package authctx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/finsight/costgate/internal/identity"
	"github.com/finsight/costgate/internal/platform/logutil"
	"github.com/finsight/costgate/internal/store"
	"github.com/finsight/costgate/internal/validate"
)

const (
	// DefaultTTL bounds how stale a cached resolution can be. Kept short:
	// membership revocation must take effect within this window.
	DefaultTTL = 5 * time.Second

	// DefaultMaxEntries triggers an expired-entry sweep before insert once
	// the cache reaches this size.
	DefaultMaxEntries = 95
)

// OrganizationContext is a fully resolved request scope. All fields are
// populated; a partial resolution is never returned.
type OrganizationContext struct {
	UserID  string
	OrgID   string
	OrgSlug string
	Role    string
	APIKey  string
}

type cacheEntry struct {
	ctx      *OrganizationContext
	cachedAt time.Time
}

// Config holds resolver settings.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// Resolver resolves and caches organization contexts.
type Resolver struct {
	users   identity.UserRepo
	orgs    store.OrgStore
	members store.MemberStore
	log     *slog.Logger

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewResolver creates a resolver over the given repositories.
func NewResolver(users identity.UserRepo, orgs store.OrgStore, members store.MemberStore, cfg Config, log *slog.Logger) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Resolver{
		users:      users,
		orgs:       orgs,
		members:    members,
		log:        logutil.NoopIfNil(log),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*cacheEntry),
	}
}

// SetClock overrides the time source. Used in tests.
func (r *Resolver) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func cacheKey(userID, orgSlug string) string {
	return userID + "\x00" + orgSlug
}

// Resolve returns the organization context for (userID, orgSlug), or nil
// when the caller has no standing in that org. All failure modes look the
// same to the caller: invalid slug, unknown user, unknown org, no active
// membership, and a missing backend credential each yield a nil context.
func (r *Resolver) Resolve(ctx context.Context, userID, orgSlug string) (*OrganizationContext, error) {
	if userID == "" {
		return nil, nil
	}
	if err := validate.OrgSlug(orgSlug); err != nil {
		return nil, nil
	}

	if cached := r.lookup(userID, orgSlug); cached != nil {
		return cached, nil
	}

	resolved, err := r.resolve(ctx, userID, orgSlug)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, nil
	}

	r.insert(userID, orgSlug, resolved)
	cp := *resolved
	return &cp, nil
}

// Invalidate drops the cached context for (userID, orgSlug). Called after
// an authentication failure against the backend so the next attempt
// re-resolves the credential.
func (r *Resolver) Invalidate(userID, orgSlug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, cacheKey(userID, orgSlug))
}

// Len returns the number of cached entries, expired or not.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Resolver) lookup(userID, orgSlug string) *OrganizationContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[cacheKey(userID, orgSlug)]
	if !ok {
		return nil
	}
	if r.now().Sub(entry.cachedAt) >= r.ttl {
		delete(r.entries, cacheKey(userID, orgSlug))
		return nil
	}
	// The key already encodes the user id; the ownership check guards
	// against a context leaking across users if the keying ever changes.
	if entry.ctx.UserID != userID {
		delete(r.entries, cacheKey(userID, orgSlug))
		return nil
	}
	cp := *entry.ctx
	return &cp
}

func (r *Resolver) insert(userID, orgSlug string, resolved *OrganizationContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxEntries {
		r.sweepLocked()
	}

	cp := *resolved
	r.entries[cacheKey(userID, orgSlug)] = &cacheEntry{
		ctx:      &cp,
		cachedAt: r.now(),
	}
}

func (r *Resolver) sweepLocked() {
	now := r.now()
	for key, entry := range r.entries {
		if now.Sub(entry.cachedAt) >= r.ttl {
			delete(r.entries, key)
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, userID, orgSlug string) (*OrganizationContext, error) {
	if _, err := r.users.Get(ctx, userID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}

	org, err := r.orgs.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	member, err := r.members.GetMember(ctx, org.ID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if member.Status != store.MemberActive {
		return nil, nil
	}

	if org.APIKey == "" {
		r.log.Warn("organization has no backend credential", "org_slug", orgSlug)
		return nil, nil
	}

	return &OrganizationContext{
		UserID:  userID,
		OrgID:   org.ID,
		OrgSlug: org.Slug,
		Role:    member.Role,
		APIKey:  org.APIKey,
	}, nil
}
