// Package memory implements an in-memory persistence driver, used in dev
// mode and in tests. A single mutex gives invite creation the same
// atomicity the sqlite driver gets from a transaction.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight/costgate/internal/store"
)

func init() {
	store.Register("memory", func(cfg *store.DriverConfig) (store.Driver, error) {
		return NewDriver(), nil
	})
}

// Driver implements store.Driver with in-memory maps.
type Driver struct {
	mu        sync.RWMutex
	orgs      map[string]*store.Organization // id -> org
	orgsBySlug map[string]string             // slug -> id
	members   map[string]*store.Member       // orgID\x00userID -> member
	invites   map[string]*store.Invite       // id -> invite
	byToken   map[string]string              // token -> id
	closed    bool
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		orgs:       make(map[string]*store.Organization),
		orgsBySlug: make(map[string]string),
		members:    make(map[string]*store.Member),
		invites:    make(map[string]*store.Invite),
		byToken:    make(map[string]string),
	}
}

// Name returns the driver name.
func (d *Driver) Name() string { return "memory" }

// Init is a no-op for the memory driver.
func (d *Driver) Init(ctx context.Context) error { return nil }

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func memberKey(orgID, userID string) string {
	return orgID + "\x00" + userID
}

func copyOrg(o *store.Organization) *store.Organization {
	c := *o
	return &c
}

func copyMember(m *store.Member) *store.Member {
	c := *m
	return &c
}

func copyInvite(i *store.Invite) *store.Invite {
	c := *i
	return &c
}

// CreateOrganization creates a new organization.
func (d *Driver) CreateOrganization(ctx context.Context, org *store.Organization) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if _, ok := d.orgsBySlug[org.Slug]; ok {
		return store.ErrAlreadyExists
	}
	if org.CreatedAt == 0 {
		org.CreatedAt = time.Now().Unix()
	}

	d.orgs[org.ID] = copyOrg(org)
	d.orgsBySlug[org.Slug] = org.ID
	return nil
}

// GetOrganizationBySlug retrieves an organization by slug.
func (d *Driver) GetOrganizationBySlug(ctx context.Context, slug string) (*store.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.orgsBySlug[slug]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrg(d.orgs[id]), nil
}

// GetOrganization retrieves an organization by id.
func (d *Driver) GetOrganization(ctx context.Context, id string) (*store.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	org, ok := d.orgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrg(org), nil
}

// UpdateOrganization updates an existing organization.
func (d *Driver) UpdateOrganization(ctx context.Context, org *store.Organization) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.orgs[org.ID]
	if !ok {
		return store.ErrNotFound
	}
	org.UpdatedAt = time.Now().Unix()
	delete(d.orgsBySlug, existing.Slug)
	d.orgs[org.ID] = copyOrg(org)
	d.orgsBySlug[org.Slug] = org.ID
	return nil
}

// UpsertMember creates or replaces a membership row.
func (d *Driver) UpsertMember(ctx context.Context, m *store.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	now := time.Now().Unix()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	d.members[memberKey(m.OrgID, m.UserID)] = copyMember(m)
	return nil
}

// GetMember retrieves a membership row.
func (d *Driver) GetMember(ctx context.Context, orgID, userID string) (*store.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.members[memberKey(orgID, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMember(m), nil
}

// ListMembers returns all membership rows for an organization.
func (d *Driver) ListMembers(ctx context.Context, orgID string) ([]*store.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*store.Member, 0)
	for _, m := range d.members {
		if m.OrgID == orgID {
			result = append(result, copyMember(m))
		}
	}
	return result, nil
}

// CountActiveMembers counts active membership rows for an organization.
func (d *Driver) CountActiveMembers(ctx context.Context, orgID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countActiveMembersLocked(orgID), nil
}

func (d *Driver) countActiveMembersLocked(orgID string) int {
	n := 0
	for _, m := range d.members {
		if m.OrgID == orgID && m.Status == store.MemberActive {
			n++
		}
	}
	return n
}

func (d *Driver) countPendingInvitesLocked(orgID string) int {
	n := 0
	for _, inv := range d.invites {
		if inv.OrgID == orgID && inv.Status == store.InvitePending {
			n++
		}
	}
	return n
}

// CreateInvite persists a pending invite, enforcing the pending-uniqueness
// and seat-limit invariants under the driver mutex.
func (d *Driver) CreateInvite(ctx context.Context, invite *store.Invite, seatLimit int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	email := strings.ToLower(invite.Email)
	for _, existing := range d.invites {
		if existing.OrgID == invite.OrgID && existing.Status == store.InvitePending &&
			strings.ToLower(existing.Email) == email {
			return store.ErrAlreadyExists
		}
	}

	if seatLimit > 0 {
		reserved := d.countActiveMembersLocked(invite.OrgID) + d.countPendingInvitesLocked(invite.OrgID)
		if reserved >= seatLimit {
			return store.ErrSeatLimit
		}
	}

	if invite.ID == "" {
		invite.ID = uuid.New().String()
	}
	if invite.CreatedAt == 0 {
		invite.CreatedAt = time.Now().Unix()
	}
	if invite.Status == "" {
		invite.Status = store.InvitePending
	}
	invite.Email = email

	d.invites[invite.ID] = copyInvite(invite)
	d.byToken[invite.Token] = invite.ID
	return nil
}

// GetInvite retrieves an invite by id.
func (d *Driver) GetInvite(ctx context.Context, id string) (*store.Invite, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inv, ok := d.invites[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyInvite(inv), nil
}

// GetInviteByToken retrieves an invite by its current token.
func (d *Driver) GetInviteByToken(ctx context.Context, token string) (*store.Invite, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byToken[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv, ok := d.invites[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyInvite(inv), nil
}

// GetPendingInviteByEmail retrieves the pending invite for an email, if any.
func (d *Driver) GetPendingInviteByEmail(ctx context.Context, orgID, email string) (*store.Invite, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	email = strings.ToLower(email)
	for _, inv := range d.invites {
		if inv.OrgID == orgID && inv.Status == store.InvitePending &&
			strings.ToLower(inv.Email) == email {
			return copyInvite(inv), nil
		}
	}
	return nil, store.ErrNotFound
}

// ListInvites returns all invites for an organization.
func (d *Driver) ListInvites(ctx context.Context, orgID string) ([]*store.Invite, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*store.Invite, 0)
	for _, inv := range d.invites {
		if inv.OrgID == orgID {
			result = append(result, copyInvite(inv))
		}
	}
	return result, nil
}

// CountPendingInvites counts pending invites for an organization.
func (d *Driver) CountPendingInvites(ctx context.Context, orgID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countPendingInvitesLocked(orgID), nil
}

// UpdateInvite updates an existing invite, maintaining the token index.
func (d *Driver) UpdateInvite(ctx context.Context, invite *store.Invite) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.invites[invite.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Token != invite.Token {
		delete(d.byToken, existing.Token)
		d.byToken[invite.Token] = invite.ID
	}
	invite.UpdatedAt = time.Now().Unix()
	d.invites[invite.ID] = copyInvite(invite)
	return nil
}

var _ store.Driver = (*Driver)(nil)
