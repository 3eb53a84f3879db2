// Package store provides persistence primitives and driver abstractions for
// organizations, memberships, and invites.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrSeatLimit     = errors.New("seat limit reached")
	ErrClosed        = errors.New("store closed")
)

// Membership status values.
const (
	MemberActive   = "active"
	MemberInactive = "inactive"
)

// Invite status values. Accepted, expired, and revoked are terminal.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteExpired  = "expired"
	InviteRevoked  = "revoked"
)

// Organization is a tenant. APIKey is the opaque credential for the backend
// cost service, resolved per organization.
type Organization struct {
	ID        string `json:"id" gorm:"primaryKey"`
	Slug      string `json:"slug" gorm:"uniqueIndex"`
	Name      string `json:"name"`
	APIKey    string `json:"api_key,omitempty"` // omitempty for redaction
	SeatLimit int    `json:"seat_limit"`
	Plan      string `json:"plan"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Member relates a user to an organization. Only one row per (org, user);
// leaving flips Status to inactive rather than deleting.
type Member struct {
	OrgID     string `json:"org_id" gorm:"primaryKey"`
	UserID    string `json:"user_id" gorm:"primaryKey"`
	Role      string `json:"role"`   // owner, collaborator, read_only
	Status    string `json:"status"` // active, inactive
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Invite is a seat-reserving invitation. Email is stored lowercase.
type Invite struct {
	ID        string `json:"id" gorm:"primaryKey"`
	OrgID     string `json:"org_id" gorm:"index"`
	Email     string `json:"email" gorm:"index"`
	Role      string `json:"role"`
	Token     string `json:"token,omitempty" gorm:"uniqueIndex"` // omitempty for redaction
	Status    string `json:"status"`
	InvitedBy string `json:"invited_by"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// OrgStore defines operations for organization persistence.
type OrgStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
}

// MemberStore defines operations for membership persistence.
type MemberStore interface {
	UpsertMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, orgID, userID string) (*Member, error)
	ListMembers(ctx context.Context, orgID string) ([]*Member, error)
	CountActiveMembers(ctx context.Context, orgID string) (int, error)
}

// InviteStore defines operations for invite persistence.
type InviteStore interface {
	// CreateInvite persists a pending invite. The driver atomically enforces
	// two invariants that the service-layer pre-checks only mirror for error
	// messages: at most one pending invite per (org, lowercased email),
	// returning ErrAlreadyExists, and activeMembers+pendingInvites <
	// seatLimit, returning ErrSeatLimit. seatLimit <= 0 disables the seat
	// check.
	CreateInvite(ctx context.Context, invite *Invite, seatLimit int) error

	GetInvite(ctx context.Context, id string) (*Invite, error)
	GetInviteByToken(ctx context.Context, token string) (*Invite, error)
	GetPendingInviteByEmail(ctx context.Context, orgID, email string) (*Invite, error)
	ListInvites(ctx context.Context, orgID string) ([]*Invite, error)
	CountPendingInvites(ctx context.Context, orgID string) (int, error)
	UpdateInvite(ctx context.Context, invite *Invite) error
}

// Driver is a persistence backend. Implementations must be safe for
// concurrent use; all reads run with elevated privilege (no caller scoping),
// authorization happens in the service layer.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string

	OrgStore
	MemberStore
	InviteStore
}
