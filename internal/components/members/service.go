// Package members implements the membership and invitation workflow: a
// seat-limited invite state machine with token-based acceptance, plus
// member removal and role changes.
package members

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finsight/costgate/internal/identity"
	"github.com/finsight/costgate/internal/platform/logutil"
	"github.com/finsight/costgate/internal/ratelimit"
	"github.com/finsight/costgate/internal/store"
	"github.com/finsight/costgate/internal/validate"
)

// Workflow errors, surfaced to handlers for status mapping.
var (
	ErrOrgNotFound      = errors.New("organization not found")
	ErrNotMember        = errors.New("not a member of this organization")
	ErrNotOwner         = errors.New("owner role required")
	ErrMemberExists     = errors.New("already an active member")
	ErrMemberNotFound   = errors.New("member not found")
	ErrInviteNotFound   = errors.New("invite not found")
	ErrInvitePending    = errors.New("invite already pending for this email")
	ErrInviteNotPending = errors.New("invite is no longer pending")
	ErrInviteExpired    = errors.New("invite has expired")
	ErrSeatLimit        = errors.New("seat limit reached")
	ErrRateLimited      = errors.New("too many invites, try again later")
	ErrEmailMismatch    = errors.New("invite was issued for a different email")
	ErrEmailNotVerified = errors.New("email address not verified")
	ErrTargetSelf       = errors.New("cannot target yourself")
	ErrTargetOwner      = errors.New("cannot target an owner")
)

// DefaultInviteTTL is how long an invite token stays valid.
const DefaultInviteTTL = 48 * time.Hour

// Config holds workflow settings.
type Config struct {
	// AppURL is the dashboard origin used to build invite links.
	AppURL string

	// InviteTTL overrides DefaultInviteTTL when positive.
	InviteTTL time.Duration
}

// Service implements the invitation workflow over the store driver.
type Service struct {
	driver  store.Driver
	users   identity.UserRepo
	limiter *ratelimit.Limiter
	mailer  Mailer
	log     *slog.Logger

	appURL    string
	inviteTTL time.Duration
	now       func() time.Time
}

// NewService creates the membership service.
func NewService(driver store.Driver, users identity.UserRepo, limiter *ratelimit.Limiter, mailer Mailer, cfg Config, log *slog.Logger) *Service {
	ttl := cfg.InviteTTL
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	return &Service{
		driver:    driver,
		users:     users,
		limiter:   limiter,
		mailer:    mailer,
		log:       logutil.NoopIfNil(log),
		appURL:    strings.TrimRight(cfg.AppURL, "/"),
		inviteTTL: ttl,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// InviteResult is the outcome of a successful invite creation or resend.
type InviteResult struct {
	Invite    *store.Invite `json:"invite"`
	Link      string        `json:"link"`
	EmailSent bool          `json:"email_sent"`
}

// InviteInfo is the public view of an invite, shown on the acceptance page.
type InviteInfo struct {
	OrgName   string `json:"org_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	IsExpired bool   `json:"is_expired"`
	ExpiresAt int64  `json:"expires_at"`
}

// MemberInfo joins a membership row with the user's profile.
type MemberInfo struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

// generateInviteToken returns 32 random bytes as 64 lowercase hex chars.
func generateInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// requireOwner loads the org by slug and verifies the caller is an active
// owner.
func (s *Service) requireOwner(ctx context.Context, userID, orgSlug string) (*store.Organization, error) {
	if err := validate.OrgSlug(orgSlug); err != nil {
		return nil, err
	}
	org, err := s.driver.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	member, err := s.driver.GetMember(ctx, org.ID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	if member.Status != store.MemberActive {
		return nil, ErrNotMember
	}
	if member.Role != validate.RoleOwner {
		return nil, ErrNotOwner
	}
	return org, nil
}

// Invite creates a pending invite and delivers the invite email
// best-effort. The store's CreateInvite is the atomic backstop for both
// the duplicate-pending and seat-limit invariants; the pre-checks here
// only produce earlier, more specific errors.
func (s *Service) Invite(ctx context.Context, userID, orgSlug, email, role string) (*InviteResult, error) {
	email, err := validate.Email(email)
	if err != nil {
		return nil, err
	}
	if err := validate.AssignableRole(role); err != nil {
		return nil, err
	}

	org, err := s.requireOwner(ctx, userID, orgSlug)
	if err != nil {
		return nil, err
	}

	if res := s.limiter.Allow(ctx, userID+":"+orgSlug); !res.Allowed {
		return nil, ErrRateLimited
	}

	// Existing active member for this email?
	if existing, err := s.users.GetByEmail(ctx, email); err == nil {
		member, err := s.driver.GetMember(ctx, org.ID, existing.ID)
		if err == nil && member.Status == store.MemberActive {
			return nil, ErrMemberExists
		}
	}

	if _, err := s.driver.GetPendingInviteByEmail(ctx, org.ID, email); err == nil {
		return nil, ErrInvitePending
	}

	if org.SeatLimit > 0 {
		active, err := s.driver.CountActiveMembers(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		pending, err := s.driver.CountPendingInvites(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		if active+pending >= org.SeatLimit {
			return nil, ErrSeatLimit
		}
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	invite := &store.Invite{
		OrgID:     org.ID,
		Email:     email,
		Role:      role,
		Token:     token,
		Status:    store.InvitePending,
		InvitedBy: userID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(s.inviteTTL).Unix(),
	}
	if err := s.driver.CreateInvite(ctx, invite, org.SeatLimit); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			return nil, ErrInvitePending
		case errors.Is(err, store.ErrSeatLimit):
			return nil, ErrSeatLimit
		}
		return nil, err
	}

	return &InviteResult{
		Invite:    invite,
		Link:      s.inviteLink(token),
		EmailSent: s.sendInvite(ctx, userID, org, invite),
	}, nil
}

func (s *Service) inviteLink(token string) string {
	return fmt.Sprintf("%s/invite/%s", s.appURL, token)
}

// sendInvite delivers the invite email and reports whether it went out.
// Failures are logged, never propagated.
func (s *Service) sendInvite(ctx context.Context, inviterID string, org *store.Organization, invite *store.Invite) bool {
	inviterName := inviterID
	if inviter, err := s.users.Get(ctx, inviterID); err == nil {
		if inviter.DisplayName != "" {
			inviterName = inviter.DisplayName
		} else {
			inviterName = inviter.Email
		}
	}

	err := s.mailer.SendInvite(ctx, InviteEmail{
		To:          invite.Email,
		InviterName: inviterName,
		OrgName:     org.Name,
		Role:        invite.Role,
		Link:        s.inviteLink(invite.Token),
	})
	if err != nil {
		s.log.Warn("invite email delivery failed", "org_id", org.ID, "error", err)
		return false
	}
	return true
}

// loadOrgInvite fetches an invite and verifies it belongs to the org.
func (s *Service) loadOrgInvite(ctx context.Context, orgID, inviteID string) (*store.Invite, error) {
	if err := validate.UUID(inviteID); err != nil {
		return nil, ErrInviteNotFound
	}
	invite, err := s.driver.GetInvite(ctx, inviteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	if invite.OrgID != orgID {
		return nil, ErrInviteNotFound
	}
	return invite, nil
}

// expireIfPast lazily transitions a pending invite to expired when read
// past its expiry, persisting the new status.
func (s *Service) expireIfPast(ctx context.Context, invite *store.Invite) bool {
	if invite.Status != store.InvitePending || s.now().Unix() <= invite.ExpiresAt {
		return false
	}
	invite.Status = store.InviteExpired
	if err := s.driver.UpdateInvite(ctx, invite); err != nil {
		s.log.Warn("failed to persist invite expiry", "invite_id", invite.ID, "error", err)
	}
	return true
}

// ResendInvite regenerates the token and expiry of a pending invite,
// invalidating the previous link, and re-sends the email best-effort.
func (s *Service) ResendInvite(ctx context.Context, userID, orgSlug, inviteID string) (*InviteResult, error) {
	org, err := s.requireOwner(ctx, userID, orgSlug)
	if err != nil {
		return nil, err
	}
	invite, err := s.loadOrgInvite(ctx, org.ID, inviteID)
	if err != nil {
		return nil, err
	}
	if s.expireIfPast(ctx, invite) {
		return nil, ErrInviteExpired
	}
	if invite.Status != store.InvitePending {
		return nil, ErrInviteNotPending
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, err
	}
	invite.Token = token
	invite.ExpiresAt = s.now().Add(s.inviteTTL).Unix()
	if err := s.driver.UpdateInvite(ctx, invite); err != nil {
		return nil, err
	}

	return &InviteResult{
		Invite:    invite,
		Link:      s.inviteLink(token),
		EmailSent: s.sendInvite(ctx, userID, org, invite),
	}, nil
}

// CancelInvite revokes a pending invite.
func (s *Service) CancelInvite(ctx context.Context, userID, orgSlug, inviteID string) error {
	org, err := s.requireOwner(ctx, userID, orgSlug)
	if err != nil {
		return err
	}
	invite, err := s.loadOrgInvite(ctx, org.ID, inviteID)
	if err != nil {
		return err
	}
	if s.expireIfPast(ctx, invite) {
		return ErrInviteExpired
	}
	if invite.Status != store.InvitePending {
		return ErrInviteNotPending
	}

	invite.Status = store.InviteRevoked
	return s.driver.UpdateInvite(ctx, invite)
}

// GetInviteInfo returns the public view of an invite by token, applying
// the lazy expiry transition on read.
func (s *Service) GetInviteInfo(ctx context.Context, token string) (*InviteInfo, error) {
	if err := validate.InviteToken(token); err != nil {
		return nil, err
	}
	invite, err := s.driver.GetInviteByToken(ctx, strings.ToLower(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	s.expireIfPast(ctx, invite)

	orgName := ""
	if org, err := s.driver.GetOrganization(ctx, invite.OrgID); err == nil {
		orgName = org.Name
	}

	return &InviteInfo{
		OrgName:   orgName,
		Email:     invite.Email,
		Role:      invite.Role,
		Status:    invite.Status,
		IsExpired: invite.Status == store.InviteExpired,
		ExpiresAt: invite.ExpiresAt,
	}, nil
}

// AcceptInvite claims a pending invite for the calling user. The caller's
// verified email must match the invite email case-insensitively, and the
// seat limit is re-checked since seats may have filled after creation.
func (s *Service) AcceptInvite(ctx context.Context, userID, token string) (*store.Member, error) {
	if err := validate.InviteToken(token); err != nil {
		return nil, err
	}
	invite, err := s.driver.GetInviteByToken(ctx, strings.ToLower(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	if s.expireIfPast(ctx, invite) {
		return nil, ErrInviteExpired
	}
	if invite.Status != store.InvitePending {
		return nil, ErrInviteNotPending
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if !strings.EqualFold(user.Email, invite.Email) {
		return nil, ErrEmailMismatch
	}

	org, err := s.driver.GetOrganization(ctx, invite.OrgID)
	if err != nil {
		return nil, err
	}

	if org.SeatLimit > 0 {
		active, err := s.driver.CountActiveMembers(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		pending, err := s.driver.CountPendingInvites(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		// This invite's own pending seat converts into the membership, so
		// it is excluded from the reservation count.
		if active+pending-1 >= org.SeatLimit {
			return nil, ErrSeatLimit
		}
	}

	member := &store.Member{
		OrgID:  org.ID,
		UserID: userID,
		Role:   invite.Role,
		Status: store.MemberActive,
	}
	if existing, err := s.driver.GetMember(ctx, org.ID, userID); err == nil {
		member.CreatedAt = existing.CreatedAt
	}
	if err := s.driver.UpsertMember(ctx, member); err != nil {
		return nil, err
	}

	invite.Status = store.InviteAccepted
	if err := s.driver.UpdateInvite(ctx, invite); err != nil {
		return nil, err
	}
	return member, nil
}

// ListInvites returns all invites of the org. Owner only; pending invites
// past expiry are transitioned lazily.
func (s *Service) ListInvites(ctx context.Context, userID, orgSlug string) ([]*store.Invite, error) {
	org, err := s.requireOwner(ctx, userID, orgSlug)
	if err != nil {
		return nil, err
	}
	invites, err := s.driver.ListInvites(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	for _, invite := range invites {
		s.expireIfPast(ctx, invite)
		invite.Token = "" // tokens never leave the acceptance flow
	}
	return invites, nil
}

// ListMembers returns the org's members joined with user profiles. Any
// active member may list.
func (s *Service) ListMembers(ctx context.Context, userID, orgSlug string) ([]*MemberInfo, error) {
	if err := validate.OrgSlug(orgSlug); err != nil {
		return nil, err
	}
	org, err := s.driver.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	caller, err := s.driver.GetMember(ctx, org.ID, userID)
	if err != nil || caller.Status != store.MemberActive {
		return nil, ErrNotMember
	}

	rows, err := s.driver.ListMembers(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*MemberInfo, 0, len(rows))
	for _, m := range rows {
		info := &MemberInfo{UserID: m.UserID, Role: m.Role, Status: m.Status}
		if user, err := s.users.Get(ctx, m.UserID); err == nil {
			info.Email = user.Email
			info.DisplayName = user.DisplayName
		}
		out = append(out, info)
	}
	return out, nil
}

// RemoveMember deactivates a membership. Owners cannot remove themselves
// or another owner.
func (s *Service) RemoveMember(ctx context.Context, userID, orgSlug, targetUserID string) error {
	org, err := s.requireOwner(ctx, userID, orgSlug)
	if err != nil {
		return err
	}
	if targetUserID == userID {
		return ErrTargetSelf
	}
	target, err := s.driver.GetMember(ctx, org.ID, targetUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMemberNotFound
		}
		return err
	}
	if target.Role == validate.RoleOwner {
		return ErrTargetOwner
	}

	target.Status = store.MemberInactive
	return s.driver.UpsertMember(ctx, target)
}

// UpdateMemberRole changes a member's role. The owner role can be neither
// granted nor taken away here.
func (s *Service) UpdateMemberRole(ctx context.Context, userID, orgSlug, targetUserID, role string) error {
	if err := validate.AssignableRole(role); err != nil {
		return err
	}
	org, err := s.requireOwner(ctx, userID, orgSlug)
	if err != nil {
		return err
	}
	if targetUserID == userID {
		return ErrTargetSelf
	}
	target, err := s.driver.GetMember(ctx, org.ID, targetUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMemberNotFound
		}
		return err
	}
	if target.Role == validate.RoleOwner {
		return ErrTargetOwner
	}

	target.Role = role
	return s.driver.UpsertMember(ctx, target)
}
