// Package validate provides format checks shared by the cost gateway and the
// membership workflow. All checks are pure and run before any network call.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidOrgSlug = errors.New("invalid organization slug")
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrInvalidToken   = errors.New("invalid invite token")
	ErrInvalidUUID    = errors.New("invalid id")
	ErrInvalidRole    = errors.New("invalid role")
)

// Membership roles. Owner exists on memberships but is never assignable
// through invites or role updates.
const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
	RoleReadOnly     = "read_only"
)

// orgSlugRE is the backend-imposed slug format: no hyphens.
var orgSlugRE = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

// emailRE is an RFC-5322-lite check; the mail system is the real arbiter.
var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// tokenRE matches a 32-byte token in hex, case-insensitive.
var tokenRE = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// OrgSlug validates an organization slug.
func OrgSlug(slug string) error {
	if !orgSlugRE.MatchString(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidOrgSlug, slug)
	}
	return nil
}

// Email validates and normalizes an email address to lowercase.
func Email(email string) (string, error) {
	email = strings.TrimSpace(email)
	if len(email) > 254 || !emailRE.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

// InviteToken validates an invite token without any lookup.
func InviteToken(token string) error {
	if !tokenRE.MatchString(token) {
		return ErrInvalidToken
	}
	return nil
}

// UUID validates an id in canonical UUID form.
func UUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUUID, id)
	}
	return nil
}

// AssignableRole validates a role that invites and role updates may grant.
func AssignableRole(role string) error {
	switch role {
	case RoleCollaborator, RoleReadOnly:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}
