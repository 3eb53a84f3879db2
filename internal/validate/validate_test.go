package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestOrgSlug(t *testing.T) {
	valid := []string{"abc", "acme_corp", "ACME_123", strings.Repeat("a", 50)}
	for _, slug := range valid {
		if err := OrgSlug(slug); err != nil {
			t.Errorf("OrgSlug(%q) = %v, want nil", slug, err)
		}
	}

	invalid := []string{"", "ab", "acme-corp", "acme corp", "acme.corp", strings.Repeat("a", 51), "acmé"}
	for _, slug := range invalid {
		if err := OrgSlug(slug); !errors.Is(err, ErrInvalidOrgSlug) {
			t.Errorf("OrgSlug(%q) = %v, want ErrInvalidOrgSlug", slug, err)
		}
	}
}

func TestEmail(t *testing.T) {
	got, err := Email("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("normalized = %q", got)
	}

	long := strings.Repeat("a", 250) + "@x.com"
	invalid := []string{"", "no-at-sign", "a@b", "a b@x.com", "a@x .com", long}
	for _, email := range invalid {
		if _, err := Email(email); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Email(%q) = %v, want ErrInvalidEmail", email, err)
		}
	}
}

func TestInviteToken(t *testing.T) {
	lower := strings.Repeat("ab", 32)
	if err := InviteToken(lower); err != nil {
		t.Errorf("lowercase hex rejected: %v", err)
	}
	if err := InviteToken(strings.ToUpper(lower)); err != nil {
		t.Errorf("uppercase hex rejected: %v", err)
	}

	invalid := []string{"", "abc", strings.Repeat("g", 64), strings.Repeat("a", 63), strings.Repeat("a", 65)}
	for _, token := range invalid {
		if err := InviteToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("InviteToken(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestAssignableRole(t *testing.T) {
	for _, role := range []string{RoleCollaborator, RoleReadOnly} {
		if err := AssignableRole(role); err != nil {
			t.Errorf("AssignableRole(%q) = %v", role, err)
		}
	}
	for _, role := range []string{RoleOwner, "", "admin"} {
		if err := AssignableRole(role); !errors.Is(err, ErrInvalidRole) {
			t.Errorf("AssignableRole(%q) = %v, want ErrInvalidRole", role, err)
		}
	}
}
