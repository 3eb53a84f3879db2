package members

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/finsight/costgate/internal/identity"
	"github.com/finsight/costgate/internal/platform/cache/memory"
	"github.com/finsight/costgate/internal/ratelimit"
	"github.com/finsight/costgate/internal/store"
	storemem "github.com/finsight/costgate/internal/store/memory"
	"github.com/finsight/costgate/internal/validate"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []InviteEmail
	fail bool
}

func (m *recordingMailer) SendInvite(ctx context.Context, msg InviteEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type serviceFixture struct {
	service *Service
	driver  *storemem.Driver
	users   *identity.MemoryUserRepo
	mailer  *recordingMailer
	org     *store.Organization
	clock   time.Time
}

// newServiceFixture builds org "acme_corp" with seat limit 5, an active
// owner "owner1", two active collaborators, and one pending invite:
// 3 active members + 1 pending = 4 reserved seats.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	users := identity.NewMemoryUserRepo()
	driver := storemem.NewDriver()
	mailer := &recordingMailer{}
	limiter := ratelimit.New(memory.New(time.Hour, 0), nil, nil)

	svc := NewService(driver, users, limiter, mailer, Config{AppURL: "https://app.example"}, nil)

	f := &serviceFixture{
		service: svc,
		driver:  driver,
		users:   users,
		mailer:  mailer,
		clock:   time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC),
	}
	svc.SetClock(func() time.Time { return f.clock })

	f.org = &store.Organization{Slug: "acme_corp", Name: "Acme Corp", APIKey: "key-123", SeatLimit: 5}
	if err := driver.CreateOrganization(ctx, f.org); err != nil {
		t.Fatalf("create org: %v", err)
	}

	for _, u := range []struct {
		id, email, role string
	}{
		{"owner1", "owner@acme.test", validate.RoleOwner},
		{"collab1", "collab1@acme.test", validate.RoleCollaborator},
		{"collab2", "collab2@acme.test", validate.RoleReadOnly},
	} {
		err := users.Create(ctx, &identity.User{ID: u.id, Email: u.email, EmailVerified: true})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		err = driver.UpsertMember(ctx, &store.Member{
			OrgID: f.org.ID, UserID: u.id, Role: u.role, Status: store.MemberActive,
		})
		if err != nil {
			t.Fatalf("upsert member: %v", err)
		}
	}

	err := driver.CreateInvite(ctx, &store.Invite{
		OrgID:     f.org.ID,
		Email:     "earlier@x.com",
		Role:      validate.RoleCollaborator,
		Token:     strings.Repeat("ab", 32),
		Status:    store.InvitePending,
		InvitedBy: "owner1",
		ExpiresAt: f.clock.Add(48 * time.Hour).Unix(),
	}, f.org.SeatLimit)
	if err != nil {
		t.Fatalf("seed invite: %v", err)
	}

	return f
}

var inviteLinkRE = regexp.MustCompile(`^https://app\.example/invite/[0-9a-f]{64}$`)

func TestInviteEndToEnd(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// 3 active + 1 pending = 4 reserved < 5: the invite fits.
	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if !inviteLinkRE.MatchString(res.Link) {
		t.Errorf("link = %q", res.Link)
	}
	if !res.EmailSent || len(f.mailer.sent) != 1 {
		t.Errorf("expected one sent email, got %d", len(f.mailer.sent))
	}
	if res.Invite.ExpiresAt != f.clock.Add(48*time.Hour).Unix() {
		t.Errorf("expiry = %d", res.Invite.ExpiresAt)
	}

	// Same email again before acceptance: conflict.
	_, err = f.service.Invite(ctx, "owner1", "acme_corp", "NEW@x.com", validate.RoleCollaborator)
	if !errors.Is(err, ErrInvitePending) {
		t.Errorf("duplicate invite: got %v, want ErrInvitePending", err)
	}
}

func TestInvitePreconditions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		caller  string
		orgSlug string
		email   string
		role    string
		want    error
	}{
		{"bad slug", "owner1", "acme-corp", "a@x.com", validate.RoleCollaborator, validate.ErrInvalidOrgSlug},
		{"bad email", "owner1", "acme_corp", "not-an-email", validate.RoleCollaborator, validate.ErrInvalidEmail},
		{"owner role not assignable", "owner1", "acme_corp", "a@x.com", validate.RoleOwner, validate.ErrInvalidRole},
		{"unknown org", "owner1", "other_org", "a@x.com", validate.RoleCollaborator, ErrOrgNotFound},
		{"non-member caller", "stranger", "acme_corp", "a@x.com", validate.RoleCollaborator, ErrNotMember},
		{"non-owner caller", "collab1", "acme_corp", "a@x.com", validate.RoleCollaborator, ErrNotOwner},
		{"already a member", "owner1", "acme_corp", "collab1@acme.test", validate.RoleCollaborator, ErrMemberExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Invite(ctx, tc.caller, tc.orgSlug, tc.email, tc.role)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestInviteSeatLimit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// Fill the last seat.
	if _, err := f.service.Invite(ctx, "owner1", "acme_corp", "fifth@x.com", validate.RoleCollaborator); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	_, err := f.service.Invite(ctx, "owner1", "acme_corp", "sixth@x.com", validate.RoleCollaborator)
	if !errors.Is(err, ErrSeatLimit) {
		t.Errorf("got %v, want ErrSeatLimit", err)
	}
}

func TestInviteConcurrentLastSeat(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// Exactly one seat remains; two concurrent invites for the same email
	// must yield one pending invite and one conflict.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.service.Invite(ctx, "owner1", "acme_corp", "race@x.com", validate.RoleCollaborator)
		}()
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvitePending) || errors.Is(err, ErrSeatLimit):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Errorf("got %d successes and %d conflicts, want 1 and 1", ok, conflict)
	}

	pending, err := f.driver.CountPendingInvites(ctx, f.org.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if pending != 2 { // the seeded invite plus exactly one new
		t.Errorf("pending invites = %d, want 2", pending)
	}
}

func TestInviteRateLimit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// Raise the seat limit out of the way.
	f.org.SeatLimit = 100
	if err := f.driver.UpdateOrganization(ctx, f.org); err != nil {
		t.Fatalf("update org: %v", err)
	}

	for i := 0; i < 10; i++ {
		email := string(rune('a'+i)) + "@x.com"
		if _, err := f.service.Invite(ctx, "owner1", "acme_corp", email, validate.RoleCollaborator); err != nil {
			t.Fatalf("invite %d: %v", i, err)
		}
	}
	_, err := f.service.Invite(ctx, "owner1", "acme_corp", "over@x.com", validate.RoleCollaborator)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
}

func TestInviteEmailFailureDoesNotFailOperation(t *testing.T) {
	f := newServiceFixture(t)
	f.mailer.fail = true

	res, err := f.service.Invite(context.Background(), "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if res.EmailSent {
		t.Error("EmailSent should be false")
	}
	if !inviteLinkRE.MatchString(res.Link) {
		t.Errorf("link must still be returned, got %q", res.Link)
	}
}

func TestAcceptInvite(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	err = f.users.Create(ctx, &identity.User{ID: "newbie", Email: "new@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	member, err := f.service.AcceptInvite(ctx, "newbie", res.Invite.Token)
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if member.Role != validate.RoleCollaborator || member.Status != store.MemberActive {
		t.Errorf("unexpected member: %+v", member)
	}

	stored, err := f.driver.GetInvite(ctx, res.Invite.ID)
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	if stored.Status != store.InviteAccepted {
		t.Errorf("invite status = %q, want accepted", stored.Status)
	}

	// Accepted is terminal.
	if _, err := f.service.AcceptInvite(ctx, "newbie", res.Invite.Token); !errors.Is(err, ErrInviteNotPending) {
		t.Errorf("second accept: got %v, want ErrInviteNotPending", err)
	}
}

func TestAcceptInviteTokenFormat(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, token := range []string{"", "short", strings.Repeat("g", 64), strings.Repeat("a", 63)} {
		if _, err := f.service.AcceptInvite(ctx, "owner1", token); !errors.Is(err, validate.ErrInvalidToken) {
			t.Errorf("token %q: got %v, want ErrInvalidToken", token, err)
		}
	}

	// Uppercase hex is accepted and matched case-insensitively.
	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	err = f.users.Create(ctx, &identity.User{ID: "newbie", Email: "new@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := f.service.AcceptInvite(ctx, "newbie", strings.ToUpper(res.Invite.Token)); err != nil {
		t.Errorf("uppercase token rejected: %v", err)
	}
}

func TestAcceptInviteGuards(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	err = f.users.Create(ctx, &identity.User{ID: "wrong", Email: "other@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := f.service.AcceptInvite(ctx, "wrong", res.Invite.Token); !errors.Is(err, ErrEmailMismatch) {
		t.Errorf("email mismatch: got %v", err)
	}

	err = f.users.Create(ctx, &identity.User{ID: "unverified", Email: "new@x.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := f.service.AcceptInvite(ctx, "unverified", res.Invite.Token); !errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("unverified email: got %v", err)
	}
}

func TestInviteExpiryTransition(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	f.clock = f.clock.Add(49 * time.Hour)

	info, err := f.service.GetInviteInfo(ctx, res.Invite.Token)
	if err != nil {
		t.Fatalf("GetInviteInfo: %v", err)
	}
	if info.Status != store.InviteExpired || !info.IsExpired {
		t.Errorf("info = %+v, want expired", info)
	}

	// The lazy transition is persisted.
	stored, err := f.driver.GetInvite(ctx, res.Invite.ID)
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	if stored.Status != store.InviteExpired {
		t.Errorf("persisted status = %q, want expired", stored.Status)
	}

	err = f.users.Create(ctx, &identity.User{ID: "late", Email: "new@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := f.service.AcceptInvite(ctx, "late", res.Invite.Token); !errors.Is(err, ErrInviteNotPending) {
		t.Errorf("accept after expiry: got %v", err)
	}
}

func TestAcceptInviteExpiresLazily(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	err = f.users.Create(ctx, &identity.User{ID: "late", Email: "new@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	f.clock = f.clock.Add(49 * time.Hour)

	if _, err := f.service.AcceptInvite(ctx, "late", res.Invite.Token); !errors.Is(err, ErrInviteExpired) {
		t.Errorf("got %v, want ErrInviteExpired", err)
	}
	stored, _ := f.driver.GetInvite(ctx, res.Invite.ID)
	if stored.Status != store.InviteExpired {
		t.Errorf("persisted status = %q, want expired", stored.Status)
	}
}

func TestResendInvite(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	oldToken := res.Invite.Token

	f.clock = f.clock.Add(24 * time.Hour)

	resent, err := f.service.ResendInvite(ctx, "owner1", "acme_corp", res.Invite.ID)
	if err != nil {
		t.Fatalf("ResendInvite: %v", err)
	}
	if resent.Invite.Token == oldToken {
		t.Error("token was not rotated")
	}
	if resent.Invite.ExpiresAt != f.clock.Add(48*time.Hour).Unix() {
		t.Errorf("expiry not extended: %d", resent.Invite.ExpiresAt)
	}

	// The previous token is dead.
	if _, err := f.service.GetInviteInfo(ctx, oldToken); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("old token lookup: got %v, want ErrInviteNotFound", err)
	}
	if _, err := f.service.GetInviteInfo(ctx, resent.Invite.Token); err != nil {
		t.Errorf("new token lookup: %v", err)
	}
}

func TestCancelInvite(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.service.Invite(ctx, "owner1", "acme_corp", "new@x.com", validate.RoleCollaborator)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	if err := f.service.CancelInvite(ctx, "owner1", "acme_corp", res.Invite.ID); err != nil {
		t.Fatalf("CancelInvite: %v", err)
	}
	stored, _ := f.driver.GetInvite(ctx, res.Invite.ID)
	if stored.Status != store.InviteRevoked {
		t.Errorf("status = %q, want revoked", stored.Status)
	}

	// Revoked is terminal.
	if err := f.service.CancelInvite(ctx, "owner1", "acme_corp", res.Invite.ID); !errors.Is(err, ErrInviteNotPending) {
		t.Errorf("second cancel: got %v", err)
	}

	// The seat is released.
	f.org.SeatLimit = 5
	pending, _ := f.driver.CountPendingInvites(ctx, f.org.ID)
	if pending != 1 { // only the seeded invite remains pending
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestRemoveMember(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if err := f.service.RemoveMember(ctx, "owner1", "acme_corp", "owner1"); !errors.Is(err, ErrTargetSelf) {
		t.Errorf("self removal: got %v", err)
	}
	if err := f.service.RemoveMember(ctx, "collab1", "acme_corp", "collab2"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner caller: got %v", err)
	}
	if err := f.service.RemoveMember(ctx, "owner1", "acme_corp", "ghost"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("unknown target: got %v", err)
	}

	if err := f.service.RemoveMember(ctx, "owner1", "acme_corp", "collab1"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	m, _ := f.driver.GetMember(ctx, f.org.ID, "collab1")
	if m.Status != store.MemberInactive {
		t.Errorf("status = %q, want inactive", m.Status)
	}
}

func TestUpdateMemberRole(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if err := f.service.UpdateMemberRole(ctx, "owner1", "acme_corp", "collab2", validate.RoleOwner); !errors.Is(err, validate.ErrInvalidRole) {
		t.Errorf("owner grant: got %v", err)
	}
	if err := f.service.UpdateMemberRole(ctx, "owner1", "acme_corp", "collab2", validate.RoleCollaborator); err != nil {
		t.Fatalf("UpdateMemberRole: %v", err)
	}
	m, _ := f.driver.GetMember(ctx, f.org.ID, "collab2")
	if m.Role != validate.RoleCollaborator {
		t.Errorf("role = %q", m.Role)
	}
}

func TestListInvitesRedactsTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	invites, err := f.service.ListInvites(ctx, "owner1", "acme_corp")
	if err != nil {
		t.Fatalf("ListInvites: %v", err)
	}
	if len(invites) != 1 {
		t.Fatalf("expected 1 invite, got %d", len(invites))
	}
	if invites[0].Token != "" {
		t.Error("token must be redacted in listings")
	}

	if _, err := f.service.ListInvites(ctx, "collab1", "acme_corp"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner listing: got %v", err)
	}
}

func TestListMembers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	infos, err := f.service.ListMembers(ctx, "collab1", "acme_corp")
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(infos) != 3 {
		t.Errorf("expected 3 members, got %d", len(infos))
	}
	for _, info := range infos {
		if info.Email == "" {
			t.Errorf("member %s missing profile join", info.UserID)
		}
	}

	if _, err := f.service.ListMembers(ctx, "stranger", "acme_corp"); !errors.Is(err, ErrNotMember) {
		t.Errorf("stranger listing: got %v", err)
	}
}
