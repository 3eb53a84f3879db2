package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/finsight/costgate/internal/components/authctx"
	"github.com/finsight/costgate/internal/components/costs"
	"github.com/finsight/costgate/internal/components/members"
	"github.com/finsight/costgate/internal/identity"
	cachemem "github.com/finsight/costgate/internal/platform/cache/memory"
	"github.com/finsight/costgate/internal/platform/config"
	"github.com/finsight/costgate/internal/platform/http/client"
	"github.com/finsight/costgate/internal/platform/logutil"
	"github.com/finsight/costgate/internal/ratelimit"
	"github.com/finsight/costgate/internal/store"
	storemem "github.com/finsight/costgate/internal/store/memory"
	"github.com/finsight/costgate/internal/validate"
)

type stack struct {
	server  *Server
	users   *identity.MemoryUserRepo
	driver  *storemem.Driver
	org     *store.Organization
	backend *httptest.Server
}

// newStack builds the full server over in-memory infrastructure and a fake
// cost backend. Scenario baseline: org "acme_corp" with seat limit 5, one
// owner, two collaborators (3 active members), one pending invite.
func newStack(t *testing.T, backendHandler http.HandlerFunc) *stack {
	t.Helper()
	ctx := context.Background()

	backend := httptest.NewServer(backendHandler)
	t.Cleanup(backend.Close)

	users := identity.NewMemoryUserRepo()
	sessions := identity.NewMemorySessionRepo()
	driver := storemem.NewDriver()
	userAuth := identity.NewUserAuth(4) // min cost, tests only

	org := &store.Organization{Slug: "acme_corp", Name: "Acme Corp", APIKey: "key-123", SeatLimit: 5}
	if err := driver.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}

	hash, err := userAuth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for _, u := range []struct {
		id, email, role string
	}{
		{"owner1", "owner@acme.test", validate.RoleOwner},
		{"collab1", "collab1@acme.test", validate.RoleCollaborator},
		{"collab2", "collab2@acme.test", validate.RoleReadOnly},
	} {
		err := users.Create(ctx, &identity.User{ID: u.id, Email: u.email, PasswordHash: hash, EmailVerified: true})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		err = driver.UpsertMember(ctx, &store.Member{OrgID: org.ID, UserID: u.id, Role: u.role, Status: store.MemberActive})
		if err != nil {
			t.Fatalf("upsert member: %v", err)
		}
	}

	err = driver.CreateInvite(ctx, &store.Invite{
		OrgID:     org.ID,
		Email:     "earlier@x.com",
		Role:      validate.RoleCollaborator,
		Token:     "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		Status:    store.InvitePending,
		InvitedBy: "owner1",
		ExpiresAt: time.Now().Add(48 * time.Hour).Unix(),
	}, org.SeatLimit)
	if err != nil {
		t.Fatalf("seed invite: %v", err)
	}

	log := logutil.Noop()
	resolver := authctx.NewResolver(users, driver, driver, authctx.Config{}, log)
	backendClient := costs.NewBackendClient(costs.ClientConfig{BaseURL: backend.URL}, client.New(nil))
	gateway := costs.NewGateway(resolver, backendClient, costs.GatewayConfig{AuthRetryDelay: time.Millisecond}, log)
	aggregator := costs.NewAggregator(gateway, 1, log)
	limiter := ratelimit.New(cachemem.New(time.Hour, 0), nil, log)
	memberSvc := members.NewService(driver, users, limiter, members.NewLogMailer(log), members.Config{AppURL: "https://app.example"}, log)

	cfg := config.DevConfig()
	cfg.AppURL = "https://app.example"
	cfg.Backend.BaseURL = backend.URL

	srv, err := New(cfg, log, &Deps{
		Users:      users,
		Sessions:   sessions,
		UserAuth:   userAuth,
		Resolver:   resolver,
		Gateway:    gateway,
		Aggregator: aggregator,
		Members:    memberSvc,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &stack{server: srv, users: users, driver: driver, org: org, backend: backend}
}

func (s *stack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	return w
}

func (s *stack) login(t *testing.T, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func TestHealthzPublic(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {})
	if w := s.do(t, http.MethodGet, "/api/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status %d", w.Code)
	}
}

func TestCostRoutesRequireSession(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {})
	w := s.do(t, http.MethodGet, "/api/v1/orgs/acme_corp/costs/genai", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", w.Code)
	}
}

func TestCostRouteEnvelope(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cloud_cost":2,"genai_cost":3,"subscription_cost":1}`))
	})
	token := s.login(t, "owner@acme.test")

	w := s.do(t, http.MethodGet, "/api/v1/orgs/acme_corp/costs/total", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var res costs.Result[costs.CombinedTotals]
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Data.CombinedTotal != 6 {
		t.Errorf("unexpected result: %+v", res)
	}
}

var linkRE = regexp.MustCompile(`^https://app\.example/invite/([0-9a-f]{64})$`)

func TestInviteLifecycleOverHTTP(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {})
	owner := s.login(t, "owner@acme.test")

	// 3 active + 1 pending = 4 of 5 seats reserved; the invite fits.
	w := s.do(t, http.MethodPost, "/api/v1/orgs/acme_corp/invites", owner, map[string]string{
		"email": "new@x.com", "role": "collaborator",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create invite: status %d body %s", w.Code, w.Body.String())
	}
	var created struct {
		Invite *store.Invite `json:"invite"`
		Link   string        `json:"link"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := linkRE.FindStringSubmatch(created.Link)
	if m == nil {
		t.Fatalf("link = %q", created.Link)
	}
	if created.Invite.Token != "" {
		t.Error("token must not appear in the invite row of the response")
	}
	inviteToken := m[1]

	// Duplicate invite for the same email: conflict.
	w = s.do(t, http.MethodPost, "/api/v1/orgs/acme_corp/invites", owner, map[string]string{
		"email": "new@x.com", "role": "collaborator",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate invite: status %d, want 409", w.Code)
	}

	// Public invite info page.
	w = s.do(t, http.MethodGet, "/api/v1/invites/"+inviteToken, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("invite info: status %d", w.Code)
	}
	var info members.InviteInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Email != "new@x.com" || info.Status != store.InvitePending || info.IsExpired {
		t.Errorf("unexpected info: %+v", info)
	}

	// The invitee registers, verifies, and accepts.
	hash, _ := identity.NewUserAuth(4).HashPassword("hunter22")
	err := s.users.Create(context.Background(), &identity.User{
		ID: "newbie", Email: "new@x.com", PasswordHash: hash, EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("create invitee: %v", err)
	}
	invitee := s.login(t, "new@x.com")

	w = s.do(t, http.MethodPost, "/api/v1/invites/"+inviteToken+"/accept", invitee, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}

	member, err := s.driver.GetMember(context.Background(), s.org.ID, "newbie")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.Role != validate.RoleCollaborator || member.Status != store.MemberActive {
		t.Errorf("unexpected member: %+v", member)
	}

	// The new collaborator can list members but not invite.
	if w := s.do(t, http.MethodGet, "/api/v1/orgs/acme_corp/members", invitee, nil); w.Code != http.StatusOK {
		t.Errorf("list members: status %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/orgs/acme_corp/invites", invitee, map[string]string{
		"email": "another@x.com", "role": "read_only",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("collaborator invite: status %d, want 403", w.Code)
	}
}

func TestMalformedInviteTokenRejected(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {})
	w := s.do(t, http.MethodGet, "/api/v1/invites/not-a-token", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestExtendedPeriodsRoute(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"cloud_cost":1,"genai_cost":1,"subscription_cost":1}`)
	})
	token := s.login(t, "owner@acme.test")

	w := s.do(t, http.MethodGet, "/api/v1/orgs/acme_corp/costs/extended?cost_type=total", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var res costs.Result[costs.ExtendedPeriods]
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || len(res.Data.Periods) != 12 {
		t.Errorf("unexpected result: %+v", res)
	}
}
