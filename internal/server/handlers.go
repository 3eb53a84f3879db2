package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/finsight/costgate/internal/components/api"
	"github.com/finsight/costgate/internal/components/costs"
	"github.com/finsight/costgate/internal/components/members"
	"github.com/finsight/costgate/internal/identity"
	"github.com/finsight/costgate/internal/platform/appctx"
	"github.com/finsight/costgate/internal/validate"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  *identity.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid request body")
		return
	}

	user, err := s.deps.UserAuth.Authenticate(r.Context(), s.deps.Users, req.Email, req.Password)
	if err != nil {
		api.WriteUnauthenticated(w, "invalid credentials")
		return
	}

	session, err := s.deps.Sessions.Create(r.Context(), user.ID, identity.DefaultSessionTTL)
	if err != nil {
		s.logger.Error("session creation failed", "error", err)
		api.WriteInternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
	api.WriteJSON(w, http.StatusOK, loginResponse{Token: session.Token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := extractSessionToken(r); token != "" {
		_ = s.deps.Sessions.Delete(r.Context(), token)
	}
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// filtersFromQuery parses cost query filters from query parameters.
func filtersFromQuery(r *http.Request) costs.Filters {
	q := r.URL.Query()
	f := costs.Filters{
		EntityID:      q.Get("entity_id"),
		HierarchyPath: q.Get("hierarchy_path"),
		StartDate:     q.Get("start_date"),
		EndDate:       q.Get("end_date"),
		Granularity:   q.Get("granularity"),
	}
	if v := q.Get("providers"); v != "" {
		f.Providers = strings.Split(v, ",")
	}
	if v := q.Get("categories"); v != "" {
		f.Categories = strings.Split(v, ",")
	}
	if v := q.Get("days"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			f.Days = days
		}
	}
	return f
}

// Cost query responses always carry the discriminated result envelope with
// status 200; the UI branches on the success field, not the HTTP status.

func (s *Server) handleGenAICosts(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.GenAICosts(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleCloudCosts(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.CloudCosts(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleTotalCosts(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.TotalCosts(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.Trend(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleGranularTrend(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.GranularTrend(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleByProvider(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.ByProvider(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleByService(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Gateway.ByService(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), filtersFromQuery(r))
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleExtendedPeriods(w http.ResponseWriter, r *http.Request) {
	costType := r.URL.Query().Get("cost_type")
	res := s.deps.Aggregator.ExtendedPeriodCosts(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), costType)
	api.WriteJSON(w, http.StatusOK, res)
}

// writeMemberError maps workflow errors onto the error envelope.
func (s *Server) writeMemberError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validate.ErrInvalidOrgSlug),
		errors.Is(err, validate.ErrInvalidEmail),
		errors.Is(err, validate.ErrInvalidToken),
		errors.Is(err, validate.ErrInvalidUUID),
		errors.Is(err, validate.ErrInvalidRole):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, members.ErrNotOwner),
		errors.Is(err, members.ErrNotMember),
		errors.Is(err, members.ErrTargetSelf),
		errors.Is(err, members.ErrTargetOwner),
		errors.Is(err, members.ErrEmailMismatch),
		errors.Is(err, members.ErrEmailNotVerified):
		api.WriteForbidden(w, err.Error())
	case errors.Is(err, members.ErrOrgNotFound),
		errors.Is(err, members.ErrInviteNotFound),
		errors.Is(err, members.ErrMemberNotFound):
		api.WriteNotFound(w, err.Error())
	case errors.Is(err, members.ErrInvitePending),
		errors.Is(err, members.ErrMemberExists),
		errors.Is(err, members.ErrInviteNotPending):
		api.WriteConflict(w, api.ReasonConflict, err.Error())
	case errors.Is(err, members.ErrSeatLimit):
		api.WriteConflict(w, api.ReasonSeatLimit, err.Error())
	case errors.Is(err, members.ErrInviteExpired):
		api.WriteError(w, http.StatusGone, api.ReasonInviteExpired, err.Error())
	case errors.Is(err, members.ErrRateLimited):
		api.WriteRateLimited(w, err.Error())
	default:
		s.logger.Error("member operation failed", "error", err)
		api.WriteInternalError(w)
	}
}

type createInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid request body")
		return
	}

	res, err := s.deps.Members.Invite(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), req.Email, req.Role)
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	res.Invite.Token = ""
	api.WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.deps.Members.ListInvites(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (s *Server) handleResendInvite(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Members.ResendInvite(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), chi.URLParam(r, "inviteID"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	res.Invite.Token = ""
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelInvite(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Members.CancelInvite(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), chi.URLParam(r, "inviteID"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInviteInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Members.GetInviteInfo(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	member, err := s.deps.Members.AcceptInvite(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "token"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, member)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.deps.Members.ListMembers(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"members": infos})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Members.RemoveMember(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid request body")
		return
	}
	err := s.deps.Members.UpdateMemberRole(r.Context(), appctx.UserID(r.Context()), chi.URLParam(r, "orgSlug"), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		s.writeMemberError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
