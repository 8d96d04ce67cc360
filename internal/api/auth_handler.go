package api

import (
	"net/http"

	"github.com/alecgard/famledger/internal/auth"
	"github.com/alecgard/famledger/internal/service"
	"github.com/alecgard/famledger/internal/session"
)

// authHandler groups cluster signup and session HTTP handlers.
type authHandler struct {
	svc *service.Service
}

func newAuthHandler(svc *service.Service) *authHandler {
	return &authHandler{svc: svc}
}

type credentials struct {
	ClusterID string `json:"cluster_id"`
	Handle    string `json:"handle"`
	Secret    string `json:"secret"`
}

// loginData is the login response: the session plus the bearer credential
// to send on subsequent requests.
type loginData struct {
	Bearer  string           `json:"bearer"`
	Session *session.Session `json:"session"`
}

// SignupCluster handles POST /api/v1/clusters.
func (h *authHandler) SignupCluster(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	res := h.svc.SignupCluster(r.Context(), req.ClusterID, req.Handle, req.Secret)
	if res.Success {
		auditLog(r, "cluster.signup", "identity", res.Data.ID, "cluster_id", res.Data.ClusterID)
	}
	writeResult(w, res, http.StatusCreated)
}

// Login handles POST /api/v1/auth/login. Every HTTP login gets its own slot.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	res := h.svc.Login(r.Context(), session.NewSlot(), req.ClusterID, req.Handle, req.Secret)
	if !res.Success {
		writeResult(w, res, http.StatusOK)
		return
	}
	writeResult(w, service.Result[loginData]{
		Success: true,
		Data:    loginData{Bearer: res.Data.Bearer(), Session: res.Data},
	}, http.StatusOK)
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.Logout(r.Context(), sess.Slot), http.StatusOK)
}

// Session handles GET /api/v1/auth/session. The token is not echoed back.
func (h *authHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess := *auth.SessionFromContext(r.Context())
	sess.Token = ""
	writeResult(w, service.Result[session.Session]{Success: true, Data: sess}, http.StatusOK)
}

// ListMembers handles GET /api/v1/members.
func (h *authHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.ListIdentities(r.Context(), sess), http.StatusOK)
}

// ProvisionMember handles POST /api/v1/members.
func (h *authHandler) ProvisionMember(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	res := h.svc.ProvisionMember(r.Context(), sess, req.Handle, req.Secret)
	if res.Success {
		auditLog(r, "member.provision", "identity", res.Data.ID)
	}
	writeResult(w, res, http.StatusCreated)
}

// GetOnboarding handles GET /api/v1/onboarding.
func (h *authHandler) GetOnboarding(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.GetOnboardingStatus(r.Context(), sess.IdentityID), http.StatusOK)
}

// SetOnboarding handles PUT /api/v1/onboarding.
func (h *authHandler) SetOnboarding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Done bool `json:"done"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.SetOnboardingStatus(r.Context(), sess, req.Done), http.StatusOK)
}
