package api

import (
	"net/http"

	"github.com/alecgard/famledger/internal/auth"
	"github.com/alecgard/famledger/internal/ledger"
	"github.com/alecgard/famledger/internal/service"
	"github.com/go-chi/chi/v5"
)

// ledgerHandler groups transaction, capital request and reporting handlers.
type ledgerHandler struct {
	svc *service.Service
}

func newLedgerHandler(svc *service.Service) *ledgerHandler {
	return &ledgerHandler{svc: svc}
}

// ListTransactions handles GET /api/v1/transactions?identity_id=.
func (h *ledgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	res := h.svc.ListTransactions(r.Context(), sess, r.URL.Query().Get("identity_id"))
	writeResult(w, res, http.StatusOK)
}

// RecordTransaction handles POST /api/v1/transactions. An omitted
// identity_id records against the caller.
func (h *ledgerHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var in ledger.NewTransaction
	if !decodeBody(w, r, &in) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	if in.IdentityID == "" {
		in.IdentityID = sess.IdentityID
	}
	res := h.svc.RecordTransaction(r.Context(), sess, in)
	if res.Success {
		auditLog(r, "transaction.record", "transaction", res.Data.ID,
			"kind", res.Data.Kind, "amount", res.Data.Amount, "target_identity_id", res.Data.IdentityID)
	}
	writeResult(w, res, http.StatusCreated)
}

// ListRequests handles GET /api/v1/requests.
func (h *ledgerHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.ListRequests(r.Context(), sess), http.StatusOK)
}

// CreateRequest handles POST /api/v1/requests.
func (h *ledgerHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
		Reason string  `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	res := h.svc.CreateRequest(r.Context(), sess, req.Amount, req.Reason)
	if res.Success {
		auditLog(r, "request.create", "capital_request", res.Data.ID, "amount", res.Data.Amount)
	}
	writeResult(w, res, http.StatusCreated)
}

// ResolveRequest handles POST /api/v1/requests/{id}/resolve.
func (h *ledgerHandler) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status ledger.Status `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	res := h.svc.ResolveRequest(r.Context(), sess, id, req.Status)
	if res.Success {
		auditLog(r, "request.resolve", "capital_request", id, "status", res.Data.Status)
	}
	writeResult(w, res, http.StatusOK)
}

// FundRequest handles POST /api/v1/requests/{id}/fund.
func (h *ledgerHandler) FundRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category ledger.Category `json:"category"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	res := h.svc.ApproveAndFund(r.Context(), sess, id, req.Category)
	if res.Success {
		auditLog(r, "request.fund", "capital_request", id, "transaction_id", res.Data.Transaction.ID)
	}
	writeResult(w, res, http.StatusOK)
}

// Analytics handles GET /api/v1/analytics?identity_id=.
func (h *ledgerHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.Analytics(r.Context(), sess, r.URL.Query().Get("identity_id")), http.StatusOK)
}

// Insight handles GET /api/v1/insight?identity_id=.
func (h *ledgerHandler) Insight(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.Insight(r.Context(), sess, r.URL.Query().Get("identity_id")), http.StatusOK)
}
