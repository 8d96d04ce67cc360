package api

import (
	"net/http"

	"github.com/alecgard/famledger/internal/auth"
	"github.com/alecgard/famledger/internal/message"
	"github.com/alecgard/famledger/internal/service"
	"github.com/go-chi/chi/v5"
)

type messagesHandler struct {
	svc *service.Service
}

func newMessagesHandler(svc *service.Service) *messagesHandler {
	return &messagesHandler{svc: svc}
}

// List handles GET /api/v1/messages.
func (h *messagesHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.ListMessages(r.Context(), sess), http.StatusOK)
}

// Send handles POST /api/v1/messages.
func (h *messagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var d message.Draft
	if !decodeBody(w, r, &d) {
		return
	}
	sess := auth.SessionFromContext(r.Context())
	res := h.svc.SendMessage(r.Context(), sess, d)
	if res.Success {
		auditLog(r, "message.send", "message", res.Data.ID, "to_id", res.Data.ToID)
	}
	writeResult(w, res, http.StatusCreated)
}

// MarkRead handles POST /api/v1/messages/{id}/read.
func (h *messagesHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	writeResult(w, h.svc.MarkMessageRead(r.Context(), sess, chi.URLParam(r, "id")), http.StatusOK)
}
