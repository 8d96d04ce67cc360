package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alecgard/famledger/internal/session"
)

type mockAuthenticator struct {
	sessions map[string]*session.Session
}

func (m *mockAuthenticator) Authenticate(_ context.Context, bearer string) (*session.Session, error) {
	sess, ok := m.sessions[bearer]
	if !ok {
		return nil, errors.New("not found")
	}
	return sess, nil
}

func TestSessionContext_RoundTrip(t *testing.T) {
	sess := &session.Session{Slot: "s1", IdentityID: "id-1"}
	ctx := ContextWithSession(context.Background(), sess)
	if got := SessionFromContext(ctx); got != sess {
		t.Errorf("expected %v, got %v", sess, got)
	}
}

func TestSessionFromContext_Empty(t *testing.T) {
	if got := SessionFromContext(context.Background()); got != nil {
		t.Errorf("expected nil session, got %v", got)
	}
}

func TestSessionMiddleware(t *testing.T) {
	bearer := "slot-1.abcdef"
	authn := &mockAuthenticator{
		sessions: map[string]*session.Session{
			bearer: {Slot: "slot-1", Token: "abcdef", IdentityID: "id-1", ClusterID: "fam1", Role: session.RoleHost},
		},
	}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil {
			t.Error("expected session in context inside handler")
		} else if sess.IdentityID != "id-1" {
			t.Errorf("expected identity id-1, got %q", sess.IdentityID)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid bearer", "Bearer " + bearer, http.StatusOK},
		{"lowercase scheme", "bearer " + bearer, http.StatusOK},
		{"unknown bearer", "Bearer slot-1.wrong", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + bearer, http.StatusUnauthorized},
		{"scheme only", "Bearer", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			SessionMiddleware(authn)(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assertJSONError(t, rr)
			}
		})
	}
}

func assertJSONError(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != "unauthorized" {
		t.Errorf("expected error code 'unauthorized', got %q", resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected non-empty error message")
	}
}
