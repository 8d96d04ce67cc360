// Package auth resolves bearer credentials on HTTP requests into sessions.
package auth

import (
	"context"

	"github.com/alecgard/famledger/internal/session"
)

// Authenticator resolves a "<slot>.<token>" bearer credential to a live
// session.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*session.Session, error)
}

type contextKey int

const sessionContextKey contextKey = iota

// ContextWithSession returns a new context carrying the given session.
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFromContext extracts the session from the context, or nil if not
// present.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionContextKey).(*session.Session)
	return sess
}
