// Package session issues, persists, validates and revokes the time-bounded
// credential that binds a caller to an identity, a cluster and a role.
//
// Each client context owns one slot holding at most one current session;
// issuing into an occupied slot replaces the previous session. Expiry is
// checked lazily whenever a slot is read; there is no background sweep.
// The HTTP API gives every login a fresh slot, so the session of a client
// that never presents its bearer again, and never logs out, stays in the
// store after it expires. Store growth is therefore bounded by the number
// of logins, not the number of live callers.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/store"
	"github.com/google/uuid"
)

// DefaultTTL is how long a session stays valid after login.
const DefaultTTL = 24 * time.Hour

// LocalSlot is the slot used by single-user clients such as the CLI.
const LocalSlot = "local"

// Role is the authorization role of an identity.
type Role string

const (
	RoleHost   Role = "HOST"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleMember
}

// Principal is what a session vouches for.
type Principal struct {
	IdentityID string
	ClusterID  string
	Role       Role
}

// Session is the capability artifact returned by login.
type Session struct {
	Slot       string    `json:"slot"`
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	ClusterID  string    `json:"cluster_id"`
	Role       Role      `json:"role"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now. A session
// whose expiry equals now is expired.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ClusterIDOrEmpty returns the session's cluster, or "" for a nil session.
func (s *Session) ClusterIDOrEmpty() string {
	if s == nil {
		return ""
	}
	return s.ClusterID
}

// IdentityIDOrEmpty returns the session's identity, or "" for a nil session.
func (s *Session) IdentityIDOrEmpty() string {
	if s == nil {
		return ""
	}
	return s.IdentityID
}

// Bearer returns the credential remote clients present: "<slot>.<token>".
func (s *Session) Bearer() string {
	return s.Slot + "." + s.Token
}

// SplitBearer parses a credential produced by Session.Bearer.
func SplitBearer(bearer string) (slot, token string, ok bool) {
	slot, token, ok = strings.Cut(bearer, ".")
	if !ok || slot == "" || token == "" {
		return "", "", false
	}
	return slot, token, true
}

// NewSlot returns a fresh, unguessable slot name for a remote client.
func NewSlot() string {
	return uuid.NewString()
}

// Manager persists sessions in the entity store.
type Manager struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time // injectable clock for testing
}

// NewManager creates a Manager. A non-positive ttl selects DefaultTTL.
func NewManager(s *store.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: s, ttl: ttl, now: time.Now}
}

// SetClock replaces the manager's time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) slotKey(slot string) string {
	return m.store.Key("session", slot)
}

// Issue generates a new token for p and stores it as the slot's current
// session, replacing any previous one.
func (m *Manager) Issue(ctx context.Context, slot string, p Principal) (*Session, error) {
	if slot == "" || strings.Contains(slot, ".") {
		return nil, apperr.Invalid("slot", "session slot is invalid")
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := &Session{
		Slot:       slot,
		Token:      token,
		IdentityID: p.IdentityID,
		ClusterID:  p.ClusterID,
		Role:       p.Role,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.ttl),
	}

	err = m.store.Update(ctx, func(tx *store.Tx) error {
		return store.Put(tx, m.slotKey(slot), sess)
	})
	if err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return sess, nil
}

// Current returns the slot's session, or nil when the slot is empty. An
// expired session is deleted and reported as absent.
func (m *Manager) Current(ctx context.Context, slot string) (*Session, error) {
	var current *Session
	err := m.store.Update(ctx, func(tx *store.Tx) error {
		key := m.slotKey(slot)
		sess, ok, err := store.Get[Session](tx, key)
		if err != nil || !ok {
			return err
		}
		if sess.Expired(m.now()) {
			return store.Delete(tx, key)
		}
		current = &sess
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return current, nil
}

// Revoke deletes the slot's session. Revoking an empty slot succeeds.
func (m *Manager) Revoke(ctx context.Context, slot string) error {
	err := m.store.Update(ctx, func(tx *store.Tx) error {
		return store.Delete(tx, m.slotKey(slot))
	})
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// Authenticate resolves a bearer credential to its live session. Malformed,
// unknown, mismatched and expired credentials all fail with
// apperr.ErrAuthenticationFailed.
func (m *Manager) Authenticate(ctx context.Context, bearer string) (*Session, error) {
	slot, token, ok := SplitBearer(bearer)
	if !ok {
		return nil, apperr.ErrAuthenticationFailed
	}
	sess, err := m.Current(ctx, slot)
	if err != nil {
		return nil, err
	}
	if sess == nil || subtle.ConstantTimeCompare([]byte(sess.Token), []byte(token)) != 1 {
		return nil, apperr.ErrAuthenticationFailed
	}
	return sess, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
