// Package identity is the identity and cluster registry. It owns the
// uniqueness of (cluster, handle) pairs and the HOST/MEMBER hierarchy.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/authz"
	"github.com/alecgard/famledger/internal/session"
	"github.com/alecgard/famledger/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Registry creates identities and logs them in.
type Registry struct {
	store    *store.Store
	sessions *session.Manager
	gate     *authz.Gate
	cost     int
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewRegistry creates a registry storing identities in s.
func NewRegistry(s *store.Store, sessions *session.Manager, gate *authz.Gate) *Registry {
	return &Registry{
		store:    s,
		sessions: sessions,
		gate:     gate,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// SetHashCost changes the bcrypt cost for new credentials. Tests lower it.
func (r *Registry) SetHashCost(cost int) {
	r.cost = cost
}

// SetClock replaces the registry's time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// SignupCluster creates the HOST identity of a new cluster.
func (r *Registry) SignupCluster(ctx context.Context, clusterID, handle, secret string) (Identity, error) {
	clusterID, handle = Normalize(clusterID), Normalize(handle)
	if err := validateCredentials(clusterID, handle, secret); err != nil {
		return Identity{}, err
	}
	return r.create(ctx, Identity{
		ClusterID:     clusterID,
		DisplayHandle: handle,
		Role:          session.RoleHost,
	}, secret)
}

// ProvisionMember creates a MEMBER in the caller's cluster, parented to the
// calling HOST.
func (r *Registry) ProvisionMember(ctx context.Context, sess *session.Session, handle, secret string) (Identity, error) {
	if err := r.gate.Authorize(sess, authz.ProvisionMember, authz.Target{ClusterID: sess.ClusterIDOrEmpty()}); err != nil {
		return Identity{}, err
	}
	handle = Normalize(handle)
	if err := validateCredentials(sess.ClusterID, handle, secret); err != nil {
		return Identity{}, err
	}
	return r.create(ctx, Identity{
		ClusterID:     sess.ClusterID,
		DisplayHandle: handle,
		Role:          session.RoleMember,
		ParentID:      sess.IdentityID,
	}, secret)
}

func (r *Registry) create(ctx context.Context, ident Identity, secret string) (Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), r.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hashing credential: %w", err)
	}
	ident.ID = uuid.NewString()
	ident.SecretHash = string(hash)
	ident.Active = true
	ident.CreatedAt = r.now().UTC()

	err = r.store.Update(ctx, func(tx *store.Tx) error {
		all, err := store.All[Identity](tx, store.Identities)
		if err != nil {
			return err
		}
		if _, ok := lookup(all, ident.ClusterID, ident.DisplayHandle); ok {
			return fmt.Errorf("%s/%s: %w", ident.ClusterID, ident.DisplayHandle, apperr.ErrDuplicateIdentity)
		}
		// A cluster has exactly one HOST, the identity that signed it up.
		if ident.Role == session.RoleHost {
			for _, existing := range all {
				if existing.ClusterID == ident.ClusterID {
					return fmt.Errorf("cluster %s: %w", ident.ClusterID, apperr.ErrDuplicateIdentity)
				}
			}
		}
		return store.Replace(tx, store.Identities, append(all, ident))
	})
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Login verifies credentials and issues a session into slot. Every mismatch
// returns the same apperr.ErrAuthenticationFailed, and an unknown handle still
// costs one bcrypt comparison.
func (r *Registry) Login(ctx context.Context, slot, clusterID, handle, secret string) (*session.Session, error) {
	clusterID, handle = Normalize(clusterID), Normalize(handle)

	var (
		ident Identity
		found bool
	)
	err := r.store.View(ctx, func(tx *store.Tx) error {
		all, err := store.All[Identity](tx, store.Identities)
		if err != nil {
			return err
		}
		ident, found = lookup(all, clusterID, handle)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !found {
		_ = bcrypt.CompareHashAndPassword(r.dummy(), []byte(secret))
		return nil, apperr.ErrAuthenticationFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ident.SecretHash), []byte(secret)); err != nil {
		return nil, apperr.ErrAuthenticationFailed
	}
	if !ident.Active {
		return nil, apperr.ErrAuthenticationFailed
	}

	return r.sessions.Issue(ctx, slot, ident.Principal())
}

// Logout revokes the slot's session.
func (r *Registry) Logout(ctx context.Context, slot string) error {
	return r.sessions.Revoke(ctx, slot)
}

// Get returns the identity with the given id.
func (r *Registry) Get(ctx context.Context, id string) (Identity, error) {
	var ident Identity
	err := r.store.View(ctx, func(tx *store.Tx) error {
		var err error
		ident, err = store.Find[Identity](tx, store.Identities, id)
		return err
	})
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// List returns the identities of the caller's cluster in creation order.
func (r *Registry) List(ctx context.Context, sess *session.Session) ([]Identity, error) {
	if err := r.gate.Require(sess); err != nil {
		return nil, err
	}
	all, err := store.ReadAll[Identity](ctx, r.store, store.Identities)
	if err != nil {
		return nil, err
	}
	out := make([]Identity, 0, len(all))
	for _, ident := range all {
		if ident.ClusterID == sess.ClusterID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (r *Registry) onboardingKey(identityID string) string {
	return r.store.Key("onboarding", identityID)
}

// OnboardingStatus reports whether identityID has acknowledged onboarding.
// Unknown identities report false.
func (r *Registry) OnboardingStatus(ctx context.Context, identityID string) (bool, error) {
	var done bool
	err := r.store.View(ctx, func(tx *store.Tx) error {
		var err error
		done, _, err = store.Get[bool](tx, r.onboardingKey(identityID))
		return err
	})
	return done, err
}

// SetOnboardingStatus records the caller's own onboarding flag.
func (r *Registry) SetOnboardingStatus(ctx context.Context, sess *session.Session, done bool) error {
	if err := r.gate.Authorize(sess, authz.UpdateOwnProfile, authz.Target{IdentityID: sess.IdentityIDOrEmpty()}); err != nil {
		return err
	}
	return r.store.Update(ctx, func(tx *store.Tx) error {
		return store.Put(tx, r.onboardingKey(sess.IdentityID), done)
	})
}

func (r *Registry) dummy() []byte {
	r.dummyOnce.Do(func() {
		r.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("famledger-dummy-credential"), r.cost)
	})
	return r.dummyHash
}

func lookup(all []Identity, clusterID, handle string) (Identity, bool) {
	for _, ident := range all {
		if Normalize(ident.ClusterID) == clusterID && Normalize(ident.DisplayHandle) == handle {
			return ident, true
		}
	}
	return Identity{}, false
}

func validateCredentials(clusterID, handle, secret string) error {
	switch {
	case clusterID == "":
		return apperr.Invalid("cluster_id", "cluster id is required")
	case handle == "":
		return apperr.Invalid("handle", "handle is required")
	case secret == "":
		return apperr.Invalid("secret", "secret is required")
	case len(secret) > 72:
		return apperr.Invalid("secret", "secret must be at most 72 bytes")
	}
	return nil
}
