package identity

import (
	"strings"
	"time"

	"github.com/alecgard/famledger/internal/session"
)

// Identity is an account inside a cluster.
type Identity struct {
	ID            string       `json:"id"`
	ClusterID     string       `json:"cluster_id"`
	DisplayHandle string       `json:"display_handle"`
	SecretHash    string       `json:"credential_secret"`
	Role          session.Role `json:"role"`
	ParentID      string       `json:"parent_id,omitempty"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (i Identity) RecordID() string { return i.ID }

// Principal returns what a session issued for i vouches for.
func (i Identity) Principal() session.Principal {
	return session.Principal{IdentityID: i.ID, ClusterID: i.ClusterID, Role: i.Role}
}

// Profile is the client-facing view of an identity, without the credential.
type Profile struct {
	ID            string       `json:"id"`
	ClusterID     string       `json:"cluster_id"`
	DisplayHandle string       `json:"display_handle"`
	Role          session.Role `json:"role"`
	ParentID      string       `json:"parent_id,omitempty"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Profile strips the credential hash.
func (i Identity) Profile() Profile {
	return Profile{
		ID:            i.ID,
		ClusterID:     i.ClusterID,
		DisplayHandle: i.DisplayHandle,
		Role:          i.Role,
		ParentID:      i.ParentID,
		Active:        i.Active,
		CreatedAt:     i.CreatedAt,
	}
}

// Normalize trims and case-folds a cluster id or display handle.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
