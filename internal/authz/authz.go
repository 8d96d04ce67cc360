// Package authz is the authorization gate consulted by every write path.
package authz

import (
	"fmt"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/session"
)

// Action names an operation subject to authorization.
type Action string

const (
	ProvisionMember         Action = "provisionMember"
	CreditArbitraryIdentity Action = "creditArbitraryIdentity"
	RecordOwnTransaction    Action = "recordOwnTransaction"
	CreateRequest           Action = "createRequest"
	ResolveRequest          Action = "resolveRequest"
	SendMessage             Action = "sendMessage"
	MarkMessageRead         Action = "markMessageRead"
	UpdateOwnProfile        Action = "updateOwnProfile"
)

// Actions lists every known action.
var Actions = []Action{
	ProvisionMember,
	CreditArbitraryIdentity,
	RecordOwnTransaction,
	CreateRequest,
	ResolveRequest,
	SendMessage,
	MarkMessageRead,
	UpdateOwnProfile,
}

// Target describes what an action is applied to. Fields an action does not
// look at may be left empty.
type Target struct {
	IdentityID string
	ClusterID  string
}

// Denial is returned when the gate refuses an action.
type Denial struct {
	Action Action
	Reason string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s denied: %s", d.Action, d.Reason)
}

// Unwrap lets errors.Is(err, apperr.ErrUnauthorized) match.
func (d *Denial) Unwrap() error { return apperr.ErrUnauthorized }

// Gate decides whether a session may perform an action. It holds no state
// besides its clock.
type Gate struct {
	now func() time.Time
}

// NewGate returns a gate using the wall clock.
func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// SetClock replaces the gate's time source.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Require checks only that sess is present, unexpired and carries a known
// role. Read paths use it; write paths use Authorize.
func (g *Gate) Require(sess *session.Session) error {
	return g.check(sess, "read")
}

func (g *Gate) check(sess *session.Session, action Action) error {
	switch {
	case sess == nil:
		return &Denial{Action: action, Reason: "no session"}
	case sess.Expired(g.now()):
		return &Denial{Action: action, Reason: "session expired"}
	case !sess.Role.Valid():
		return &Denial{Action: action, Reason: "unknown role"}
	}
	return nil
}

// Authorize returns nil when sess may perform action on target and a
// *Denial otherwise. A nil or expired session is always denied.
func (g *Gate) Authorize(sess *session.Session, action Action, target Target) error {
	if err := g.check(sess, action); err != nil {
		return err
	}

	host := sess.Role == session.RoleHost
	sameCluster := target.ClusterID != "" && target.ClusterID == sess.ClusterID
	self := target.IdentityID != "" && target.IdentityID == sess.IdentityID

	var ok bool
	switch action {
	case ProvisionMember:
		ok = host
	case CreditArbitraryIdentity, ResolveRequest:
		ok = host && sameCluster
	case RecordOwnTransaction, MarkMessageRead, UpdateOwnProfile:
		ok = self
	case CreateRequest:
		ok = sess.Role == session.RoleMember
	case SendMessage:
		ok = sameCluster
	default:
		return &Denial{Action: action, Reason: "unknown action"}
	}
	if !ok {
		return &Denial{Action: action, Reason: fmt.Sprintf("not permitted for %s", sess.Role)}
	}
	return nil
}
