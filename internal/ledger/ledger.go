// Package ledger records transactions and capital requests and answers
// balance queries. Every write consults the authorization gate before it
// touches the store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/authz"
	"github.com/alecgard/famledger/internal/identity"
	"github.com/alecgard/famledger/internal/session"
	"github.com/alecgard/famledger/internal/store"
	"github.com/google/uuid"
)

var errRequestNotFound = fmt.Errorf("capital request: %w", apperr.ErrNotFound)

var errIdentityNotFound = fmt.Errorf("identity: %w", apperr.ErrNotFound)

// NewTransaction is the input to RecordTransaction. A zero Timestamp means
// now.
type NewTransaction struct {
	IdentityID  string    `json:"identity_id" validate:"required"`
	Amount      float64   `json:"amount" validate:"gt=0"`
	Kind        Kind      `json:"kind" validate:"required,oneof=CREDIT DEBIT"`
	Category    Category  `json:"category" validate:"required,oneof=FOOD HOUSING TRANSPORT EDUCATION HEALTH ENTERTAINMENT UTILITIES SAVINGS ALLOWANCE OTHER"`
	Description string    `json:"description" validate:"max=500"`
	Timestamp   time.Time `json:"timestamp"`
}

type newRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Reason string  `json:"reason" validate:"required,max=500"`
}

// Service implements the ledger operations.
type Service struct {
	store    *store.Store
	gate     *authz.Gate
	validate *apperr.Validator
	now      func() time.Time
}

// NewService creates a ledger service over s.
func NewService(s *store.Store, gate *authz.Gate) *Service {
	return &Service{
		store:    s,
		gate:     gate,
		validate: apperr.NewValidator(),
		now:      time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RecordTransaction appends a transaction. Recording for oneself needs only a
// live session; recording for anyone else requires the HOST of that
// identity's cluster.
func (s *Service) RecordTransaction(ctx context.Context, sess *session.Session, in NewTransaction) (Transaction, error) {
	own := in.IdentityID != "" && in.IdentityID == sess.IdentityIDOrEmpty()
	if own {
		if err := s.gate.Authorize(sess, authz.RecordOwnTransaction, authz.Target{IdentityID: in.IdentityID}); err != nil {
			return Transaction{}, err
		}
	} else {
		// Refuse non-hosts before revealing whether the target exists.
		if err := s.gate.Authorize(sess, authz.CreditArbitraryIdentity, authz.Target{ClusterID: sess.ClusterIDOrEmpty()}); err != nil {
			return Transaction{}, err
		}
	}

	in.Description = strings.TrimSpace(in.Description)
	if err := s.validateAmount(in.Amount); err != nil {
		return Transaction{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		IdentityID:  in.IdentityID,
		Amount:      in.Amount,
		Kind:        in.Kind,
		Category:    in.Category,
		Description: in.Description,
		Timestamp:   in.Timestamp,
		CreatedBy:   sess.IdentityID,
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.now().UTC()
	}

	err := s.store.Update(ctx, func(t *store.Tx) error {
		target, err := findIdentity(t, in.IdentityID)
		if err != nil {
			return err
		}
		if !own {
			err := s.gate.Authorize(sess, authz.CreditArbitraryIdentity, authz.Target{
				IdentityID: target.ID,
				ClusterID:  target.ClusterID,
			})
			if err != nil {
				return err
			}
		}
		return store.Append(t, store.Transactions, tx)
	})
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// CreateRequest opens a PENDING capital request for the calling member.
func (s *Service) CreateRequest(ctx context.Context, sess *session.Session, amount float64, reason string) (CapitalRequest, error) {
	err := s.gate.Authorize(sess, authz.CreateRequest, authz.Target{
		IdentityID: sess.IdentityIDOrEmpty(),
		ClusterID:  sess.ClusterIDOrEmpty(),
	})
	if err != nil {
		return CapitalRequest{}, err
	}

	reason = strings.TrimSpace(reason)
	if err := s.validateAmount(amount); err != nil {
		return CapitalRequest{}, err
	}
	if err := s.validate.Struct(newRequest{Amount: amount, Reason: reason}); err != nil {
		return CapitalRequest{}, err
	}

	req := CapitalRequest{
		ID:          uuid.NewString(),
		RequesterID: sess.IdentityID,
		ClusterID:   sess.ClusterID,
		Amount:      amount,
		Reason:      reason,
		Status:      Pending,
		Timestamp:   s.now().UTC(),
	}
	err = s.store.Update(ctx, func(t *store.Tx) error {
		if _, err := findIdentity(t, req.RequesterID); err != nil {
			return err
		}
		return store.Append(t, store.Requests, req)
	})
	if err != nil {
		return CapitalRequest{}, err
	}
	return req, nil
}

// ResolveRequest moves a PENDING request to APPROVED or REJECTED. It does not
// move any money; use ApproveAndFund to approve and credit together.
func (s *Service) ResolveRequest(ctx context.Context, sess *session.Session, requestID string, status Status) (CapitalRequest, error) {
	if err := s.preauthorizeResolve(sess); err != nil {
		return CapitalRequest{}, err
	}

	var resolved CapitalRequest
	err := s.store.Update(ctx, func(t *store.Tx) error {
		var err error
		resolved, err = s.resolve(t, sess, requestID, status)
		return err
	})
	if err != nil {
		return CapitalRequest{}, err
	}
	return resolved, nil
}

// ApproveAndFund approves a PENDING request and credits its amount to the
// requester in one store transaction: either both writes happen or neither
// does. An empty category records the credit as ALLOWANCE.
func (s *Service) ApproveAndFund(ctx context.Context, sess *session.Session, requestID string, category Category) (CapitalRequest, Transaction, error) {
	if category == "" {
		category = Allowance
	}
	if !category.Valid() {
		return CapitalRequest{}, Transaction{}, apperr.Invalid("category", "category is invalid")
	}
	if err := s.preauthorizeResolve(sess); err != nil {
		return CapitalRequest{}, Transaction{}, err
	}

	var (
		approved CapitalRequest
		funding  Transaction
	)
	err := s.store.Update(ctx, func(t *store.Tx) error {
		var err error
		approved, err = s.resolve(t, sess, requestID, Approved)
		if err != nil {
			return err
		}

		funding = Transaction{
			ID:          uuid.NewString(),
			IdentityID:  approved.RequesterID,
			Amount:      approved.Amount,
			Kind:        Credit,
			Category:    category,
			Description: "capital request: " + approved.Reason,
			Timestamp:   *approved.ResolvedAt,
			CreatedBy:   sess.IdentityID,
		}
		if err := store.Append(t, store.Transactions, funding); err != nil {
			return err
		}

		approved, err = store.UpdateRecord(t, store.Requests, approved.ID, func(r *CapitalRequest) error {
			r.FundingTxID = funding.ID
			return nil
		})
		return err
	})
	if err != nil {
		return CapitalRequest{}, Transaction{}, err
	}
	return approved, funding, nil
}

func (s *Service) preauthorizeResolve(sess *session.Session) error {
	return s.gate.Authorize(sess, authz.ResolveRequest, authz.Target{ClusterID: sess.ClusterIDOrEmpty()})
}

func (s *Service) resolve(t *store.Tx, sess *session.Session, requestID string, status Status) (CapitalRequest, error) {
	resolved, err := store.UpdateRecord(t, store.Requests, requestID, func(r *CapitalRequest) error {
		err := s.gate.Authorize(sess, authz.ResolveRequest, authz.Target{
			IdentityID: r.RequesterID,
			ClusterID:  r.ClusterID,
		})
		if err != nil {
			return err
		}
		// A resolved request stays resolved whatever status is asked for.
		if r.Status != Pending {
			return fmt.Errorf("%s to %s: %w", r.Status, status, apperr.ErrInvalidTransition)
		}
		switch {
		case status.Terminal():
		case status == Pending:
			return fmt.Errorf("%s to %s: %w", r.Status, status, apperr.ErrInvalidTransition)
		default:
			return apperr.Invalid("status", "status must be one of APPROVED, REJECTED")
		}
		at := s.now().UTC()
		r.Status = status
		r.ResolvedAt = &at
		r.ResolvedBy = sess.IdentityID
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return CapitalRequest{}, errRequestNotFound
	}
	return resolved, err
}

// Balance returns the current balance of identityID.
func (s *Service) Balance(ctx context.Context, identityID string) (float64, error) {
	txs, err := store.ReadAll[Transaction](ctx, s.store, store.Transactions)
	if err != nil {
		return 0, err
	}
	return ComputeBalance(identityID, txs), nil
}

// ListTransactions returns transactions visible to the caller, in insertion
// order. With an empty identityID a HOST sees the whole cluster and a MEMBER
// sees their own; otherwise the listing is restricted to identityID, which a
// MEMBER may only set to themself.
func (s *Service) ListTransactions(ctx context.Context, sess *session.Session, identityID string) ([]Transaction, error) {
	if err := s.gate.Require(sess); err != nil {
		return nil, err
	}

	var out []Transaction
	err := s.store.View(ctx, func(t *store.Tx) error {
		visible, err := s.visibleIdentities(t, sess)
		if err != nil {
			return err
		}
		if identityID != "" {
			if !visible[identityID] {
				return &authz.Denial{Action: "listTransactions", Reason: "identity not visible"}
			}
			visible = map[string]bool{identityID: true}
		}

		all, err := store.All[Transaction](t, store.Transactions)
		if err != nil {
			return err
		}
		out = make([]Transaction, 0, len(all))
		for _, tx := range all {
			if visible[tx.IdentityID] {
				out = append(out, tx)
			}
		}
		return nil
	})
	return out, err
}

// ListRequests returns the cluster's requests to a HOST and the caller's own
// requests to a MEMBER.
func (s *Service) ListRequests(ctx context.Context, sess *session.Session) ([]CapitalRequest, error) {
	if err := s.gate.Require(sess); err != nil {
		return nil, err
	}
	all, err := store.ReadAll[CapitalRequest](ctx, s.store, store.Requests)
	if err != nil {
		return nil, err
	}
	out := make([]CapitalRequest, 0, len(all))
	for _, r := range all {
		if (sess.Role == session.RoleHost && r.ClusterID == sess.ClusterID) ||
			r.RequesterID == sess.IdentityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) visibleIdentities(t *store.Tx, sess *session.Session) (map[string]bool, error) {
	visible := map[string]bool{sess.IdentityID: true}
	if sess.Role != session.RoleHost {
		return visible, nil
	}
	idents, err := store.All[identity.Identity](t, store.Identities)
	if err != nil {
		return nil, err
	}
	for _, ident := range idents {
		if ident.ClusterID == sess.ClusterID {
			visible[ident.ID] = true
		}
	}
	return visible, nil
}

func (s *Service) validateAmount(amount float64) error {
	if math.IsNaN(amount) || amount <= 0 {
		return apperr.Invalid("amount", "amount must be positive")
	}
	if math.IsInf(amount, 0) {
		return apperr.Invalid("amount", "amount must be finite")
	}
	return nil
}

func findIdentity(t *store.Tx, id string) (identity.Identity, error) {
	ident, err := store.Find[identity.Identity](t, store.Identities, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return identity.Identity{}, errIdentityNotFound
	}
	return ident, err
}
