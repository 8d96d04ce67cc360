// Package service is the facade presentation layers call. Every operation
// returns a Result envelope instead of an error; mutating operations take the
// caller's session first.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alecgard/famledger/internal/analytics"
	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/authz"
	"github.com/alecgard/famledger/internal/identity"
	"github.com/alecgard/famledger/internal/insight"
	"github.com/alecgard/famledger/internal/ledger"
	"github.com/alecgard/famledger/internal/message"
	"github.com/alecgard/famledger/internal/session"
	"github.com/alecgard/famledger/internal/store"
)

// Observer receives operational counters. *metrics.Metrics implements it.
type Observer interface {
	IncAuthSuccess(authType string)
	IncAuthFailure(authType string)
	IncDenial(operation string)
	IncLedgerWrite(operation string)
	IncInsightFallback()
}

type nopObserver struct{}

func (nopObserver) IncAuthSuccess(string) {}
func (nopObserver) IncAuthFailure(string) {}
func (nopObserver) IncDenial(string) {}
func (nopObserver) IncLedgerWrite(string) {}
func (nopObserver) IncInsightFallback() {}

// Options configures New.
type Options struct {
	SessionTTL     time.Duration
	Summarizer     insight.Summarizer
	InsightTimeout time.Duration
	Observer       Observer
	Clock          func() time.Time
}

// Service wires the core components together.
type Service struct {
	sessions  *session.Manager
	registry  *identity.Registry
	ledger    *ledger.Service
	messages  *message.Service
	annotator *insight.Annotator
	observer  Observer
	now       func() time.Time
}

// New builds the facade over s.
func New(s *store.Store, opts Options) *Service {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	gate := authz.NewGate()
	gate.SetClock(now)
	sessions := session.NewManager(s, opts.SessionTTL)
	sessions.SetClock(now)
	registry := identity.NewRegistry(s, sessions, gate)
	registry.SetClock(now)
	ledgerSvc := ledger.NewService(s, gate)
	ledgerSvc.SetClock(now)
	messages := message.NewService(s, gate)
	messages.SetClock(now)

	return &Service{
		sessions:  sessions,
		registry:  registry,
		ledger:    ledgerSvc,
		messages:  messages,
		annotator: insight.NewAnnotator(opts.Summarizer, opts.InsightTimeout),
		observer:  observer,
		now:       now,
	}
}

// Registry exposes the identity registry, e.g. to lower the hash cost in tests.
func (s *Service) Registry() *identity.Registry {
	return s.registry
}

// Funding is the outcome of ApproveAndFund.
type Funding struct {
	Request     ledger.CapitalRequest `json:"request"`
	Transaction ledger.Transaction    `json:"transaction"`
}

// Insight is narrative commentary; Fallback marks the placeholder text.
type Insight struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
}

// SignupCluster creates a new cluster and its HOST.
func (s *Service) SignupCluster(ctx context.Context, clusterID, handle, secret string) Result[identity.Profile] {
	ident, err := s.registry.SignupCluster(ctx, clusterID, handle, secret)
	if err != nil {
		return failed[identity.Profile](ctx, s, "signupCluster", err)
	}
	return ok(ident.Profile())
}

// ProvisionMember creates a MEMBER in the caller's cluster.
func (s *Service) ProvisionMember(ctx context.Context, sess *session.Session, handle, secret string) Result[identity.Profile] {
	ident, err := s.registry.ProvisionMember(ctx, sess, handle, secret)
	if err != nil {
		return failed[identity.Profile](ctx, s, "provisionMember", err)
	}
	return ok(ident.Profile())
}

// Login authenticates and stores the new session in slot.
func (s *Service) Login(ctx context.Context, slot, clusterID, handle, secret string) Result[*session.Session] {
	sess, err := s.registry.Login(ctx, slot, clusterID, handle, secret)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuthenticationFailed {
			s.observer.IncAuthFailure("password")
		}
		return failed[*session.Session](ctx, s, "login", err)
	}
	s.observer.IncAuthSuccess("password")
	return ok(sess)
}

// Logout clears slot.
func (s *Service) Logout(ctx context.Context, slot string) Result[bool] {
	if err := s.registry.Logout(ctx, slot); err != nil {
		return failed[bool](ctx, s, "logout", err)
	}
	return ok(true)
}

// GetStoredSession returns the live session in slot; Data is nil when there
// is none.
func (s *Service) GetStoredSession(ctx context.Context, slot string) Result[*session.Session] {
	sess, err := s.sessions.Current(ctx, slot)
	if err != nil {
		return failed[*session.Session](ctx, s, "getStoredSession", err)
	}
	return ok(sess)
}

// Authenticate resolves a remote bearer credential.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*session.Session, error) {
	sess, err := s.sessions.Authenticate(ctx, bearer)
	if err != nil {
		s.observer.IncAuthFailure("bearer")
		return nil, err
	}
	s.observer.IncAuthSuccess("bearer")
	return sess, nil
}

// ListIdentities returns the caller's cluster.
func (s *Service) ListIdentities(ctx context.Context, sess *session.Session) Result[[]identity.Profile] {
	idents, err := s.registry.List(ctx, sess)
	if err != nil {
		return failed[[]identity.Profile](ctx, s, "listIdentities", err)
	}
	out := make([]identity.Profile, len(idents))
	for i, ident := range idents {
		out[i] = ident.Profile()
	}
	return ok(out)
}

// ListTransactions returns the transactions visible to the caller, optionally
// restricted to identityID.
func (s *Service) ListTransactions(ctx context.Context, sess *session.Session, identityID string) Result[[]ledger.Transaction] {
	txs, err := s.ledger.ListTransactions(ctx, sess, identityID)
	if err != nil {
		return failed[[]ledger.Transaction](ctx, s, "listTransactions", err)
	}
	return ok(txs)
}

// ListRequests returns the capital requests visible to the caller.
func (s *Service) ListRequests(ctx context.Context, sess *session.Session) Result[[]ledger.CapitalRequest] {
	reqs, err := s.ledger.ListRequests(ctx, sess)
	if err != nil {
		return failed[[]ledger.CapitalRequest](ctx, s, "listRequests", err)
	}
	return ok(reqs)
}

// ListMessages returns the messages visible to the caller.
func (s *Service) ListMessages(ctx context.Context, sess *session.Session) Result[[]message.Message] {
	msgs, err := s.messages.List(ctx, sess)
	if err != nil {
		return failed[[]message.Message](ctx, s, "listMessages", err)
	}
	return ok(msgs)
}

// RecordTransaction appends a credit or debit.
func (s *Service) RecordTransaction(ctx context.Context, sess *session.Session, in ledger.NewTransaction) Result[ledger.Transaction] {
	tx, err := s.ledger.RecordTransaction(ctx, sess, in)
	if err != nil {
		return failed[ledger.Transaction](ctx, s, "recordTransaction", err)
	}
	s.observer.IncLedgerWrite("recordTransaction")
	return ok(tx)
}

// CreateRequest opens a capital request.
func (s *Service) CreateRequest(ctx context.Context, sess *session.Session, amount float64, reason string) Result[ledger.CapitalRequest] {
	req, err := s.ledger.CreateRequest(ctx, sess, amount, reason)
	if err != nil {
		return failed[ledger.CapitalRequest](ctx, s, "createRequest", err)
	}
	s.observer.IncLedgerWrite("createRequest")
	return ok(req)
}

// ResolveRequest approves or rejects a pending request without moving money.
func (s *Service) ResolveRequest(ctx context.Context, sess *session.Session, requestID string, status ledger.Status) Result[ledger.CapitalRequest] {
	req, err := s.ledger.ResolveRequest(ctx, sess, requestID, status)
	if err != nil {
		return failed[ledger.CapitalRequest](ctx, s, "resolveRequest", err)
	}
	s.observer.IncLedgerWrite("resolveRequest")
	return ok(req)
}

// ApproveAndFund approves a pending request and credits the requester
// atomically.
func (s *Service) ApproveAndFund(ctx context.Context, sess *session.Session, requestID string, category ledger.Category) Result[Funding] {
	req, tx, err := s.ledger.ApproveAndFund(ctx, sess, requestID, category)
	if err != nil {
		return failed[Funding](ctx, s, "approveAndFund", err)
	}
	s.observer.IncLedgerWrite("approveAndFund")
	return ok(Funding{Request: req, Transaction: tx})
}

// SendMessage posts to the cluster board.
func (s *Service) SendMessage(ctx context.Context, sess *session.Session, d message.Draft) Result[message.Message] {
	msg, err := s.messages.Send(ctx, sess, d)
	if err != nil {
		return failed[message.Message](ctx, s, "sendMessage", err)
	}
	s.observer.IncLedgerWrite("sendMessage")
	return ok(msg)
}

// MarkMessageRead flags a directed message as read by its recipient.
func (s *Service) MarkMessageRead(ctx context.Context, sess *session.Session, messageID string) Result[message.Message] {
	msg, err := s.messages.MarkRead(ctx, sess, messageID)
	if err != nil {
		return failed[message.Message](ctx, s, "markMessageRead", err)
	}
	return ok(msg)
}

// GetOnboardingStatus reports whether identityID finished onboarding.
func (s *Service) GetOnboardingStatus(ctx context.Context, identityID string) Result[bool] {
	done, err := s.registry.OnboardingStatus(ctx, identityID)
	if err != nil {
		return failed[bool](ctx, s, "getOnboardingStatus", err)
	}
	return ok(done)
}

// SetOnboardingStatus records the caller's onboarding flag.
func (s *Service) SetOnboardingStatus(ctx context.Context, sess *session.Session, done bool) Result[bool] {
	if err := s.registry.SetOnboardingStatus(ctx, sess, done); err != nil {
		return failed[bool](ctx, s, "setOnboardingStatus", err)
	}
	return ok(done)
}

// Analytics reports on identityID, or on the caller when identityID is empty.
func (s *Service) Analytics(ctx context.Context, sess *session.Session, identityID string) Result[analytics.Report] {
	txs, balance, err := s.history(ctx, sess, identityID)
	if err != nil {
		return failed[analytics.Report](ctx, s, "analytics", err)
	}
	return ok(analytics.Compute(txs, balance, s.now()))
}

// Insight returns narrative commentary on identityID, or the placeholder.
// A failing summarizer never fails the call.
func (s *Service) Insight(ctx context.Context, sess *session.Session, identityID string) Result[Insight] {
	txs, balance, err := s.history(ctx, sess, identityID)
	if err != nil {
		return failed[Insight](ctx, s, "insight", err)
	}
	text, fallback := s.annotator.Annotate(ctx, txs, balance)
	if fallback {
		s.observer.IncInsightFallback()
	}
	return ok(Insight{Text: text, Fallback: fallback})
}

func (s *Service) history(ctx context.Context, sess *session.Session, identityID string) ([]ledger.Transaction, float64, error) {
	if identityID == "" {
		identityID = sess.IdentityIDOrEmpty()
	}
	txs, err := s.ledger.ListTransactions(ctx, sess, identityID)
	if err != nil {
		return nil, 0, err
	}
	return txs, ledger.ComputeBalance(identityID, txs), nil
}

// failed converts err into a failed Result, counting denials and logging
// errors that are not the caller's fault.
func failed[T any](ctx context.Context, s *Service, op string, err error) Result[T] {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		s.observer.IncDenial(op)
	case apperr.KindStorageUnavailable, apperr.KindInternal:
		slog.ErrorContext(ctx, "operation failed", "operation", op, "error", err)
	}
	return fail[T](err)
}
