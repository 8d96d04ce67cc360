package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/authz"
	"github.com/alecgard/famledger/internal/identity"
	"github.com/alecgard/famledger/internal/session"
	"github.com/alecgard/famledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// flakyBackend fails commits while failPut is set.
type flakyBackend struct {
	*store.MemoryBackend
	failPut bool
}

func (f *flakyBackend) PutMany(ctx context.Context, values map[string][]byte) error {
	if f.failPut {
		return errors.New("write failed")
	}
	return f.MemoryBackend.PutMany(ctx, values)
}

type fixture struct {
	backend  *flakyBackend
	ledger   *Service
	registry *identity.Registry
	now      time.Time

	host, bob, carol *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		backend: &flakyBackend{MemoryBackend: store.NewMemoryBackend()},
		now:     time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	s := store.New(f.backend, "")
	gate := authz.NewGate()
	gate.SetClock(clock)
	sessions := session.NewManager(s, 0)
	sessions.SetClock(clock)
	f.registry = identity.NewRegistry(s, sessions, gate)
	f.registry.SetHashCost(bcrypt.MinCost)
	f.ledger = NewService(s, gate)
	f.ledger.SetClock(clock)

	_, err := f.registry.SignupCluster(ctx, "fam1", "alice", "pw")
	require.NoError(t, err)
	f.host, err = f.registry.Login(ctx, "host", "fam1", "alice", "pw")
	require.NoError(t, err)

	for _, h := range []string{"bob", "carol"} {
		_, err := f.registry.ProvisionMember(ctx, f.host, h, "pw2")
		require.NoError(t, err)
	}
	f.bob, err = f.registry.Login(ctx, "bob", "fam1", "bob", "pw2")
	require.NoError(t, err)
	f.carol, err = f.registry.Login(ctx, "carol", "fam1", "carol", "pw2")
	require.NoError(t, err)
	return f
}

func TestComputeBalanceScenario(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{IdentityID: "a", Amount: 200, Kind: Debit, Timestamp: t1.Add(2 * time.Hour)},
		{IdentityID: "a", Amount: 1000, Kind: Credit, Timestamp: t1},
		{IdentityID: "b", Amount: 999, Kind: Credit, Timestamp: t1},
		{IdentityID: "a", Amount: 300, Kind: Debit, Timestamp: t1.Add(time.Hour)},
	}
	assert.Equal(t, 500.0, ComputeBalance("a", txs))
	assert.Equal(t, 999.0, ComputeBalance("b", txs))
	assert.Equal(t, 0.0, ComputeBalance("nobody", txs))
	assert.Equal(t, 0.0, ComputeBalance("a", nil))

	// Input order is left untouched.
	assert.Equal(t, 200.0, txs[0].Amount)
}

func TestComputeBalanceIsOrderIndependent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{IdentityID: "a", Amount: 10, Kind: Credit, Timestamp: base},
		{IdentityID: "a", Amount: 2.5, Kind: Debit, Timestamp: base},
		{IdentityID: "a", Amount: 40, Kind: Credit, Timestamp: base.Add(time.Minute)},
		{IdentityID: "a", Amount: 7.5, Kind: Debit, Timestamp: base.Add(-time.Minute)},
	}
	want := ComputeBalance("a", txs)
	assert.Equal(t, 40.0, want)

	reversed := make([]Transaction, len(txs))
	for i, tx := range txs {
		reversed[len(txs)-1-i] = tx
	}
	assert.Equal(t, want, ComputeBalance("a", reversed))
}

func TestChronologicalIsStable(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{ID: "late", Timestamp: at.Add(time.Hour)},
		{ID: "tie-1", Timestamp: at},
		{ID: "tie-2", Timestamp: at},
	}
	got := Chronological(txs)
	assert.Equal(t, []string{"tie-1", "tie-2", "late"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, "late", txs[0].ID)
}

func TestRecordTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	own, err := f.ledger.RecordTransaction(ctx, f.bob, NewTransaction{
		IdentityID:  f.bob.IdentityID,
		Amount:      12.5,
		Kind:        Debit,
		Category:    Food,
		Description: " lunch ",
	})
	require.NoError(t, err)
	assert.Equal(t, "lunch", own.Description)
	assert.Equal(t, f.now, own.Timestamp)
	assert.Equal(t, f.bob.IdentityID, own.CreatedBy)

	credit, err := f.ledger.RecordTransaction(ctx, f.host, NewTransaction{
		IdentityID: f.bob.IdentityID,
		Amount:     100,
		Kind:       Credit,
		Category:   Allowance,
	})
	require.NoError(t, err)
	assert.Equal(t, f.host.IdentityID, credit.CreatedBy)

	balance, err := f.ledger.Balance(ctx, f.bob.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 87.5, balance)
}

func TestRecordTransactionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	valid := func(identityID string) NewTransaction {
		return NewTransaction{IdentityID: identityID, Amount: 5, Kind: Debit, Category: Food}
	}

	tests := []struct {
		name    string
		sess    *session.Session
		in      NewTransaction
		wantErr error
		wantMsg string
	}{
		{"member for another member", f.bob, valid("carol-id"), apperr.ErrUnauthorized, "not authorized"},
		{"member for real sibling", f.bob, valid(f.carol.IdentityID), apperr.ErrUnauthorized, "not authorized"},
		{"no session", nil, valid("x"), apperr.ErrUnauthorized, "not authorized"},
		{"host for unknown identity", f.host, valid("ghost"), apperr.ErrNotFound, "identity not found"},
		{"zero amount", f.bob, NewTransaction{IdentityID: f.bob.IdentityID, Amount: 0, Kind: Debit, Category: Food}, apperr.ErrValidation, "amount must be positive"},
		{"negative amount", f.bob, NewTransaction{IdentityID: f.bob.IdentityID, Amount: -3, Kind: Debit, Category: Food}, apperr.ErrValidation, "amount must be positive"},
		{"bad kind", f.bob, NewTransaction{IdentityID: f.bob.IdentityID, Amount: 3, Kind: "REFUND", Category: Food}, apperr.ErrValidation, ""},
		{"bad category", f.bob, NewTransaction{IdentityID: f.bob.IdentityID, Amount: 3, Kind: Debit, Category: "YACHTS"}, apperr.ErrValidation, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.RecordTransaction(ctx, tt.sess, tt.in)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, apperr.Message(err))
			}
		})
	}

	txs, err := f.ledger.ListTransactions(ctx, f.host, "")
	require.NoError(t, err)
	assert.Empty(t, txs, "rejected calls must not write")
}

func TestHostCannotCreditOtherCluster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.registry.SignupCluster(ctx, "fam2", "zed", "pw")
	require.NoError(t, err)

	_, err = f.ledger.RecordTransaction(ctx, f.host, NewTransaction{
		IdentityID: other.ID, Amount: 10, Kind: Credit, Category: Allowance,
	})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.CreateRequest(ctx, f.bob, 500, "books")
	require.NoError(t, err)
	assert.Equal(t, Pending, req.Status)
	assert.Equal(t, f.bob.IdentityID, req.RequesterID)
	assert.Equal(t, "fam1", req.ClusterID)

	_, err = f.ledger.ResolveRequest(ctx, f.bob, req.ID, Approved)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	approved, err := f.ledger.ResolveRequest(ctx, f.host, req.ID, Approved)
	require.NoError(t, err)
	assert.Equal(t, Approved, approved.Status)
	assert.Equal(t, f.host.IdentityID, approved.ResolvedBy)
	require.NotNil(t, approved.ResolvedAt)

	for _, next := range []Status{Approved, Rejected, Pending, Status("MAYBE"), ""} {
		_, err := f.ledger.ResolveRequest(ctx, f.host, req.ID, next)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "re-resolving to %s", next)
	}

	// Resolving does not move money.
	balance, err := f.ledger.Balance(ctx, f.bob.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)
}

func TestResolveRequestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.ResolveRequest(ctx, f.host, "missing", Approved)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "capital request not found", apperr.Message(err))

	req, err := f.ledger.CreateRequest(ctx, f.bob, 20, "bus pass")
	require.NoError(t, err)

	_, err = f.ledger.ResolveRequest(ctx, f.host, req.ID, Pending)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.ledger.ResolveRequest(ctx, f.host, req.ID, Status("MAYBE"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rejected, err := f.ledger.ResolveRequest(ctx, f.host, req.ID, Rejected)
	require.NoError(t, err)
	assert.Equal(t, Rejected, rejected.Status)
}

func TestHostOfAnotherClusterCannotResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.CreateRequest(ctx, f.bob, 20, "bus pass")
	require.NoError(t, err)

	_, err = f.registry.SignupCluster(ctx, "fam2", "zed", "pw")
	require.NoError(t, err)
	zed, err := f.registry.Login(ctx, "zed", "fam2", "zed", "pw")
	require.NoError(t, err)

	_, err = f.ledger.ResolveRequest(ctx, zed, req.ID, Approved)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreateRequest(ctx, f.host, 10, "hosts do not ask")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.ledger.CreateRequest(ctx, f.bob, 0, "books")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "amount must be positive", apperr.Message(err))

	_, err = f.ledger.CreateRequest(ctx, f.bob, 10, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "reason is required", apperr.Message(err))
}

func TestApproveAndFund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.CreateRequest(ctx, f.bob, 500, "books")
	require.NoError(t, err)

	approved, funding, err := f.ledger.ApproveAndFund(ctx, f.host, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, Approved, approved.Status)
	assert.Equal(t, funding.ID, approved.FundingTxID)
	assert.Equal(t, Credit, funding.Kind)
	assert.Equal(t, Allowance, funding.Category)
	assert.Equal(t, 500.0, funding.Amount)
	assert.Equal(t, f.bob.IdentityID, funding.IdentityID)

	balance, err := f.ledger.Balance(ctx, f.bob.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance)

	_, _, err = f.ledger.ApproveAndFund(ctx, f.host, req.ID, Education)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	balance, err = f.ledger.Balance(ctx, f.bob.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance, "a refused second funding must not credit again")
}

func TestApproveAndFundIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.CreateRequest(ctx, f.bob, 75, "shoes")
	require.NoError(t, err)

	f.backend.failPut = true
	_, _, err = f.ledger.ApproveAndFund(ctx, f.host, req.ID, Other)
	require.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	f.backend.failPut = false

	reqs, err := f.ledger.ListRequests(ctx, f.host)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, Pending, reqs[0].Status)
	assert.Empty(t, reqs[0].FundingTxID)

	txs, err := f.ledger.ListTransactions(ctx, f.host, "")
	require.NoError(t, err)
	assert.Empty(t, txs)

	// The request can still be funded once storage recovers.
	_, _, err = f.ledger.ApproveAndFund(ctx, f.host, req.ID, Other)
	require.NoError(t, err)
}

func TestListVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, s := range []*session.Session{f.bob, f.carol, f.host} {
		_, err := f.ledger.RecordTransaction(ctx, s, NewTransaction{
			IdentityID: s.IdentityID, Amount: 1, Kind: Debit, Category: Other,
		})
		require.NoError(t, err)
	}
	_, err := f.ledger.CreateRequest(ctx, f.bob, 5, "a")
	require.NoError(t, err)
	_, err = f.ledger.CreateRequest(ctx, f.carol, 5, "b")
	require.NoError(t, err)

	hostTxs, err := f.ledger.ListTransactions(ctx, f.host, "")
	require.NoError(t, err)
	assert.Len(t, hostTxs, 3)

	bobTxs, err := f.ledger.ListTransactions(ctx, f.bob, "")
	require.NoError(t, err)
	require.Len(t, bobTxs, 1)
	assert.Equal(t, f.bob.IdentityID, bobTxs[0].IdentityID)

	filtered, err := f.ledger.ListTransactions(ctx, f.host, f.carol.IdentityID)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, f.carol.IdentityID, filtered[0].IdentityID)

	_, err = f.ledger.ListTransactions(ctx, f.bob, f.carol.IdentityID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	hostReqs, err := f.ledger.ListRequests(ctx, f.host)
	require.NoError(t, err)
	assert.Len(t, hostReqs, 2)

	bobReqs, err := f.ledger.ListRequests(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, bobReqs, 1)
	assert.Equal(t, "a", bobReqs[0].Reason)
}

func TestCategoryBucket(t *testing.T) {
	assert.Equal(t, Food, Food.Bucket())
	assert.Equal(t, Other, Category("LEGACY_MISC").Bucket())
	assert.Len(t, Categories, 10)
	for _, c := range Categories {
		assert.True(t, c.Valid(), c)
	}
}
