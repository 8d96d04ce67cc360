package ledger

import (
	"sort"
	"time"
)

// Kind is the direction of a transaction.
type Kind string

const (
	Credit Kind = "CREDIT"
	Debit  Kind = "DEBIT"
)

// Category classifies a transaction. The set is closed.
type Category string

const (
	Food          Category = "FOOD"
	Housing       Category = "HOUSING"
	Transport     Category = "TRANSPORT"
	Education     Category = "EDUCATION"
	Health        Category = "HEALTH"
	Entertainment Category = "ENTERTAINMENT"
	Utilities     Category = "UTILITIES"
	Savings       Category = "SAVINGS"
	Allowance     Category = "ALLOWANCE"
	Other         Category = "OTHER"
)

// Categories lists every category in display order.
var Categories = []Category{
	Food, Housing, Transport, Education, Health,
	Entertainment, Utilities, Savings, Allowance, Other,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	switch c {
	case Food, Housing, Transport, Education, Health,
		Entertainment, Utilities, Savings, Allowance, Other:
		return true
	}
	return false
}

// Bucket returns c, or Other for values outside the closed set found in
// older stored data.
func (c Category) Bucket() Category {
	if c.Valid() {
		return c
	}
	return Other
}

// Status is the lifecycle state of a capital request.
type Status string

const (
	Pending  Status = "PENDING"
	Approved Status = "APPROVED"
	Rejected Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == Approved || s == Rejected
}

// Transaction is an immutable credit or debit against one identity.
type Transaction struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	Amount      float64   `json:"amount"`
	Kind        Kind      `json:"kind"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

func (t Transaction) RecordID() string { return t.ID }

// Signed returns the amount with the sign it contributes to a balance.
func (t Transaction) Signed() float64 {
	if t.Kind == Debit {
		return -t.Amount
	}
	return t.Amount
}

// CapitalRequest is a member's request for funds.
type CapitalRequest struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	ClusterID   string     `json:"cluster_id"`
	Amount      float64    `json:"amount"`
	Reason      string     `json:"reason"`
	Status      Status     `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	FundingTxID string     `json:"funding_tx_id,omitempty"`
}

func (r CapitalRequest) RecordID() string { return r.ID }

// Chronological returns a copy of txs stably sorted by timestamp; ties keep
// their relative order. txs is not modified.
func Chronological(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ComputeBalance folds the transactions of identityID in timestamp order:
// credits add, debits subtract, starting from zero.
func ComputeBalance(identityID string, txs []Transaction) float64 {
	var balance float64
	for _, t := range Chronological(txs) {
		if t.IdentityID != identityID {
			continue
		}
		balance += t.Signed()
	}
	return balance
}
