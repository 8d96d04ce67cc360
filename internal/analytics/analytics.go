// Package analytics derives financial metrics from a transaction log. Every
// function is pure: inputs are never modified and identical inputs give
// identical reports, so the package is safe for concurrent use.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/alecgard/famledger/internal/ledger"
)

const msPerDay = 86_400_000

// Point is one step of the running balance series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Balance   float64   `json:"balance"`
}

// CategoryShare is one slice of the debit distribution.
type CategoryShare struct {
	Category ledger.Category `json:"category"`
	Total    float64         `json:"total"`
	Share    float64         `json:"share"`
	Percent  float64         `json:"percent"`
}

// Stats summarizes the dispersion of transaction amounts.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
}

// Report is the full analytics output for one identity.
type Report struct {
	Balance        float64         `json:"balance"`
	RunningBalance []Point         `json:"running_balance"`
	BurnRate       float64         `json:"burn_rate"`
	LiquidityIndex float64         `json:"liquidity_index"`
	Distribution   []CategoryShare `json:"distribution"`
	Stats          Stats           `json:"stats"`
	TotalCredits   float64         `json:"total_credits"`
	TotalDebits    float64         `json:"total_debits"`
	Count          int             `json:"count"`
}

// Compute builds the report for txs, which should all belong to one identity.
func Compute(txs []ledger.Transaction, currentBalance float64, now time.Time) Report {
	credits, debits := totals(txs)
	burn := BurnRate(txs, now)

	amounts := make([]float64, len(txs))
	for i, t := range txs {
		amounts[i] = t.Amount
	}

	return Report{
		Balance:        currentBalance,
		RunningBalance: RunningBalance(txs),
		BurnRate:       burn,
		LiquidityIndex: LiquidityIndex(currentBalance, burn),
		Distribution:   CategoryDistribution(txs),
		Stats:          Summarize(amounts),
		TotalCredits:   credits,
		TotalDebits:    debits,
		Count:          len(txs),
	}
}

// RunningBalance emits the balance after each transaction in timestamp order.
// Equal timestamps keep their input order.
func RunningBalance(txs []ledger.Transaction) []Point {
	points := make([]Point, 0, len(txs))
	var balance float64
	for _, t := range ledger.Chronological(txs) {
		balance += t.Signed()
		points = append(points, Point{Timestamp: t.Timestamp, Balance: balance})
	}
	return points
}

// BurnRate is total debits per day since the first transaction, counting at
// least one day.
func BurnRate(txs []ledger.Transaction, now time.Time) float64 {
	if len(txs) == 0 {
		return 0
	}
	_, debits := totals(txs)
	if debits == 0 {
		return 0
	}

	first := txs[0].Timestamp
	for _, t := range txs[1:] {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
	}
	days := float64(now.Sub(first).Milliseconds()) / msPerDay
	return debits / math.Max(1, days)
}

// LiquidityIndex is the number of days balance lasts at burnRate. It is zero
// unless both inputs are positive.
func LiquidityIndex(balance, burnRate float64) float64 {
	if balance <= 0 || burnRate <= 0 {
		return 0
	}
	return balance / burnRate
}

// CategoryDistribution groups debits by category in ledger.Categories order,
// omitting empty categories. With no debits the result is empty.
func CategoryDistribution(txs []ledger.Transaction) []CategoryShare {
	var byCategory [numCategories]float64
	var total float64
	for _, t := range txs {
		if t.Kind != ledger.Debit {
			continue
		}
		byCategory[slot(t.Category)] += t.Amount
		total += t.Amount
	}

	out := []CategoryShare{}
	if total == 0 {
		return out
	}
	for i, c := range ledger.Categories {
		if byCategory[i] == 0 {
			continue
		}
		share := byCategory[i] / total
		out = append(out, CategoryShare{
			Category: c,
			Total:    byCategory[i],
			Share:    share,
			Percent:  share * 100,
		})
	}
	return out
}

const numCategories = 10

// slot maps a category to its index in ledger.Categories. Values outside the
// closed set land in OTHER.
func slot(c ledger.Category) int {
	switch c {
	case ledger.Food:
		return 0
	case ledger.Housing:
		return 1
	case ledger.Transport:
		return 2
	case ledger.Education:
		return 3
	case ledger.Health:
		return 4
	case ledger.Entertainment:
		return 5
	case ledger.Utilities:
		return 6
	case ledger.Savings:
		return 7
	case ledger.Allowance:
		return 8
	default:
		return 9
	}
}

// Summarize computes mean and population standard deviation in one pass and
// the median from a sorted copy; amounts keeps its order.
func Summarize(amounts []float64) Stats {
	if len(amounts) == 0 {
		return Stats{}
	}

	var mean, m2 float64
	for i, x := range amounts {
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
	}

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return Stats{
		Mean:   mean,
		Median: median,
		StdDev: math.Sqrt(m2 / float64(len(amounts))),
	}
}

func totals(txs []ledger.Transaction) (credits, debits float64) {
	for _, t := range txs {
		switch t.Kind {
		case ledger.Credit:
			credits += t.Amount
		case ledger.Debit:
			debits += t.Amount
		}
	}
	return credits, debits
}
