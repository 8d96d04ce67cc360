// Package insight fetches optional narrative commentary on a member's
// finances. It is best-effort: any failure degrades to Placeholder and never
// affects ledger results.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alecgard/famledger/internal/ledger"
)

// Placeholder is shown whenever no insight could be produced.
const Placeholder = "Insights are unavailable right now."

// DefaultTimeout bounds a single summarize call.
const DefaultTimeout = 5 * time.Second

// Summarizer produces narrative text about a set of transactions.
type Summarizer interface {
	Summarize(ctx context.Context, txs []ledger.Transaction, balance float64) (string, error)
}

// HTTPSummarizer posts the transactions as JSON to an external endpoint and
// expects {"summary": "..."} back.
type HTTPSummarizer struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSummarizer creates a summarizer for url. apiKey, when set, is sent
// as a bearer token.
func NewHTTPSummarizer(url, apiKey string, timeout time.Duration) *HTTPSummarizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSummarizer{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type summarizeRequest struct {
	Balance      float64              `json:"balance"`
	Transactions []ledger.Transaction `json:"transactions"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (h *HTTPSummarizer) Summarize(ctx context.Context, txs []ledger.Transaction, balance float64) (string, error) {
	body, err := json.Marshal(summarizeRequest{Balance: balance, Transactions: txs})
	if err != nil {
		return "", fmt.Errorf("encoding insight request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building insight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling insight service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("insight service returned %d", resp.StatusCode)
	}

	var out summarizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding insight response: %w", err)
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", errors.New("insight service returned an empty summary")
	}
	return summary, nil
}

// Annotator wraps a Summarizer with a deadline and the placeholder fallback.
type Annotator struct {
	summarizer Summarizer
	timeout    time.Duration
}

// NewAnnotator creates an Annotator. A nil summarizer always yields the
// placeholder.
func NewAnnotator(s Summarizer, timeout time.Duration) *Annotator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Annotator{summarizer: s, timeout: timeout}
}

// Annotate returns the summary, or Placeholder with fallback=true when the
// summarizer is missing, fails, panics or exceeds the timeout.
func (a *Annotator) Annotate(ctx context.Context, txs []ledger.Transaction, balance float64) (text string, fallback bool) {
	if a.summarizer == nil {
		return Placeholder, true
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("summarizer panic: %v", r)}
			}
		}()
		text, err := a.summarizer.Summarize(ctx, txs, balance)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			r.err = ctx.Err()
		}
		if r.err != nil || strings.TrimSpace(r.text) == "" {
			slog.Warn("insight unavailable", "error", r.err)
			return Placeholder, true
		}
		return r.text, false
	case <-ctx.Done():
		slog.Warn("insight timed out", "error", ctx.Err())
		return Placeholder, true
	}
}
