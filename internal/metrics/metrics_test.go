package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "/api/v1/transactions", 200, 20*time.Millisecond)
	m.ObserveHTTP("POST", "/api/v1/transactions", 500, 40*time.Millisecond)
	m.IncAuthSuccess("password")
	m.IncAuthFailure("password")
	m.IncAuthFailure("bearer")
	m.IncDenial("provisionMember")
	m.IncLedgerWrite("recordTransaction")
	m.IncLedgerWrite("recordTransaction")
	m.IncLedgerWrite("approveAndFund")
	m.IncInsightFallback()
	m.IncRateLimitRejection("login")
	m.RegisterDBPoolCollector(func() (int32, int32, int32) { return 4, 3, 1 })

	s, err := m.Summarize()
	require.NoError(t, err)

	assert.Equal(t, 2.0, s.HTTP.TotalRequests)
	assert.InDelta(t, 0.5, s.HTTP.ErrorRate, 1e-9)
	assert.Greater(t, s.HTTP.P95Latency, 0.0)
	assert.Equal(t, authInfo{Failures: 2, Successes: 1, Denials: 1}, s.Auth)
	assert.Equal(t, 1.0, s.RateLimit.Rejections)
	assert.Equal(t, map[string]float64{"recordTransaction": 2, "approveAndFund": 1}, s.Ledger)
	assert.Equal(t, 1.0, s.Insight.Fallbacks)
	assert.Equal(t, dbInfo{TotalConns: 4, IdleConns: 3, AcquiredConns: 1}, s.DB)
	assert.Greater(t, s.Server.StartTime, 0.0)
}

func TestHandlers(t *testing.T) {
	m := New()
	m.IncLedgerWrite("createRequest")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var s Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 1.0, s.Ledger["createRequest"])

	rec = httptest.NewRecorder()
	m.Exposition().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `famledger_ledger_writes_total{operation="createRequest"} 1`))
}
