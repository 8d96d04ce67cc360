package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the stats endpoint.
type Summary struct {
	HTTP      httpSummary        `json:"http"`
	Auth      authInfo           `json:"auth"`
	RateLimit rateLimitInfo      `json:"rateLimit"`
	Ledger    map[string]float64 `json:"ledgerWrites"`
	Insight   insightInfo        `json:"insight"`
	DB        dbInfo             `json:"db"`
	Server    serverInfo         `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
	Denials   float64 `json:"denials"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type insightInfo struct {
	Fallbacks float64 `json:"fallbacks"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Summary{}, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	start := gaugeValue(fam["famledger_server_start_time_seconds"])
	return Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["famledger_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["famledger_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["famledger_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["famledger_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["famledger_http_request_duration_seconds"], 0.99),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["famledger_auth_failures_total"]),
			Successes: sumCounter(fam["famledger_auth_successes_total"]),
			Denials:   sumCounter(fam["famledger_authorization_denials_total"]),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["famledger_ratelimit_rejections_total"]),
		},
		Ledger: countersByLabel(fam["famledger_ledger_writes_total"], "operation"),
		Insight: insightInfo{
			Fallbacks: counterValue(fam["famledger_insight_fallbacks_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["famledger_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["famledger_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["famledger_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	summary, err := m.Summarize()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func sumCounter(f *dto.MetricFamily) float64 {
	var total float64
	for _, m := range f.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

// counterValue and gaugeValue read unlabelled families, which hold one metric.
func counterValue(f *dto.MetricFamily) float64 {
	if ms := f.GetMetric(); len(ms) > 0 {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if ms := f.GetMetric(); len(ms) > 0 {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

// countersByLabel sums a counter family per value of labelName.
func countersByLabel(f *dto.MetricFamily, labelName string) map[string]float64 {
	out := map[string]float64{}
	for _, m := range f.GetMetric() {
		if v := label(m, labelName); v != "" {
			out[v] += m.GetCounter().GetValue()
		}
	}
	return out
}

// computeErrorRate is the share of requests answered with a 5xx status.
func computeErrorRate(f *dto.MetricFamily) float64 {
	var total, failed float64
	for _, m := range f.GetMetric() {
		v := m.GetCounter().GetValue()
		total += v
		if strings.HasPrefix(label(m, "status_code"), "5") {
			failed += v
		}
	}
	if total == 0 {
		return 0
	}
	return failed / total
}

// histogramPercentile merges every series of a histogram family and
// interpolates the q-th quantile linearly inside the bucket that holds it.
// Quantiles past the last finite bound report that bound.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	cumulative := map[float64]uint64{}
	var count uint64
	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		count += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			if !math.IsInf(b.GetUpperBound(), 1) {
				cumulative[b.GetUpperBound()] += b.GetCumulativeCount()
			}
		}
	}
	if count == 0 || len(cumulative) == 0 {
		return 0
	}

	bounds := make([]float64, 0, len(cumulative))
	for ub := range cumulative {
		bounds = append(bounds, ub)
	}
	sort.Float64s(bounds)

	rank := q * float64(count)
	lower, below := 0.0, uint64(0)
	for _, ub := range bounds {
		upTo := cumulative[ub]
		if float64(upTo) >= rank {
			in := upTo - below
			if in == 0 {
				return ub
			}
			return lower + (rank-float64(below))/float64(in)*(ub-lower)
		}
		lower, below = ub, upTo
	}
	return bounds[len(bounds)-1]
}
