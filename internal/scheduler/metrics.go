package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"gate/pkg/types"
)

// quantileBuckets matches Python's statistics.quantiles(data, n=10000,
// method="inclusive") bucket count exactly.
const quantileBuckets = 10000

// metricsCollector buffers order-book round-trip latency samples and
// request-rate counters between metrics emissions.
type metricsCollector struct {
	mu           sync.Mutex
	latenciesUs  []float64
	orderBookRPS int
	privateRPS   int

	orderBooksReceivedTotal int64 // cumulative, never reset; backs the ping heartbeat
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{}
}

// recordOrderBookBatch records one fan-out round's latency, measured once
// around the whole parallel batch, and the number of symbols it covered.
func (m *metricsCollector) recordOrderBookBatch(symbolCount int, elapsed time.Duration) {
	m.mu.Lock()
	m.latenciesUs = append(m.latenciesUs, float64(elapsed.Microseconds()))
	m.orderBookRPS += symbolCount
	m.mu.Unlock()
	atomic.AddInt64(&m.orderBooksReceivedTotal, int64(symbolCount))
}

// recordPrivateCall counts one private-pool acquisition toward the private
// API's aggregate request rate.
func (m *metricsCollector) recordPrivateCall() {
	m.mu.Lock()
	m.privateRPS++
	m.mu.Unlock()
}

// orderBooksReceived returns the cumulative order-book count since startup,
// for the ping heartbeat.
func (m *metricsCollector) orderBooksReceived() int64 {
	return atomic.LoadInt64(&m.orderBooksReceivedTotal)
}

// snapshot computes and clears the current window if at least 2 latency
// samples are buffered.
func (m *metricsCollector) snapshot() (*types.Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latenciesUs) < 2 {
		return nil, false
	}

	out := &types.Metrics{}
	out.PublicAPI.Orderbook.LatencyPercentile = latencyPercentile(m.latenciesUs)
	out.PublicAPI.Orderbook.RPS = float64(m.orderBookRPS)
	out.PrivateAPI.TotalRPS = float64(m.privateRPS)

	m.latenciesUs = nil
	m.orderBookRPS = 0
	m.privateRPS = 0

	return out, true
}

// latencyPercentile computes the {50,90,99,99.99} percentiles of data using
// the inclusive quantile definition with n=10000 buckets.
func latencyPercentile(data []float64) types.LatencyPercentile {
	quantiles := inclusiveQuantiles(data, quantileBuckets)
	return types.LatencyPercentile{
		P50:   percentileAt(quantiles, "50"),
		P90:   percentileAt(quantiles, "90"),
		P99:   percentileAt(quantiles, "99"),
		P9999: percentileAt(quantiles, "99.99"),
	}
}

// inclusiveQuantiles replicates Python's statistics.quantiles(data, n=n,
// method="inclusive"): n-1 cut points interpolated between sorted data
// points at m = len(data)-1 steps.
func inclusiveQuantiles(data []float64, n int) []float64 {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	m := len(sorted) - 1
	result := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		j := (i * m) / n
		delta := (i * m) % n
		interpolated := (sorted[j]*float64(n-delta) + sorted[j+1]*float64(delta)) / float64(n)
		result = append(result, interpolated)
	}
	return result
}

// percentileAt implements the
// quantiles[int(len(quantiles) * (Decimal(k)/100)) - 1] index arithmetic
// using decimal.Decimal for the same truncation behavior Python's int()
// gives on a Decimal.
func percentileAt(quantiles []float64, k string) float64 {
	n := decimal.NewFromInt(int64(len(quantiles)))
	pct, _ := decimal.NewFromString(k)
	idx := n.Mul(pct).Div(decimal.NewFromInt(100))
	i := int(idx.IntPart()) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(quantiles) {
		i = len(quantiles) - 1
	}
	return quantiles[i]
}
