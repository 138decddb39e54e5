package scheduler

import (
	"testing"
	"time"
)

func TestSnapshotRequiresAtLeastTwoSamples(t *testing.T) {
	m := newMetricsCollector()
	m.recordOrderBookBatch(3, 10*time.Millisecond)

	if _, ok := m.snapshot(); ok {
		t.Error("expected snapshot to report not-ready with only 1 sample buffered")
	}

	m.recordOrderBookBatch(3, 12*time.Millisecond)
	snap, ok := m.snapshot()
	if !ok {
		t.Fatal("expected snapshot to be ready with 2 samples buffered")
	}
	if snap.PublicAPI.Orderbook.RPS != 6 {
		t.Errorf("RPS = %v, want 6", snap.PublicAPI.Orderbook.RPS)
	}
}

func TestSnapshotClearsTheWindow(t *testing.T) {
	m := newMetricsCollector()
	m.recordOrderBookBatch(1, time.Millisecond)
	m.recordOrderBookBatch(1, time.Millisecond)

	if _, ok := m.snapshot(); !ok {
		t.Fatal("expected first snapshot to be ready")
	}
	if _, ok := m.snapshot(); ok {
		t.Error("expected second snapshot to report not-ready after the window was cleared")
	}
}

// TestLatencyPercentileMatchesWorkedExample pins latencyPercentile against a
// concrete data set and its hand-computed percentiles.
func TestLatencyPercentileMatchesWorkedExample(t *testing.T) {
	data := []float64{1, 2, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 7, 7, 8, 8, 10, 10}
	got := latencyPercentile(data)

	const tolerance = 0.01
	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", got.P50, 5.5},
		{"p90", got.P90, 8.20},
		{"p99", got.P99, 10},
		{"p99.99", got.P9999, 10},
	}
	for _, c := range cases {
		if diff := c.got - c.want; diff > tolerance || diff < -tolerance {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

// TestPercentileAtMatchesHandDerivedIndex checks the quantiles[4998] at k=50
// index arithmetic on a synthetic ramp array.
func TestPercentileAtMatchesHandDerivedIndex(t *testing.T) {
	quantiles := make([]float64, 9999)
	for i := range quantiles {
		quantiles[i] = float64(i)
	}

	got := percentileAt(quantiles, "50")
	want := quantiles[4998]
	if got != want {
		t.Errorf("percentileAt(50) = %v, want quantiles[4998] = %v", got, want)
	}
}

func TestOrderBooksReceivedIsCumulative(t *testing.T) {
	m := newMetricsCollector()
	m.recordOrderBookBatch(2, time.Millisecond)
	m.recordOrderBookBatch(3, time.Millisecond)
	m.snapshot() // snapshotting must not reset the cumulative counter

	if got := m.orderBooksReceived(); got != 5 {
		t.Errorf("orderBooksReceived() = %d, want 5", got)
	}
}
