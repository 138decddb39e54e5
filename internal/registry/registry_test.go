package registry

import (
	"testing"

	"gate/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(st)
}

// TestCorrelateAtomicity checks that a successful correlate populates all
// three tables and the open set together.
func TestCorrelateAtomicity(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Correlate("ev-1", "c-1", "ex-1", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}

	if eventID, ok, err := r.EventIDByClientOrderID("c-1"); err != nil || !ok || eventID != "ev-1" {
		t.Errorf("EventIDByClientOrderID = %q, %v, %v, want ev-1", eventID, ok, err)
	}
	if orderID, ok, err := r.OrderIDByClientOrderID("c-1"); err != nil || !ok || orderID != "ex-1" {
		t.Errorf("OrderIDByClientOrderID = %q, %v, %v, want ex-1", orderID, ok, err)
	}
	if clientOrderID, ok, err := r.ClientOrderIDByOrderID("ex-1"); err != nil || !ok || clientOrderID != "c-1" {
		t.Errorf("ClientOrderIDByOrderID = %q, %v, %v, want c-1", clientOrderID, ok, err)
	}
	if !r.IsOpen("c-1", "BTC/USDT") {
		t.Error("expected (c-1, BTC/USDT) to be in the open set")
	}
}

// TestLookupMissIsSoftFailure ensures an unknown id returns ok=false and a
// nil error rather than failing the whole call.
func TestLookupMissIsSoftFailure(t *testing.T) {
	r := newTestRegistry(t)

	orderID, ok, err := r.OrderIDByClientOrderID("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for unknown id, got order id %q", orderID)
	}
}

// TestCloseOrderRemovesFromOpenSet exercises the terminal-status cleanup
// path the order-watch loop relies on.
func TestCloseOrderRemovesFromOpenSet(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Correlate("ev-2", "c-2", "ex-2", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}

	r.CloseOrder("c-2", "BTC/USDT")

	if r.IsOpen("c-2", "BTC/USDT") {
		t.Error("expected order to no longer be open")
	}
}

// TestSnapshotIsolatesConcurrentMutation checks the snapshot-before-iterate
// rule: a snapshot taken before a new Correlate must not observe it.
func TestSnapshotIsolatesConcurrentMutation(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Correlate("ev-3", "c-3", "ex-3", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}

	snap := r.Snapshot()
	if err := r.Correlate("ev-4", "c-4", "ex-4", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}

	if len(snap) != 1 {
		t.Fatalf("expected snapshot to contain 1 entry taken before the second correlate, got %d", len(snap))
	}
	if snap[0].ClientOrderID != "c-3" {
		t.Errorf("snapshot entry = %+v, want c-3", snap[0])
	}
}
