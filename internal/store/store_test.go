package store

import "testing"

func TestSetGetRoundTrip(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.Set("ns", "key-1", "value-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := st.Get("ns", "key-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "value-1" {
		t.Errorf("Get = %q, %v, want value-1, true", v, ok)
	}
}

func TestGetMissingKeyReturnsNotOk(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, ok, err := st.Get("ns", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing key")
	}
}

// TestKeysWithSlashesSurviveRoundTrip covers symbol-composite keys like
// "BTC/USDT" that would otherwise collide with path separators.
func TestKeysWithSlashesSurviveRoundTrip(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.Set("ns", "BTC/USDT", "some-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := st.Get("ns", "BTC/USDT")
	if err != nil || !ok || v != "some-value" {
		t.Errorf("Get = %q, %v, %v, want some-value, true, nil", v, ok, err)
	}
}

func TestSetOverwritesExistingValue(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.Set("ns", "key", "first"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Set("ns", "key", "second"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, _, err := st.Get("ns", "key")
	if err != nil || v != "second" {
		t.Errorf("Get = %q, %v, want second", v, err)
	}
}
