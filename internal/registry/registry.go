// Package registry implements the gateway's bidirectional id correlation
// tables and open-order set.
//
// Three key-value tables, each keyed by string, values strings, with
// prefixed namespaces:
//   - event_id_by_client_order_id
//   - order_id_by_client_order_id
//   - client_order_id_by_order_id
//
// Plus one in-memory set of (client_order_id, symbol) pairs believed to
// still be open on the exchange. The registry does not enforce consistency
// between the three tables — callers are required to update all three
// together upon order creation; this package's Correlate method performs
// all three writes in one call (see its doc for what it does not isolate).
package registry

import (
	"fmt"
	"sync"

	"gate/internal/store"
)

const (
	nsEventIDByClientOrderID = "event_id_by_client_order_id"
	nsOrderIDByClientOrderID = "order_id_by_client_order_id"
	nsClientOrderIDByOrderID = "client_order_id_by_order_id"
)

// OpenOrderKey identifies one order believed to be open.
type OpenOrderKey struct {
	ClientOrderID string
	Symbol        string
}

// Registry is the ID & order registry. The scheduler is its single writer;
// reads may come from any of the scheduler's goroutines. Table reads and
// writes go through the store, which serializes them with its own mutex;
// the mutex here protects only the open-order set.
type Registry struct {
	store *store.Store

	mu         sync.Mutex
	openOrders map[OpenOrderKey]struct{}
}

// New creates a registry backed by the given KV store.
func New(st *store.Store) *Registry {
	return &Registry{
		store:      st,
		openOrders: make(map[OpenOrderKey]struct{}),
	}
}

// Correlate records the three mappings produced by a successful create_order
// reply, then inserts the order into the open set. The three store writes
// are separate operations: a concurrent lookup can observe some mappings
// before the others, and a failed write leaves the earlier ones in place
// and the order out of the open set.
func (r *Registry) Correlate(eventID, clientOrderID, orderID, symbol string) error {
	if err := r.store.Set(nsEventIDByClientOrderID, clientOrderID, eventID); err != nil {
		return fmt.Errorf("set event_id_by_client_order_id: %w", err)
	}
	if err := r.store.Set(nsOrderIDByClientOrderID, clientOrderID, orderID); err != nil {
		return fmt.Errorf("set order_id_by_client_order_id: %w", err)
	}
	if err := r.store.Set(nsClientOrderIDByOrderID, orderID, clientOrderID); err != nil {
		return fmt.Errorf("set client_order_id_by_order_id: %w", err)
	}

	r.mu.Lock()
	r.openOrders[OpenOrderKey{ClientOrderID: clientOrderID, Symbol: symbol}] = struct{}{}
	r.mu.Unlock()
	return nil
}

// EventIDByClientOrderID resolves the event id that created clientOrderID.
// A lookup failure for a known-tracked id is a programmer error; for unknown
// ids it is a soft miss (ok=false).
func (r *Registry) EventIDByClientOrderID(clientOrderID string) (string, bool, error) {
	v, ok, err := r.store.Get(nsEventIDByClientOrderID, clientOrderID)
	if err != nil {
		return "", false, fmt.Errorf("get event_id_by_client_order_id: %w", err)
	}
	return v, ok, nil
}

// OrderIDByClientOrderID resolves the exchange order id for clientOrderID.
func (r *Registry) OrderIDByClientOrderID(clientOrderID string) (string, bool, error) {
	v, ok, err := r.store.Get(nsOrderIDByClientOrderID, clientOrderID)
	if err != nil {
		return "", false, fmt.Errorf("get order_id_by_client_order_id: %w", err)
	}
	return v, ok, nil
}

// ClientOrderIDByOrderID resolves the client order id for an exchange order id.
func (r *Registry) ClientOrderIDByOrderID(orderID string) (string, bool, error) {
	v, ok, err := r.store.Get(nsClientOrderIDByOrderID, orderID)
	if err != nil {
		return "", false, fmt.Errorf("get client_order_id_by_order_id: %w", err)
	}
	return v, ok, nil
}

// IsOpen reports whether (clientOrderID, symbol) is currently in the open set.
func (r *Registry) IsOpen(clientOrderID, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.openOrders[OpenOrderKey{ClientOrderID: clientOrderID, Symbol: symbol}]
	return ok
}

// CloseOrder removes (clientOrderID, symbol) from the open set. Only CLOSED
// and CANCELED statuses should trigger this.
func (r *Registry) CloseOrder(clientOrderID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.openOrders, OpenOrderKey{ClientOrderID: clientOrderID, Symbol: symbol})
}

// Snapshot returns a copy of the open-order set. The reconciliation loop
// takes a snapshot before mutation to allow concurrent inserts during the
// same iteration.
func (r *Registry) Snapshot() []OpenOrderKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OpenOrderKey, 0, len(r.openOrders))
	for k := range r.openOrders {
		out = append(out, k)
	}
	return out
}
