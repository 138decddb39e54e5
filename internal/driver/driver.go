// Package driver defines the black-box exchange driver interface: the
// underlying exchange client library is assumed to be provided as a
// black-box driver, and the gateway only consumes a narrow adapter
// interface over it. Every method returns untyped driver results;
// internal/exchange normalizes them into the typed data model.
package driver

import (
	"context"

	"gate/internal/session"
)

// Raw is an untyped structure as returned by the underlying exchange client
// library, before normalization. Unknown keys are dropped by the
// normalization layer, not here.
type Raw = map[string]any

// Driver is the narrow adapter interface the gateway's exchange adaptor
// consumes. Every call executes over a *session.Session acquired from a
// session pool — one underlying exchange client per pooled local address or
// account.
type Driver interface {
	FetchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (Raw, error)
	WatchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (Raw, error)
	FetchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (Raw, error)
	WatchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (Raw, error)

	// FetchOrder returns (nil, nil) if the exchange reports the order
	// unknown; the three-stage fallback lives in internal/exchange, not here.
	FetchOrder(ctx context.Context, sess *session.Session, id, symbol string) (Raw, error)
	FetchOpenOrders(ctx context.Context, sess *session.Session, symbols []string) ([]Raw, error)
	FetchCanceledOrders(ctx context.Context, sess *session.Session, symbol string) ([]Raw, error)

	CreateOrder(ctx context.Context, sess *session.Session, params CreateOrderParams) (Raw, error)

	// CancelOrder is the only cancellation primitive: bulk cancellation is
	// the adaptor's job, which reads the exchange's current open set and
	// cancels per order so nothing stale is cancelled.
	CancelOrder(ctx context.Context, sess *session.Session, id, symbol string) error

	WatchOrders(ctx context.Context, sess *session.Session) ([]Raw, error)

	// NextNonce returns the process-wide monotonic nonce for signing.
	NextNonce() int64

	Close() error
}

// CreateOrderParams mirrors types.CreateOrderParams with Price/Amount left
// as float64 at the driver boundary, since the underlying client library is
// assumed to speak plain numbers over the wire; internal/exchange converts
// to/from decimal.Decimal at the normalization boundary.
type CreateOrderParams struct {
	ClientOrderID string
	Symbol        string
	Type          string // "limit" | "market"
	Side          string // "buy" | "sell"
	Amount        float64
	Price         float64
}
