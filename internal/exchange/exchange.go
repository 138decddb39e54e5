// Package exchange implements the gateway's exchange adaptor: typed
// operations over the untyped driver.Driver black box, with normalization
// to the internal data model in pkg/types.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gate/internal/driver"
	"gate/internal/session"
	"gate/pkg/types"
)

// cancelAllSpacing is the inter-call delay cancel_all_orders inserts between
// per-order cancellations, serialized with a small inter-call spacing of
// roughly 200-300ms.
const cancelAllSpacing = 250 * time.Millisecond

// Exchange is the exchange adaptor. It holds no session state of its own —
// every call takes the *session.Session the caller already acquired from a
// session pool, so Exchange stays a thin, stateless normalization layer
// over the driver.
type Exchange struct {
	drv    driver.Driver
	logger *slog.Logger
}

// New wraps drv behind the typed exchange interface.
func New(drv driver.Driver, logger *slog.Logger) *Exchange {
	return &Exchange{drv: drv, logger: logger.With("component", "exchange")}
}

// FetchOrderBook fetches and normalizes one order book over HTTP.
func (e *Exchange) FetchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (*types.OrderBook, error) {
	raw, err := e.drv.FetchOrderBook(ctx, sess, symbol, depth)
	if err != nil {
		return nil, fmt.Errorf("fetch order book %s: %w", symbol, err)
	}
	return formatOrderBook(raw, symbol), nil
}

// WatchOrderBook blocks until the next book delta and returns the latest
// snapshot.
func (e *Exchange) WatchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (*types.OrderBook, error) {
	raw, err := e.drv.WatchOrderBook(ctx, sess, symbol, depth)
	if err != nil {
		return nil, fmt.Errorf("watch order book %s: %w", symbol, err)
	}
	return formatOrderBook(raw, symbol), nil
}

// FetchPartialBalance fetches the balance restricted to assets; assets the
// exchange doesn't report default to {0,0,0}.
func (e *Exchange) FetchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (*types.Balance, error) {
	raw, err := e.drv.FetchPartialBalance(ctx, sess, assets)
	if err != nil {
		return nil, fmt.Errorf("fetch partial balance: %w", err)
	}
	return formatPartialBalance(raw, assets), nil
}

// WatchPartialBalance blocks for the next balance delta filtered to assets.
func (e *Exchange) WatchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (*types.Balance, error) {
	raw, err := e.drv.WatchPartialBalance(ctx, sess, assets)
	if err != nil {
		return nil, fmt.Errorf("watch partial balance: %w", err)
	}
	return formatPartialBalance(raw, assets), nil
}

// FetchOrder implements a three-stage fallback: (a) direct lookup by
// exchange id, (b) scan of fetch_open_orders, (c) scan of
// fetch_canceled_orders forcing status=canceled on match. Returns
// (nil, nil) if none of the three stages finds the order.
func (e *Exchange) FetchOrder(ctx context.Context, sess *session.Session, params types.FetchOrderParams) (*types.Order, error) {
	if raw, err := e.drv.FetchOrder(ctx, sess, params.ID, params.Symbol); err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	} else if raw != nil {
		order := formatOrder(raw)
		e.logger.Debug("fetched order from primary lookup", "id", params.ID)
		return order, nil
	}

	if order, err := e.fetchOrderFromOpen(ctx, sess, params); err != nil {
		return nil, err
	} else if order != nil {
		e.logger.Debug("fetched order from open scan", "id", params.ID)
		return order, nil
	}

	if order, err := e.fetchOrderFromCanceled(ctx, sess, params); err != nil {
		return nil, err
	} else if order != nil {
		e.logger.Debug("fetched order from canceled scan", "id", params.ID)
		return order, nil
	}

	return nil, nil
}

func (e *Exchange) fetchOrderFromOpen(ctx context.Context, sess *session.Session, params types.FetchOrderParams) (*types.Order, error) {
	raws, err := e.drv.FetchOpenOrders(ctx, sess, []string{params.Symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch order from open: %w", err)
	}
	for _, raw := range raws {
		if idOf(raw) == params.ID {
			return formatOrder(raw), nil
		}
	}
	return nil, nil
}

func (e *Exchange) fetchOrderFromCanceled(ctx context.Context, sess *session.Session, params types.FetchOrderParams) (*types.Order, error) {
	raws, err := e.drv.FetchCanceledOrders(ctx, sess, params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch order from canceled: %w", err)
	}
	for _, raw := range raws {
		if idOf(raw) == params.ID {
			raw["status"] = string(types.StatusCanceled)
			return formatOrder(raw), nil
		}
	}
	return nil, nil
}

// FetchOpenOrders returns the concatenation of open orders across symbols,
// in input order.
func (e *Exchange) FetchOpenOrders(ctx context.Context, sess *session.Session, symbols []string) ([]*types.Order, error) {
	raws, err := e.drv.FetchOpenOrders(ctx, sess, symbols)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	orders := make([]*types.Order, 0, len(raws))
	for _, raw := range raws {
		orders = append(orders, formatOrder(raw))
	}
	return orders, nil
}

// CreateOrder places one order and normalizes the exchange's reply. Market
// orders are rewritten to status=closed, filled=amount on emission
// regardless of what the exchange reports; the driver is responsible for
// posting the exchange-specific price=0 convention for market orders.
func (e *Exchange) CreateOrder(ctx context.Context, sess *session.Session, params types.CreateOrderParams) (*types.Order, error) {
	amount, _ := params.Amount.Float64()
	price, _ := params.Price.Float64()

	raw, err := e.drv.CreateOrder(ctx, sess, driver.CreateOrderParams{
		ClientOrderID: params.ClientOrderID,
		Symbol:        params.Symbol,
		Type:          string(params.Type),
		Side:          string(params.Side),
		Amount:        amount,
		Price:         price,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	raw["clientOrderId"] = params.ClientOrderID
	order := formatOrder(raw)
	order.ClientOrderID = params.ClientOrderID

	if order.Type == types.Market {
		order.Status = types.StatusClosed
		order.Filled = order.Amount
	}
	return order, nil
}

// CancelOrder cancels one order by exchange id.
func (e *Exchange) CancelOrder(ctx context.Context, sess *session.Session, params types.FetchOrderParams) error {
	if err := e.drv.CancelOrder(ctx, sess, params.ID, params.Symbol); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// CancelAllOrders reads the current open set from the exchange (not local
// state, to avoid stale cancellations) and cancels every order across
// symbols, serialized with cancelAllSpacing between calls.
func (e *Exchange) CancelAllOrders(ctx context.Context, sess *session.Session, symbols []string) error {
	orders, err := e.FetchOpenOrders(ctx, sess, symbols)
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}

	for i, order := range orders {
		if err := e.drv.CancelOrder(ctx, sess, order.ID, order.Symbol); err != nil {
			return fmt.Errorf("cancel all orders: cancel %s: %w", order.ID, err)
		}
		if i < len(orders)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cancelAllSpacing):
			}
		}
	}
	return nil
}

// WatchOrders blocks for the next batch of order deltas.
func (e *Exchange) WatchOrders(ctx context.Context, sess *session.Session) ([]*types.Order, error) {
	raws, err := e.drv.WatchOrders(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("watch orders: %w", err)
	}
	orders := make([]*types.Order, 0, len(raws))
	for _, raw := range raws {
		orders = append(orders, formatOrder(raw))
	}
	return orders, nil
}

// Close releases the underlying driver session. Idempotent.
func (e *Exchange) Close() error {
	return e.drv.Close()
}
