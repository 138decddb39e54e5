// Package polymarket is a concrete implementation of driver.Driver: one
// real exchange driver plugged behind the exchange adaptor. It is not
// imported by internal/exchange in any domain-specific way — the adaptor
// only ever sees the driver.Driver interface — so swapping this package for
// a different exchange's driver never touches the concurrency core.
package polymarket

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"

	"gate/internal/driver"
	"gate/internal/errs"
	"gate/internal/session"
)

// Driver wraps the Polymarket CLOB SDK client behind the gateway's
// exchange-agnostic driver.Driver interface.
type Driver struct {
	clobClient clob.Client
	signer     auth.Signer
	feed       *Feed // user-channel WS feed backing WatchOrders; nil until attached
	nonce      int64 // process-wide monotonic nanosecond counter
}

// New wraps an already-constructed SDK client and signer. The nonce counter
// is seeded from the nanosecond clock once, then only ever incremented, so
// restarts never reuse a nonce and concurrent signers never collide.
func New(clobClient clob.Client, signer auth.Signer) *Driver {
	return &Driver{clobClient: clobClient, signer: signer, nonce: time.Now().UnixNano()}
}

// AttachFeed wires the user-channel WebSocket feed WatchOrders drains. The
// caller owns the feed's Run loop.
func (d *Driver) AttachFeed(f *Feed) {
	d.feed = f
}

// NextNonce returns a strictly increasing nanosecond value, injected into
// every signed request so concurrent signers never collide.
func (d *Driver) NextNonce() int64 {
	return atomic.AddInt64(&d.nonce, 1)
}

func (d *Driver) Close() error {
	if d.feed != nil {
		return d.feed.Close()
	}
	return nil
}

// FetchOrderBook issues a raw GET through the session's own HTTP client
// (rather than the SDK client) so the call actually executes over the
// IP-bound public session the session pool hands out — the SDK client has
// no concept of per-slot local-address binding.
func (d *Driver) FetchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (driver.Raw, error) {
	var raw driver.Raw
	resp, err := sess.HTTP.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"token_id": symbol,
			"depth":    strconv.Itoa(depth),
		}).
		SetResult(&raw).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("fetch order book: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("fetch order book: %w", errs.ErrTimeout)
	}
	return raw, nil
}

// WatchOrderBook is not separately implemented by this driver: it polls
// through FetchOrderBook, so each call the gateway's periodic fan-out makes
// is one REST fetch.
func (d *Driver) WatchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (driver.Raw, error) {
	return d.FetchOrderBook(ctx, sess, symbol, depth)
}

func (d *Driver) FetchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (driver.Raw, error) {
	var raw driver.Raw
	resp, err := sess.HTTP.R().
		SetContext(ctx).
		SetQueryParam("assets", fmt.Sprint(assets)).
		SetResult(&raw).
		Get("/balance")
	if err != nil {
		return nil, fmt.Errorf("fetch partial balance: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("fetch partial balance: %w", errs.ErrTimeout)
	}
	return raw, nil
}

func (d *Driver) WatchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (driver.Raw, error) {
	return d.FetchPartialBalance(ctx, sess, assets)
}

// FetchOrder, FetchOpenOrders and FetchCanceledOrders hit the CLOB's
// plain REST endpoints directly over the session's resty client: the
// verified clob.Client surface only covers books, fees, markets, order
// creation and cancellation, not order lookup, so single-order and
// open/canceled-order listing go over sess.HTTP the same way
// FetchOrderBook does.

// FetchOrder returns (nil, nil) when the exchange reports the order
// missing, deferring the three-stage fallback decision to internal/exchange.
func (d *Driver) FetchOrder(ctx context.Context, sess *session.Session, id, symbol string) (driver.Raw, error) {
	var raw driver.Raw
	resp, err := sess.HTTP.R().
		SetContext(ctx).
		SetQueryParam("order_id", id).
		SetResult(&raw).
		Get("/order")
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("fetch order: %w", errs.ErrTimeout)
	}
	return raw, nil
}

func (d *Driver) FetchOpenOrders(ctx context.Context, sess *session.Session, symbols []string) ([]driver.Raw, error) {
	var raw []driver.Raw
	resp, err := sess.HTTP.R().
		SetContext(ctx).
		SetQueryParam("market", fmt.Sprint(symbols)).
		SetResult(&raw).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("fetch open orders: %w", errs.ErrTimeout)
	}
	return raw, nil
}

func (d *Driver) FetchCanceledOrders(ctx context.Context, sess *session.Session, symbol string) ([]driver.Raw, error) {
	var raw []driver.Raw
	resp, err := sess.HTTP.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"market": symbol, "status": "CANCELED"}).
		SetResult(&raw).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("fetch canceled orders: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("fetch canceled orders: %w", errs.ErrTimeout)
	}
	for i := range raw {
		raw[i]["status"] = "canceled"
	}
	return raw, nil
}

// CreateOrder posts price=0 for market orders; the book decides the
// execution price.
func (d *Driver) CreateOrder(ctx context.Context, sess *session.Session, params driver.CreateOrderParams) (driver.Raw, error) {
	builder := clob.NewOrderBuilder(d.clobClient, d.signer).
		TokenID(params.Symbol).
		Side(params.Side).
		AmountUSDC(params.Amount)

	// Limit orders post the caller's real price; only market orders carry the
	// price=0 convention, since BuildMarketWithContext computes its own
	// execution price from the book.
	var (
		signable *clobtypes.SignableOrder
		err      error
	)
	if params.Type == "market" {
		signable, err = builder.OrderType(clobtypes.OrderTypeFAK).BuildMarketWithContext(ctx)
	} else {
		signable, err = builder.Price(params.Price).OrderType(clobtypes.OrderTypeGTC).BuildSignableWithContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	resp, err := d.clobClient.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return map[string]any{
		"id":            resp.ID,
		"clientOrderId": params.ClientOrderID,
		"status":        resp.Status,
		"price":         params.Price,
		"original_size": resp.OriginalSize,
		"size_matched":  resp.SizeMatched,
		"side":          params.Side,
		"type":          params.Type,
	}, nil
}

func (d *Driver) CancelOrder(ctx context.Context, sess *session.Session, id, symbol string) error {
	_, err := d.clobClient.CancelOrders(ctx, &clobtypes.CancelOrdersRequest{OrderIDs: []string{id}})
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// WatchOrders blocks for the next order lifecycle event from the user-channel
// feed, then drains whatever else is already buffered into the same batch.
// The feed is connection-level, not per-session, so sess is unused here.
func (d *Driver) WatchOrders(ctx context.Context, sess *session.Session) ([]driver.Raw, error) {
	if d.feed == nil {
		return nil, fmt.Errorf("watch orders: %w", errs.ErrNotConnected)
	}

	var batch []driver.Raw
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw := <-d.feed.Orders():
		batch = append(batch, raw)
	}

	for {
		select {
		case raw := <-d.feed.Orders():
			batch = append(batch, raw)
		default:
			return batch, nil
		}
	}
}

var _ driver.Driver = (*Driver)(nil)
