package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gate/internal/config"
	"gate/internal/driver"
	"gate/internal/errs"
	"gate/internal/exchange"
	"gate/internal/registry"
	"gate/internal/session"
	"gate/internal/store"
	"gate/internal/transport"
	"gate/pkg/types"
)

// fakeDriver is a hand-rolled driver.Driver test double, the same pattern
// internal/exchange/exchange_test.go uses.
type fakeDriver struct {
	createReply       driver.Raw
	createErr         error
	cancelErr         error
	order             driver.Raw
	openOrders        []driver.Raw
	balance           driver.Raw
	watchOrderBookErr error
}

func (f *fakeDriver) FetchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (driver.Raw, error) {
	return driver.Raw{"bids": []any{}, "asks": []any{}}, nil
}
func (f *fakeDriver) WatchOrderBook(ctx context.Context, sess *session.Session, symbol string, depth int) (driver.Raw, error) {
	if f.watchOrderBookErr != nil {
		return nil, f.watchOrderBookErr
	}
	return driver.Raw{"bids": []any{}, "asks": []any{}}, nil
}
func (f *fakeDriver) FetchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (driver.Raw, error) {
	return f.balance, nil
}
func (f *fakeDriver) WatchPartialBalance(ctx context.Context, sess *session.Session, assets []string) (driver.Raw, error) {
	return f.balance, nil
}
func (f *fakeDriver) FetchOrder(ctx context.Context, sess *session.Session, id, symbol string) (driver.Raw, error) {
	return f.order, nil
}
func (f *fakeDriver) FetchOpenOrders(ctx context.Context, sess *session.Session, symbols []string) ([]driver.Raw, error) {
	return f.openOrders, nil
}
func (f *fakeDriver) FetchCanceledOrders(ctx context.Context, sess *session.Session, symbol string) ([]driver.Raw, error) {
	return nil, nil
}
func (f *fakeDriver) CreateOrder(ctx context.Context, sess *session.Session, params driver.CreateOrderParams) (driver.Raw, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createReply, nil
}
func (f *fakeDriver) CancelOrder(ctx context.Context, sess *session.Session, id, symbol string) error {
	return f.cancelErr
}
func (f *fakeDriver) WatchOrders(ctx context.Context, sess *session.Session) ([]driver.Raw, error) {
	return nil, errs.ErrNotConnected
}
func (f *fakeDriver) NextNonce() int64 { return 1 }
func (f *fakeDriver) Close() error     { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testHarness wires a Scheduler over fakes/in-memory collaborators.
type testHarness struct {
	sched *Scheduler
	drv   *fakeDriver
	reg   *registry.Registry
	core  *transport.ChannelPublisher
	logs  *transport.ChannelPublisher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	reg := registry.New(st)

	drv := &fakeDriver{}
	exch := exchange.New(drv, testLogger())

	publicSess, err := session.NewPublicSession("", "http://example.invalid", time.Second)
	if err != nil {
		t.Fatalf("NewPublicSession: %v", err)
	}
	publicPool := session.NewPool([]*session.Session{publicSess}, time.Millisecond)
	privatePool := session.NewPool([]*session.Session{session.NewPrivateSession("acct-1", "http://example.invalid", time.Second)}, time.Millisecond)

	sub := transport.NewChannelSubscriber(16)
	ob := transport.NewChannelPublisher(16)
	bal := transport.NewChannelPublisher(16)
	core := transport.NewChannelPublisher(16)
	logs := transport.NewChannelPublisher(16)
	bus := transport.New(sub, ob, bal, core, logs, transport.Config{Exchange: "polymarket", Instance: "gate-1", Algo: "algo-1"}, testLogger())

	cfg := &config.Config{
		Data: config.DataConfig{
			Configs: config.ConfigsConfig{
				GateConfig: config.GateConfig{
					RateLimits: config.RateLimitsConfig{
						ApiRequestsPerSeconds: config.RequestsPerSecond{
							Private: config.PrivateRPS{Balance: 1000, OrderStatus: 1000, ExchangeRPSLimit: 1000},
						},
					},
					Gate: config.GateSection{OrderBookDepth: 10},
				},
			},
			Markets:      []config.MarketRef{{CommonSymbol: "BTC/USDT"}},
			AssetsLabels: []config.AssetLabel{{Common: "BTC"}, {Common: "USDT"}},
		},
	}

	sched := New(exch, publicPool, privatePool, reg, bus, cfg, testLogger())
	return &testHarness{sched: sched, drv: drv, reg: reg, core: core, logs: logs}
}

func decodeEvent(t *testing.T, raw []byte) types.Event {
	t.Helper()
	var e types.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return e
}

// TestHandleCreateOrdersCorrelatesAndReplies checks that a successful
// create atomically populates all three registry tables and replies with
// event_id equal to the command's.
func TestHandleCreateOrdersCorrelatesAndReplies(t *testing.T) {
	h := newHarness(t)
	h.drv.createReply = driver.Raw{
		"id": "ex-1", "symbol": "BTC/USDT", "status": "open", "type": "limit",
		"side": "buy", "amount": 1.0, "filled": 0.0, "price": 100.0,
	}

	event := types.Event{
		EventID: "cmd-1",
		Action:  types.ActionCreateOrders,
		Data: []types.CreateOrderParams{{
			ClientOrderID: "c-1", Symbol: "BTC/USDT", Type: types.Limit, Side: types.Buy,
		}},
	}
	h.sched.handleCreateOrders(context.Background(), event)

	payloads := h.core.Drain()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 core reply, got %d", len(payloads))
	}
	reply := decodeEvent(t, payloads[0])
	if reply.EventID != "cmd-1" {
		t.Errorf("EventID = %q, want cmd-1", reply.EventID)
	}

	orderID, ok, err := h.reg.OrderIDByClientOrderID("c-1")
	if err != nil || !ok || orderID != "ex-1" {
		t.Errorf("registry order id = %q, %v, %v, want ex-1", orderID, ok, err)
	}
	eventID, ok, err := h.reg.EventIDByClientOrderID("c-1")
	if err != nil || !ok || eventID != "cmd-1" {
		t.Errorf("registry event id = %q, %v, %v, want cmd-1", eventID, ok, err)
	}
	if !h.reg.IsOpen("c-1", "BTC/USDT") {
		t.Error("expected order to be in the open set")
	}
}

// TestCancelOrderNotFoundEmitsSyntheticCancel checks that a cancel against
// an already-filled/unknown order synthesizes a canceled orders_update
// using the original create's event_id, plus a separate error event with a
// fresh id.
func TestCancelOrderNotFoundEmitsSyntheticCancel(t *testing.T) {
	h := newHarness(t)
	if err := h.reg.Correlate("create-ev", "c-2", "ex-2", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	h.drv.cancelErr = errs.ErrNotFound

	h.sched.cancelOrder(context.Background(), types.FetchOrderParams{ClientOrderID: "c-2", Symbol: "BTC/USDT"})

	payloads := h.core.Drain()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 core message (the synthetic cancel), got %d", len(payloads))
	}
	reply := decodeEvent(t, payloads[0])
	if reply.EventID != "create-ev" {
		t.Errorf("synthetic cancel EventID = %q, want create-ev", reply.EventID)
	}
	if reply.Action != types.ActionOrdersUpdate {
		t.Errorf("Action = %q, want orders_update", reply.Action)
	}
	if h.reg.IsOpen("c-2", "BTC/USDT") {
		t.Error("expected order to be removed from the open set")
	}
}

// TestGetOrdersUsesCommandEventID checks that get_orders' reply event_id
// equals the originating command's event_id, not any registry-stored
// create id.
func TestGetOrdersUsesCommandEventID(t *testing.T) {
	h := newHarness(t)
	if err := h.reg.Correlate("original-create-ev", "c-3", "ex-3", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	h.drv.openOrders = []driver.Raw{
		{"id": "ex-3", "symbol": "BTC/USDT", "status": "open", "type": "limit", "side": "buy", "amount": 1.0, "filled": 0.0, "price": 100.0},
	}

	event := types.Event{
		EventID: "get-cmd-1",
		Action:  types.ActionGetOrders,
		Data:    []types.FetchOrderParams{{ClientOrderID: "c-3", Symbol: "BTC/USDT"}},
	}
	h.sched.handleGetOrders(context.Background(), event)

	payloads := h.core.Drain()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 core reply, got %d", len(payloads))
	}
	reply := decodeEvent(t, payloads[0])
	if reply.EventID != "get-cmd-1" {
		t.Errorf("EventID = %q, want get-cmd-1 (the command's, not the original create's)", reply.EventID)
	}
}

// TestGetBalanceDefaultsAssets exercises the configured default asset
// fallback when the command carries no explicit list.
func TestGetBalanceDefaultsAssets(t *testing.T) {
	h := newHarness(t)
	h.drv.balance = driver.Raw{"BTC": map[string]any{"free": 1.0, "used": 0.0, "total": 1.0}}

	event := types.Event{EventID: "bal-cmd-1", Action: types.ActionGetBalance}
	h.sched.handleGetBalance(context.Background(), event)

	payloads := h.logs.Drain()
	var found bool
	for _, p := range payloads {
		e := decodeEvent(t, p)
		if e.Action == types.ActionGetBalance && e.EventID == "bal-cmd-1" {
			found = true
		}
	}
	if !found {
		t.Error("expected a get_balance reply echoed to logs with the command's event_id")
	}
}

// TestHandleUnknownActionDropsAndLogs checks that an action outside the
// five known commands is dropped with an error event; the handler is never
// dispatched.
func TestHandleUnknownActionDropsAndLogs(t *testing.T) {
	h := newHarness(t)
	h.sched.handle(types.Event{EventID: "weird-1", Action: types.Action("reboot_exchange")})

	h.sched.tasks.Wait()

	payloads := h.logs.Drain()
	var sawError bool
	for _, p := range payloads {
		e := decodeEvent(t, p)
		if e.Event == types.EventError && e.EventID == "weird-1" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event logged for the unknown action")
	}
}

// TestApplyOrderDeltaClosesOpenOrderOnTerminalStatus exercises the order
// watch correlation path in isolation.
func TestApplyOrderDeltaClosesOpenOrderOnTerminalStatus(t *testing.T) {
	h := newHarness(t)
	if err := h.reg.Correlate("create-ev-4", "c-4", "ex-4", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}

	price := decimal.NewFromInt(100)
	order := &types.Order{ID: "ex-4", Symbol: "BTC/USDT", Status: types.StatusClosed, Price: &price}
	h.sched.applyOrderDelta(context.Background(), order)

	if h.reg.IsOpen("c-4", "BTC/USDT") {
		t.Error("expected order to be closed in the registry")
	}

	payloads := h.core.Drain()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 core message, got %d", len(payloads))
	}
	reply := decodeEvent(t, payloads[0])
	if reply.EventID != "create-ev-4" {
		t.Errorf("EventID = %q, want create-ev-4", reply.EventID)
	}
}

// TestRunOrderBookFanOutEmitsErrorEventOnFailure checks that a failed round
// of order book fetches is reported to core and logs, not just logged
// locally.
func TestRunOrderBookFanOutEmitsErrorEventOnFailure(t *testing.T) {
	h := newHarness(t)
	h.drv.watchOrderBookErr = errors.New("boom")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.sched.runOrderBookFanOut(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOrderBookFanOut did not return after context deadline")
	}

	var sawError bool
	for _, p := range h.core.Drain() {
		e := decodeEvent(t, p)
		if e.Event == types.EventError && e.Action == types.ActionOrderBookUpdate {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event emitted to core when the fan-out fails")
	}
}

// TestReconcileOpenOrdersReportsFilledAsClosed: an order missing from the
// exchange's open list because it filled must be reported with its real
// terminal status (closed), not assumed canceled.
func TestReconcileOpenOrdersReportsFilledAsClosed(t *testing.T) {
	h := newHarness(t)
	if err := h.reg.Correlate("create-ev-5", "c-5", "ex-5", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	h.drv.openOrders = nil
	h.drv.order = driver.Raw{
		"id": "ex-5", "symbol": "BTC/USDT", "status": "closed", "type": "limit",
		"side": "buy", "amount": 1.0, "filled": 1.0, "price": 100.0,
	}

	h.sched.reconcileOpenOrders(context.Background())

	if h.reg.IsOpen("c-5", "BTC/USDT") {
		t.Error("expected the filled order to be removed from the open set")
	}

	payloads := h.core.Drain()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 core message, got %d", len(payloads))
	}
	reply := decodeEvent(t, payloads[0])
	if reply.Action != types.ActionOrdersUpdate {
		t.Errorf("Action = %q, want orders_update", reply.Action)
	}

	raw, _ := json.Marshal(reply.Data)
	var orders []types.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		t.Fatalf("unmarshal orders_update data: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != types.StatusClosed {
		t.Errorf("orders_update = %+v, want one order with status closed", orders)
	}
}

// TestReconcileOpenOrdersSynthesizesCancelWhenForgotten: only an order every
// lookup stage misses is synthesized as canceled.
func TestReconcileOpenOrdersSynthesizesCancelWhenForgotten(t *testing.T) {
	h := newHarness(t)
	if err := h.reg.Correlate("create-ev-6", "c-6", "ex-6", "BTC/USDT"); err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	h.drv.openOrders = nil
	h.drv.order = nil

	h.sched.reconcileOpenOrders(context.Background())

	if h.reg.IsOpen("c-6", "BTC/USDT") {
		t.Error("expected the forgotten order to be removed from the open set")
	}

	payloads := h.core.Drain()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 core message, got %d", len(payloads))
	}
	reply := decodeEvent(t, payloads[0])
	if reply.EventID != "create-ev-6" {
		t.Errorf("EventID = %q, want create-ev-6", reply.EventID)
	}

	raw, _ := json.Marshal(reply.Data)
	var updates []syntheticCancel
	if err := json.Unmarshal(raw, &updates); err != nil {
		t.Fatalf("unmarshal orders_update data: %v", err)
	}
	if len(updates) != 1 || updates[0].Status != string(types.StatusCanceled) {
		t.Errorf("orders_update = %+v, want one synthetic cancel", updates)
	}
}

// TestRunOrderWatchBacksOffOnPermanentError exercises the defensive backoff
// around a driver whose WatchOrders always errors (here, the fake's
// not-connected stream): the loop must observe ctx cancellation rather than
// busy-loop.
func TestRunOrderWatchBacksOffOnPermanentError(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.sched.runOrderWatch(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOrderWatch did not return after context deadline")
	}

	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("unexpected ctx.Err(): %v", ctx.Err())
	}
}
