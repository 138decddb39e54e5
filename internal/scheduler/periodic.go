package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gate/internal/registry"
	"gate/pkg/types"
)

// runOrderBookFanOut fetches every configured symbol's order book in
// parallel each round, measuring the whole batch's elapsed time for the
// latency percentile metric. A failed round is reported and followed by a
// one-second pause before the next round.
func (s *Scheduler) runOrderBookFanOut(ctx context.Context) {
	const failureBackoff = time.Second

	symbols := s.cfg.Symbols()
	depth := s.cfg.Data.Configs.GateConfig.Gate.OrderBookDepth

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		books := make([]*types.OrderBook, len(symbols))

		group, gctx := errgroup.WithContext(ctx)
		for i, symbol := range symbols {
			i, symbol := i, symbol
			group.Go(func() error {
				sess, err := s.publicPool.Acquire(gctx)
				if err != nil {
					return err
				}
				book, err := s.exchange.WatchOrderBook(gctx, sess, symbol, depth)
				if err != nil {
					return err
				}
				books[i] = book
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("order book fan-out failed", "error", err)
			s.emitErrorEvent(uuid.NewString(), types.ActionOrderBookUpdate, err, symbols)
			if s.sleepOrReturn(ctx, failureBackoff) {
				return
			}
			continue
		}

		s.metrics.recordOrderBookBatch(len(symbols), time.Since(start))

		for _, book := range books {
			if book == nil {
				continue
			}
			s.bus.Offer(ctx, types.Event{Action: types.ActionOrderBookUpdate, Data: book}, types.DestOrderBooks)
		}
	}
}

// runBalanceWatch yields to any in-flight priority command before acquiring
// the private pool, then watches for the next balance delta restricted to
// the configured default assets.
func (s *Scheduler) runBalanceWatch(ctx context.Context) {
	assets := s.cfg.DefaultAssets()
	delay := s.cfg.Delays().Balance

	for {
		if err := s.priority.Wait(ctx); err != nil {
			return
		}

		sess, err := s.acquirePrivate(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.sleepOrReturn(ctx, delay)
			continue
		}

		balance, err := s.exchange.WatchPartialBalance(ctx, sess, assets)
		if err != nil {
			s.logger.Error("watch balance failed", "error", err)
			if s.sleepOrReturn(ctx, delay) {
				return
			}
			continue
		}

		s.bus.Offer(ctx, types.Event{Action: types.ActionBalanceUpdate, Data: balance}, types.DestBalances)

		if s.sleepOrReturn(ctx, delay) {
			return
		}
	}
}

// runOrderWatch watches for the next batch of order deltas and, for each,
// attaches the client_order_id via the registry and closes the open-set
// entry on a terminal status. A watch failure (e.g. the driver's stream not
// yet connected) backs off by the order-status delay instead of busy-looping.
func (s *Scheduler) runOrderWatch(ctx context.Context) {
	backoff := s.cfg.Delays().OrderStatus

	for {
		if err := s.priority.Wait(ctx); err != nil {
			return
		}

		sess, err := s.acquirePrivate(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if s.sleepOrReturn(ctx, backoff) {
				return
			}
			continue
		}

		orders, err := s.exchange.WatchOrders(ctx, sess)
		if err != nil {
			s.logger.Warn("watch orders failed, backing off", "error", err)
			if s.sleepOrReturn(ctx, backoff) {
				return
			}
			continue
		}

		for _, order := range orders {
			s.applyOrderDelta(ctx, order)
		}
	}
}

// applyOrderDelta correlates one watch_orders delta against the registry's
// open-order set and emits the resulting orders_update. Each delta is
// handled independently of any other in-flight command.
func (s *Scheduler) applyOrderDelta(ctx context.Context, order *types.Order) {
	clientOrderID, ok, err := s.registry.ClientOrderIDByOrderID(order.ID)
	if err != nil {
		s.logger.Error("registry lookup failed", "order_id", order.ID, "error", err)
		return
	}
	if !ok {
		// Not a delta the registry has ever heard of (e.g. restart, or an
		// order this instance did not create); pass it through unlabeled.
		clientOrderID = order.ClientOrderID
	} else {
		order.ClientOrderID = clientOrderID
	}

	eventID, ok, err := s.registry.EventIDByClientOrderID(clientOrderID)
	if err != nil || !ok {
		eventID = uuid.NewString()
	}

	if order.Status == types.StatusClosed || order.Status == types.StatusCanceled {
		s.registry.CloseOrder(clientOrderID, order.Symbol)
	}

	reply := types.Event{EventID: eventID, Action: types.ActionOrdersUpdate, Data: []*types.Order{order}}
	s.bus.Offer(ctx, reply, types.DestCore)
	s.bus.Offer(ctx, reply, types.DestLogs)
}

// runMetrics snapshots the buffered latency/rps window every second and
// emits it if at least 2 samples were seen.
func (s *Scheduler) runMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, ok := s.metrics.snapshot()
			if !ok {
				continue
			}
			s.bus.Offer(ctx, types.Event{Action: types.ActionMetrics, Data: m}, types.DestLogs)
		}
	}
}

// runPing emits a 1s heartbeat to the log destination carrying the
// cumulative order-book count received since startup.
func (s *Scheduler) runPing(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.bus.Offer(ctx, types.Event{
				Action: types.ActionPing,
				Data:   map[string]int64{"order_books_received": s.metrics.orderBooksReceived()},
			}, types.DestLogs)
		}
	}
}

// runOpenOrderReconciliation periodically cross-checks the registry's
// open-order set against the exchange's own open-orders view, catching
// fills and cancels missed by the order-watch stream (e.g. performed by
// another instance acting on the same account).
func (s *Scheduler) runOpenOrderReconciliation(ctx context.Context) {
	interval := s.cfg.Delays().OrderStatus
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if s.sleepOrReturn(ctx, interval) {
			return
		}
		if err := s.priority.Wait(ctx); err != nil {
			return
		}
		s.reconcileOpenOrders(ctx)
	}
}

// reconcileOpenOrders runs one reconciliation sweep. An entry the exchange
// no longer lists as open left that list either by filling or by being
// canceled, and the open-orders view alone cannot tell which — so each
// missing order is resolved to its real terminal status through the
// adaptor's full fetch-order fallback before being reported. Only an order
// every lookup stage has forgotten is synthesized as canceled.
func (s *Scheduler) reconcileOpenOrders(ctx context.Context) {
	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		return
	}

	open, err := s.exchange.FetchOpenOrders(ctx, sess, s.cfg.Symbols())
	if err != nil {
		s.logger.Warn("open order reconciliation fetch failed", "error", err)
		return
	}
	stillOpenIDs := make(map[string]struct{}, len(open))
	for _, o := range open {
		stillOpenIDs[o.ID] = struct{}{}
	}

	for _, key := range s.registry.Snapshot() {
		orderID, ok, err := s.registry.OrderIDByClientOrderID(key.ClientOrderID)
		if err != nil || !ok {
			continue
		}
		if _, stillOpen := stillOpenIDs[orderID]; stillOpen {
			continue
		}
		s.reconcileMissingOrder(ctx, key, orderID)
	}
}

func (s *Scheduler) reconcileMissingOrder(ctx context.Context, key registry.OpenOrderKey, orderID string) {
	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		return
	}

	order, err := s.exchange.FetchOrder(ctx, sess, types.FetchOrderParams{ID: orderID, Symbol: key.Symbol})
	if err != nil {
		s.logger.Warn("reconciliation order lookup failed", "order_id", orderID, "error", err)
		return
	}
	if order == nil {
		s.emitSyntheticCancel(ctx, key.ClientOrderID, orderID, key.Symbol)
		return
	}
	if order.Status == types.StatusOpen {
		// Reappeared between the two lookups; leave it to the next sweep.
		return
	}

	order.ClientOrderID = key.ClientOrderID
	s.applyOrderDelta(ctx, order)
}

// sleepOrReturn sleeps for d or returns true early if ctx is canceled first.
func (s *Scheduler) sleepOrReturn(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}
