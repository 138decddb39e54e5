package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gate/internal/errs"
	"gate/pkg/types"
)

// decodeData re-decodes an Event's schemaless Data payload into a concrete
// per-action shape.
func decodeData(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

// handleCreateOrders handles create_orders: for each item, acquire a
// private session and create_order; on success, atomically correlate all
// three registry mappings and insert into the open set; emit to core and
// logs. On failure, emit an error event preserving the original event_id.
// Sequential creates within one command are spaced by createSpacing to
// avoid nonce collisions.
func (s *Scheduler) handleCreateOrders(ctx context.Context, event types.Event) {
	var items []types.CreateOrderParams
	if err := decodeData(event.Data, &items); err != nil {
		s.emitErrorEvent(event.EventID, types.ActionCreateOrders, err, event.Data)
		return
	}

	for i, params := range items {
		s.createOrder(ctx, event.EventID, params)
		if i < len(items)-1 {
			time.Sleep(createSpacing)
		}
	}
}

func (s *Scheduler) createOrder(ctx context.Context, eventID string, params types.CreateOrderParams) {
	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		s.emitErrorEvent(eventID, types.ActionCreateOrders, err, []types.CreateOrderParams{params})
		return
	}

	order, err := s.exchange.CreateOrder(ctx, sess, params)
	if err != nil {
		s.emitErrorEvent(eventID, types.ActionCreateOrders, err, []types.CreateOrderParams{params})
		return
	}

	if err := s.registry.Correlate(eventID, params.ClientOrderID, order.ID, order.Symbol); err != nil {
		s.logger.Error("registry correlate failed", "client_order_id", params.ClientOrderID, "error", err)
	}

	reply := types.Event{EventID: eventID, Action: types.ActionCreateOrders, Data: []*types.Order{order}}
	s.bus.Offer(ctx, reply, types.DestCore)
	s.bus.Offer(ctx, reply, types.DestLogs)
}

// handleCancelOrders handles cancel_orders.
func (s *Scheduler) handleCancelOrders(ctx context.Context, event types.Event) {
	var items []types.FetchOrderParams
	if err := decodeData(event.Data, &items); err != nil {
		s.emitErrorEvent(event.EventID, types.ActionCancelOrders, err, event.Data)
		return
	}
	for _, params := range items {
		s.cancelOrder(ctx, params)
	}
}

// syntheticCancel is the "all other fields null" order update emitted when
// the exchange reports an order unknown to it.
type syntheticCancel struct {
	ID            string  `json:"id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	TimestampUs   *int64  `json:"timestamp_us"`
	Type          *string `json:"type"`
	Side          *string `json:"side"`
	Price         *string `json:"price"`
	Amount        *string `json:"amount"`
	Filled        *string `json:"filled"`
}

func (s *Scheduler) cancelOrder(ctx context.Context, params types.FetchOrderParams) {
	orderID, ok, err := s.registry.OrderIDByClientOrderID(params.ClientOrderID)
	if err == nil && !ok {
		err = fmt.Errorf("client_order_id %q not in registry: %w", params.ClientOrderID, errs.ErrNotFound)
	}
	if err != nil {
		s.emitErrorEvent(uuid.NewString(), types.ActionCancelOrders, err, []types.FetchOrderParams{params})
		return
	}

	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		s.emitErrorEvent(uuid.NewString(), types.ActionCancelOrders, err, []types.FetchOrderParams{params})
		return
	}

	cancelErr := s.exchange.CancelOrder(ctx, sess, types.FetchOrderParams{ID: orderID, Symbol: params.Symbol})
	if cancelErr == nil {
		// The order-watch loop observes the resulting terminal status and
		// emits the orders_update; cancel_orders itself reports nothing on
		// success.
		return
	}

	if errors.Is(cancelErr, errs.ErrNotFound) {
		s.emitSyntheticCancel(ctx, params.ClientOrderID, orderID, params.Symbol)
		msg := cancelErr.Error()
		s.bus.Offer(ctx, types.Event{
			EventID: uuid.NewString(),
			Event:   types.EventError,
			Action:  types.ActionCancelOrders,
			Message: &msg,
			Data:    []types.FetchOrderParams{params},
		}, types.DestLogs)
		return
	}

	s.emitErrorEvent(uuid.NewString(), types.ActionCancelOrders, cancelErr, []types.FetchOrderParams{params})
}

// emitSyntheticCancel handles the "order not found on cancel" edge case:
// not an error in itself, translated into a synthetic
// orders_update{status=canceled} using the registry's stored event_id (the
// original create's). It emits only that update; cancelOrder emits the
// accompanying error-log event itself, with a fresh id.
func (s *Scheduler) emitSyntheticCancel(ctx context.Context, clientOrderID, orderID, symbol string) {
	eventID, ok, err := s.registry.EventIDByClientOrderID(clientOrderID)
	if err != nil || !ok {
		eventID = uuid.NewString()
	}
	s.registry.CloseOrder(clientOrderID, symbol)

	update := syntheticCancel{
		ID:            orderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Status:        string(types.StatusCanceled),
	}
	reply := types.Event{EventID: eventID, Action: types.ActionOrdersUpdate, Data: []syntheticCancel{update}}
	s.bus.Offer(ctx, reply, types.DestCore)
	s.bus.Offer(ctx, reply, types.DestLogs)
}

// handleCancelAllOrders delegates to the exchange adaptor's batched cancel;
// no per-order reporting.
func (s *Scheduler) handleCancelAllOrders(ctx context.Context, event types.Event) {
	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		s.emitErrorEvent(event.EventID, types.ActionCancelAllOrders, err, s.cfg.Symbols())
		return
	}

	if err := s.exchange.CancelAllOrders(ctx, sess, s.cfg.Symbols()); err != nil {
		s.emitErrorEvent(event.EventID, types.ActionCancelAllOrders, err, s.cfg.Symbols())
	}
}

// handleGetOrders handles get_orders. The reply's event_id equals the
// originating command's event_id, not any registry-stored create id.
func (s *Scheduler) handleGetOrders(ctx context.Context, event types.Event) {
	var items []types.FetchOrderParams
	if err := decodeData(event.Data, &items); err != nil {
		s.emitErrorEvent(event.EventID, types.ActionGetOrders, err, event.Data)
		return
	}

	for _, params := range items {
		s.getOrder(ctx, event.EventID, params)
	}
}

func (s *Scheduler) getOrder(ctx context.Context, commandEventID string, params types.FetchOrderParams) {
	orderID, ok, err := s.registry.OrderIDByClientOrderID(params.ClientOrderID)
	if err == nil && !ok {
		err = fmt.Errorf("client_order_id %q not in registry: %w", params.ClientOrderID, errs.ErrNotFound)
	}
	if err != nil {
		s.emitErrorEvent(commandEventID, types.ActionGetOrders, err, []types.FetchOrderParams{params})
		return
	}

	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		s.emitErrorEvent(commandEventID, types.ActionGetOrders, err, []types.FetchOrderParams{params})
		return
	}

	order, err := s.exchange.FetchOrder(ctx, sess, types.FetchOrderParams{ID: orderID, Symbol: params.Symbol})
	if err != nil {
		s.emitErrorEvent(commandEventID, types.ActionGetOrders, err, []types.FetchOrderParams{params})
		return
	}
	if order == nil {
		s.emitErrorEvent(commandEventID, types.ActionGetOrders, errs.ErrNotFound, []types.FetchOrderParams{params})
		return
	}
	order.ClientOrderID = params.ClientOrderID

	reply := types.Event{EventID: commandEventID, Action: types.ActionGetOrders, Data: []*types.Order{order}}
	s.bus.Offer(ctx, reply, types.DestCore)
	s.bus.Offer(ctx, reply, types.DestLogs)
}

// handleGetBalance handles get_balance: an empty or missing data uses the
// configured default asset set. The reply's event_id equals the originating
// command's event_id.
func (s *Scheduler) handleGetBalance(ctx context.Context, event types.Event) {
	var assets []string
	if err := decodeData(event.Data, &assets); err != nil || len(assets) == 0 {
		assets = s.cfg.DefaultAssets()
	}

	sess, err := s.acquirePrivate(ctx)
	if err != nil {
		s.emitErrorEvent(event.EventID, types.ActionGetBalance, err, assets)
		return
	}

	balance, err := s.exchange.FetchPartialBalance(ctx, sess, assets)
	if err != nil {
		s.emitErrorEvent(event.EventID, types.ActionGetBalance, err, assets)
		return
	}

	reply := types.Event{EventID: event.EventID, Action: types.ActionGetBalance, Data: balance}
	s.bus.Offer(ctx, reply, types.DestBalances)
	s.bus.Offer(ctx, reply, types.DestLogs)
}
