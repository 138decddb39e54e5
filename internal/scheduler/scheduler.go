// Package scheduler implements the gateway's scheduler/dispatcher: inbound
// command classification and dispatch, the priority-set policy, the
// periodic market-data/balance/order/metrics activities, and the five
// command handlers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gate/internal/config"
	"gate/internal/exchange"
	"gate/internal/registry"
	"gate/internal/session"
	"gate/internal/transport"
	"gate/pkg/types"
)

// Scheduler is the gateway's dispatcher. It owns no network connections
// directly — every exchange call goes through the injected
// *exchange.Exchange over a session acquired from one of the two pools — so
// the scheduler is pure orchestration and is the single place the
// gateway's control flow lives.
type Scheduler struct {
	exchange    *exchange.Exchange
	publicPool  *session.Pool
	privatePool *session.Pool
	registry    *registry.Registry
	bus         *transport.Bus
	cfg         *config.Config
	logger      *slog.Logger

	priority *PrioritySet
	metrics  *metricsCollector

	tasks sync.WaitGroup
}

// New wires a Scheduler from its already-constructed collaborators.
func New(
	exch *exchange.Exchange,
	publicPool, privatePool *session.Pool,
	reg *registry.Registry,
	bus *transport.Bus,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		exchange:    exch,
		publicPool:  publicPool,
		privatePool: privatePool,
		registry:    reg,
		bus:         bus,
		cfg:         cfg,
		logger:      logger.With("component", "scheduler"),
		priority:    NewPrioritySet(),
		metrics:     newMetricsCollector(),
	}
}

// Run starts every periodic activity and the inbound subscriber loop, and
// blocks until ctx is canceled. It then waits for in-flight command tasks
// and periodic activities to observe cancellation before returning, so
// commands already accepted finish draining instead of being abandoned
// mid-flight.
func (s *Scheduler) Run(ctx context.Context) error {
	var activities sync.WaitGroup
	for _, activity := range []func(context.Context){
		s.runOrderBookFanOut,
		s.runBalanceWatch,
		s.runOrderWatch,
		s.runOpenOrderReconciliation,
		s.runMetrics,
		s.runPing,
	} {
		activities.Add(1)
		activity := activity
		go func() {
			defer activities.Done()
			activity(ctx)
		}()
	}

	busErr := s.bus.Run(ctx, s.handle)

	s.tasks.Wait()
	activities.Wait()
	return busErr
}

// isPriority classifies create_orders/cancel_orders/cancel_all_orders as
// priority commands.
func isPriority(action types.Action) bool {
	switch action {
	case types.ActionCreateOrders, types.ActionCancelOrders, types.ActionCancelAllOrders:
		return true
	default:
		return false
	}
}

// isBackground classifies get_orders/get_balance as background commands.
func isBackground(action types.Action) bool {
	switch action {
	case types.ActionGetOrders, types.ActionGetBalance:
		return true
	default:
		return false
	}
}

// handle is the subscriber's message handler: it classifies the action,
// drops unknown actions with an error log, and spawns a task retained
// until completion — added to and removed from the priority set if the
// action is priority.
func (s *Scheduler) handle(event types.Event) {
	priority := isPriority(event.Action)
	background := isBackground(event.Action)

	if !priority && !background {
		s.logger.Error("unknown action, dropping", "action", event.Action)
		msg := fmt.Sprintf("unknown action: %s", event.Action)
		s.bus.Offer(context.Background(), types.Event{
			EventID: event.EventID,
			Event:   types.EventError,
			Action:  event.Action,
			Message: &msg,
		}, types.DestLogs)
		return
	}

	s.tasks.Add(1)
	if priority {
		s.priority.Enter()
	}
	go func() {
		defer s.tasks.Done()
		if priority {
			defer s.priority.Leave()
		}
		s.dispatch(context.Background(), event)
	}()
}

func (s *Scheduler) dispatch(ctx context.Context, event types.Event) {
	switch event.Action {
	case types.ActionCreateOrders:
		s.handleCreateOrders(ctx, event)
	case types.ActionCancelOrders:
		s.handleCancelOrders(ctx, event)
	case types.ActionCancelAllOrders:
		s.handleCancelAllOrders(ctx, event)
	case types.ActionGetOrders:
		s.handleGetOrders(ctx, event)
	case types.ActionGetBalance:
		s.handleGetBalance(ctx, event)
	}
}

// acquirePrivate acquires a session from the private pool, counting the
// call toward the metrics' private-API RPS window.
func (s *Scheduler) acquirePrivate(ctx context.Context) (*session.Session, error) {
	sess, err := s.privatePool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire private session: %w", err)
	}
	s.metrics.recordPrivateCall()
	return sess, nil
}

// emitErrorEvent formats err as an error event and offers it to both core
// and logs; every handler's catch-all path funnels through here.
func (s *Scheduler) emitErrorEvent(eventID string, action types.Action, err error, data any) {
	msg := err.Error()
	event := types.Event{
		EventID: eventID,
		Event:   types.EventError,
		Action:  action,
		Message: &msg,
		Data:    data,
	}
	s.bus.Offer(context.Background(), event, types.DestCore)
	s.bus.Offer(context.Background(), event, types.DestLogs)
}

// createSpacing is the ~1ms spacing between sequential creates within one
// create_orders command, to avoid nonce collisions on the exchange.
const createSpacing = 1 * time.Millisecond
