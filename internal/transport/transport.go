// Package transport implements the gateway's messaging adaptor: a
// subscriber polled with an adaptive sleeping idle strategy, and four
// tagged publishers with offer retry/swallow semantics.
//
// The messaging transport itself is treated as an external collaborator —
// a reliable ordered UDP-style pub/sub where only its offer/poll contract
// is consumed; this package provides one concrete in-process, channel-backed
// implementation of that contract, shaped so a real Aeron/NATS binding could
// satisfy the same two interfaces without the rest of the gateway changing.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gate/internal/errs"
	"gate/pkg/types"
)

// idleSleep is the adaptive sleeping idle strategy's sleep duration on an
// empty poll: 1ms on zero fragments read, zero otherwise.
const idleSleep = 1 * time.Millisecond

// Fragment is one raw inbound message read off the subscriber channel.
type Fragment []byte

// Subscriber is the narrow poll contract the gateway consumes from the
// inbound message bus.
type Subscriber interface {
	// Poll returns any fragments currently available without blocking.
	Poll(ctx context.Context) ([]Fragment, error)
	Close() error
}

// rawPublisher is the narrow offer contract for one destination.
type rawPublisher interface {
	Offer(ctx context.Context, payload []byte) error
	Close() error
}

// Bus is the in-process channel-backed implementation of the subscriber +
// four-publisher contract. Offer retries on errs.ErrAdminAction until the
// send succeeds, swallows errs.ErrNotConnected, and logs+abandons anything
// else. With the channel publishers a full destination channel reports
// errs.ErrAdminAction, so Offer holds its caller until that channel has room.
type Bus struct {
	sub Subscriber

	orderbooks rawPublisher
	balances   rawPublisher
	core       rawPublisher
	logs       rawPublisher

	exchange string
	node     types.EventNode
	instance string
	algo     string

	logger *slog.Logger
}

// Config names the static template fields every outbound Event is stamped
// with.
type Config struct {
	Exchange string
	Instance string
	Algo     string
}

// New wires a Bus over the given subscriber and four destination publishers.
func New(sub Subscriber, orderbooks, balances, core, logs rawPublisher, cfg Config, logger *slog.Logger) *Bus {
	return &Bus{
		sub:        sub,
		orderbooks: orderbooks,
		balances:   balances,
		core:       core,
		logs:       logs,
		exchange:   cfg.Exchange,
		node:       types.NodeGate,
		instance:   cfg.Instance,
		algo:       cfg.Algo,
		logger:     logger.With("component", "transport"),
	}
}

// Handler processes one decoded inbound Event.
type Handler func(types.Event)

// Run polls the subscriber in a tight loop with the adaptive sleeping idle
// strategy until ctx is canceled, invoking handler for every well-formed
// inbound command.
func (b *Bus) Run(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fragments, err := b.sub.Poll(ctx)
		if err != nil {
			b.logger.Error("subscriber poll error", "error", err)
			fragments = nil
		}

		if len(fragments) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
			continue
		}

		for _, frag := range fragments {
			b.dispatch(frag, handler)
		}
	}
}

// dispatch decodes one fragment as JSON; non-mapping payloads are logged and
// dropped.
func (b *Bus) dispatch(frag Fragment, handler Handler) {
	var event types.Event
	if err := json.Unmarshal(frag, &event); err != nil {
		b.logger.Error("message deserialize error", "error", err)
		return
	}

	// Echo to the log publisher with node=gate before classification.
	echo := event
	echo.Node = types.NodeGate
	b.Offer(context.Background(), echo, types.DestLogs)

	handler(event)
}

// Offer formats event against the base template and sends it to destination.
// A not-connected destination returns at once; a destination reporting
// errs.ErrAdminAction is retried until it accepts the payload.
func (b *Bus) Offer(ctx context.Context, event types.Event, dest types.Destination) {
	pub, err := b.publisherFor(dest)
	if err != nil {
		b.logger.Error("offer: invalid destination", "error", err)
		return
	}

	message := b.format(event)
	payload, err := json.Marshal(message)
	if err != nil {
		b.logger.Error("offer: marshal error", "error", err)
		return
	}

	b.offerWhileNotSuccessful(ctx, pub, payload)
}

// format merges the base template (event_id, event=data, exchange, node,
// instance, algo, timestamp_us, message=nil, data) with the supplied event.
func (b *Bus) format(event types.Event) types.Event {
	out := event
	if out.EventID == "" {
		out.EventID = uuid.NewString()
	}
	if out.Event == "" {
		out.Event = types.EventData
	}
	out.Exchange = b.exchange
	out.Node = b.node
	out.Instance = b.instance
	out.Algo = b.algo
	out.TimestampUs = time.Now().UnixMicro()
	return out
}

// offerWhileNotSuccessful retries on errs.ErrAdminAction, treats
// errs.ErrNotConnected as success-equivalent, and logs+abandons anything
// else.
func (b *Bus) offerWhileNotSuccessful(ctx context.Context, pub rawPublisher, payload []byte) {
	for {
		err := pub.Offer(ctx, payload)
		if err == nil {
			return
		}
		if errors.Is(err, errs.ErrNotConnected) {
			b.logger.Debug("offer: not connected, treating as success", "error", err)
			return
		}
		if errors.Is(err, errs.ErrAdminAction) {
			b.logger.Warn("offer: admin action, retrying", "error", err)
			continue
		}
		b.logger.Error("offer: abandoning", "error", err)
		return
	}
}

func (b *Bus) publisherFor(dest types.Destination) (rawPublisher, error) {
	switch dest {
	case types.DestOrderBooks:
		return b.orderbooks, nil
	case types.DestBalances:
		return b.balances, nil
	case types.DestCore:
		return b.core, nil
	case types.DestLogs:
		return b.logs, nil
	default:
		return nil, fmt.Errorf("invalid destination: %s", dest)
	}
}

// Close releases the subscriber and all four publishers.
func (b *Bus) Close() error {
	var errs []error
	if err := b.sub.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, pub := range []rawPublisher{b.orderbooks, b.balances, b.core, b.logs} {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return firstError(errs)
}

func firstError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}
