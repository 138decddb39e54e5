// ws.go implements the CLOB user-channel WebSocket feed backing
// Driver.WatchOrders: order lifecycle events (placement, match,
// cancellation) for the authenticated account, delivered as untyped
// driver.Raw batches.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to all tracked markets on reconnection. A read deadline
// (90s) ensures silent server failures are detected within ~2 missed pings.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gate/internal/driver"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	orderBufferSize  = 256              // buffer for order lifecycle events
)

// wsAuthPayload is the credential triple the user channel's subscribe
// message carries.
type wsAuthPayload struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type wsSubscribeMsg struct {
	Type    string        `json:"type"`
	Auth    wsAuthPayload `json:"auth"`
	Markets []string      `json:"markets"`
}

// wsOrderEvent is the user channel's "order" message shape.
type wsOrderEvent struct {
	EventType    string `json:"event_type"`
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Type         string `json:"type"`   // PLACEMENT | UPDATE | CANCELLATION
	Status       string `json:"status"` // LIVE | MATCHED | CANCELED
	Timestamp    string `json:"timestamp"`
}

// Feed manages the user-channel WebSocket connection: lifecycle,
// subscription tracking, message routing, and automatic reconnection.
type Feed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes
	auth   wsAuthPayload

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // condition IDs (markets)

	orderCh chan driver.Raw

	logger *slog.Logger
}

// NewFeed creates a user-channel feed subscribed to the given markets.
func NewFeed(wsURL string, signer *Signer, markets []string, logger *slog.Logger) *Feed {
	subscribed := make(map[string]bool, len(markets))
	for _, m := range markets {
		subscribed[m] = true
	}
	return &Feed{
		url: wsURL,
		auth: wsAuthPayload{
			APIKey:     signer.APIKey(),
			Secret:     signer.APISecret(),
			Passphrase: signer.Passphrase(),
		},
		subscribed: subscribed,
		orderCh:    make(chan driver.Raw, orderBufferSize),
		logger:     logger.With("component", "ws_user"),
	}
}

// Orders returns a read-only channel of normalized order lifecycle events.
func (f *Feed) Orders() <-chan driver.Raw { return f.orderCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) sendSubscription() error {
	f.subscribedMu.RLock()
	markets := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		markets = append(markets, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(wsSubscribeMsg{
		Type:    "user",
		Auth:    f.auth,
		Markets: markets,
	})
}

func (f *Feed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "order":
		var evt wsOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- orderEventToRaw(evt):
		default:
			f.logger.Warn("order channel full, dropping event", "id", evt.ID)
		}

	case "trade", "last_trade_price", "tick_size_change":
		// Fills surface through the order events' size_matched; no separate
		// handling needed.
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

// orderEventToRaw converts one user-channel order event to the untyped shape
// the exchange adaptor's order formatter consumes.
func orderEventToRaw(evt wsOrderEvent) driver.Raw {
	raw := driver.Raw{
		"id":     evt.ID,
		"symbol": evt.AssetID,
		"side":   wsSide(evt.Side),
		"price":  evt.Price,
		"amount": evt.OriginalSize,
		"filled": evt.SizeMatched,
		"status": wsStatus(evt),
	}
	if ms := parseMillis(evt.Timestamp); ms != 0 {
		raw["timestamp"] = ms
	}
	return raw
}

// wsStatus maps the CLOB's order states onto the gateway's three-state
// lifecycle. A CANCELLATION message wins over the carried status, since the
// server reports the pre-cancel status on some revisions.
func wsStatus(evt wsOrderEvent) string {
	if evt.Type == "CANCELLATION" {
		return "canceled"
	}
	switch evt.Status {
	case "MATCHED":
		return "closed"
	case "CANCELED":
		return "canceled"
	default:
		return "open"
	}
}

func wsSide(side string) string {
	switch side {
	case "BUY", "buy":
		return "buy"
	case "SELL", "sell":
		return "sell"
	default:
		return side
	}
}

func parseMillis(s string) int64 {
	var ms int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		ms = ms*10 + int64(c-'0')
	}
	return ms
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
