// Package types defines the shared wire and domain vocabulary of the
// gateway — order books, balances, orders, and the Event envelope exchanged
// with the core. It has no dependency on any other internal package so it
// can be imported from every layer.
package types

import "github.com/shopspring/decimal"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderKind distinguishes limit from market orders.
type OrderKind string

const (
	Limit  OrderKind = "limit"
	Market OrderKind = "market"
)

// OrderStatus is the externally-observed lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
)

// EventType classifies an Event on the wire.
type EventType string

const (
	EventCommand EventType = "command"
	EventData    EventType = "data"
	EventError   EventType = "error"
)

// EventNode identifies which side of the bus produced an Event.
type EventNode string

const (
	NodeCore EventNode = "core"
	NodeGate EventNode = "gate"
)

// Action enumerates every inbound command and outbound data/error action.
type Action string

const (
	ActionCreateOrders    Action = "create_orders"
	ActionCancelOrders    Action = "cancel_orders"
	ActionCancelAllOrders Action = "cancel_all_orders"
	ActionGetOrders       Action = "get_orders"
	ActionGetBalance      Action = "get_balance"

	ActionOrderBookUpdate Action = "order_book_update"
	ActionBalanceUpdate   Action = "balance_update"
	ActionOrdersUpdate    Action = "orders_update"
	ActionPing            Action = "ping"
	ActionMetrics         Action = "metrics"
)

// Destination is a logical output channel the transport adaptor routes by tag.
type Destination string

const (
	DestOrderBooks Destination = "orderbooks"
	DestBalances   Destination = "balances"
	DestCore       Destination = "core"
	DestLogs       Destination = "logs"
)

// ————————————————————————————————————————————————————————————————————————
// Data model
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is one [price, amount] pair in an order book.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook is produced only; never mutated after emission.
type OrderBook struct {
	Symbol      string       `json:"symbol"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	TimestampUs *int64       `json:"timestamp_us"`
}

// AssetBalance is one asset's free/used/total breakdown.
type AssetBalance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// Balance maps asset code to its breakdown. Assets absent upstream default
// to the zero AssetBalance.
type Balance struct {
	Assets      map[string]AssetBalance `json:"assets"`
	TimestampUs *int64                  `json:"timestamp_us"`
}

// Order is the gateway's normalized view of one exchange order.
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Type          OrderKind       `json:"type"`
	Side          OrderSide       `json:"side"`
	Price         *decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Filled        decimal.Decimal `json:"filled"`
	Status        OrderStatus     `json:"status"`
	TimestampUs   *int64          `json:"timestamp_us"`
	Info          any             `json:"info"`
}

// FetchOrderParams identifies an order by exchange id or client order id.
type FetchOrderParams struct {
	ID            string `json:"id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Symbol        string `json:"symbol"`
}

// CreateOrderParams describes a new order to place.
type CreateOrderParams struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Type          OrderKind       `json:"type"`
	Side          OrderSide       `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
}

// ————————————————————————————————————————————————————————————————————————
// Event envelope
// ————————————————————————————————————————————————————————————————————————

// Event is the wire record exchanged with the core over the transport bus.
// Data is schemaless; it is decoded lazily per action by the scheduler
// rather than carrying a fixed Go type.
type Event struct {
	EventID     string    `json:"event_id,omitempty"`
	Event       EventType `json:"event"`
	Exchange    string    `json:"exchange,omitempty"`
	Node        EventNode `json:"node,omitempty"`
	Instance    string    `json:"instance,omitempty"`
	Algo        string    `json:"algo,omitempty"`
	Action      Action    `json:"action,omitempty"`
	Message     *string   `json:"message"`
	TimestampUs int64     `json:"timestamp_us"`
	Data        any       `json:"data"`
}

// LatencyPercentile holds the four percentile keys the metrics action emits.
type LatencyPercentile struct {
	P50    float64 `json:"50"`
	P90    float64 `json:"90"`
	P99    float64 `json:"99"`
	P9999  float64 `json:"99.99"`
}

// PublicAPIMetrics carries order-book latency/rps stats.
type PublicAPIMetrics struct {
	Orderbook struct {
		LatencyPercentile LatencyPercentile `json:"latency_percentile"`
		RPS               float64           `json:"rps"`
	} `json:"orderbook"`
}

// PrivateAPIMetrics carries the private pool's aggregate request rate.
type PrivateAPIMetrics struct {
	TotalRPS float64 `json:"total_rps"`
}

// Metrics is the data payload of the periodic "metrics" event.
type Metrics struct {
	PublicAPI  PublicAPIMetrics  `json:"public_api"`
	PrivateAPI PrivateAPIMetrics `json:"private_api"`
}
