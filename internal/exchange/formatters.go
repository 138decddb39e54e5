package exchange

import (
	"github.com/shopspring/decimal"

	"gate/internal/driver"
	"gate/pkg/types"
)

// formatOrderBook formats a raw order book structure into the normalized
// data model. Only symbol, bids, asks and timestamp are carried; unknown
// keys are dropped. Upstream millisecond timestamps are converted to
// microseconds.
func formatOrderBook(raw driver.Raw, symbol string) *types.OrderBook {
	return &types.OrderBook{
		Symbol:      symbol,
		Bids:        levelsOf(raw["bids"]),
		Asks:        levelsOf(raw["asks"]),
		TimestampUs: timestampUs(raw),
	}
}

func levelsOf(v any) []types.PriceLevel {
	rows, ok := v.([]any)
	if !ok {
		return nil
	}
	levels := make([]types.PriceLevel, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		levels = append(levels, types.PriceLevel{
			Price:  decimalOf(pair[0]),
			Amount: decimalOf(pair[1]),
		})
	}
	return levels
}

// formatPartialBalance formats a raw balance restricted to assets; assets
// absent upstream default to {0,0,0}.
func formatPartialBalance(raw driver.Raw, assets []string) *types.Balance {
	out := make(map[string]types.AssetBalance, len(assets))
	for _, asset := range assets {
		entry, ok := raw[asset].(map[string]any)
		if !ok {
			out[asset] = types.AssetBalance{}
			continue
		}
		out[asset] = types.AssetBalance{
			Free:  decimalOf(entry["free"]),
			Used:  decimalOf(entry["used"]),
			Total: decimalOf(entry["total"]),
		}
	}
	return &types.Balance{Assets: out, TimestampUs: timestampUs(raw)}
}

// formatOrder formats a raw order structure. Market orders are rewritten to
// status=closed/filled=amount regardless of what the exchange reports. If
// the exchange reports price=null, the order is treated as closed — an
// exchange-specific heuristic.
func formatOrder(raw driver.Raw) *types.Order {
	order := &types.Order{
		ID:            stringOf(raw["id"]),
		ClientOrderID: stringOf(firstNonNil(raw["clientOrderId"], raw["client_order_id"])),
		Symbol:        stringOf(raw["symbol"]),
		Type:          types.OrderKind(stringOf(raw["type"])),
		Side:          types.OrderSide(stringOf(raw["side"])),
		Amount:        decimalOf(raw["amount"]),
		Filled:        decimalOf(raw["filled"]),
		Status:        types.OrderStatus(stringOf(raw["status"])),
		TimestampUs:   timestampUs(raw),
		Info:          raw["info"],
	}

	if price, ok := raw["price"]; ok && price != nil {
		p := decimalOf(price)
		order.Price = &p
	} else {
		order.Status = types.StatusClosed
	}

	if order.Type == types.Market {
		order.Status = types.StatusClosed
		order.Filled = order.Amount
	}

	return order
}

func idOf(raw driver.Raw) string {
	return stringOf(raw["id"])
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonNil(vs ...any) any {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

// timestampUs converts an upstream millisecond "timestamp" field to
// microseconds (upstream milliseconds × 1000); nil if absent.
func timestampUs(raw driver.Raw) *int64 {
	v, ok := raw["timestamp"]
	if !ok || v == nil {
		return nil
	}
	ms := int64Of(v)
	us := ms * 1000
	return &us
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func decimalOf(v any) decimal.Decimal {
	switch n := v.(type) {
	case decimal.Decimal:
		return n
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
