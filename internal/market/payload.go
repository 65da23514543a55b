package market

import (
	"encoding/json"
	"strconv"
	"time"

	"main/internal/bus"
)

// tickerFromPayload decodes a market.tick envelope; missing fields stay zero.
func tickerFromPayload(e bus.Event) Ticker {
	return Ticker{
		Symbol:    asString(e.Payload["symbol"]),
		Price:     asFloat(e.Payload["price"]),
		Bid:       asFloat(e.Payload["bid"]),
		Ask:       asFloat(e.Payload["ask"]),
		Volume24h: asFloat(e.Payload["volume_24h"]),
		Timestamp: asTime(e.Payload["timestamp"], e.Timestamp),
	}
}

// tradeFromPayload decodes a market.trade envelope; missing fields stay zero.
func tradeFromPayload(e bus.Event) Trade {
	return Trade{
		Symbol:    asString(e.Payload["symbol"]),
		Price:     asFloat(e.Payload["price"]),
		Quantity:  asFloat(e.Payload["quantity"]),
		Side:      asString(e.Payload["side"]),
		Timestamp: asTime(e.Payload["timestamp"], e.Timestamp),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func asTime(v any, fallback time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return fallback
}
