package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// LiveConfig points the live venue adapter at a REST endpoint.
type LiveConfig struct {
	BaseURL   string        `json:"baseURL"`
	APIKey    string        `json:"apiKey"`
	KeyHeader string        `json:"keyHeader"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultLiveConfig returns the adapter baseline without credentials.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		KeyHeader: "X-API-KEY",
		Timeout:   5 * time.Second,
	}
}

func (c LiveConfig) withDefaults() LiveConfig {
	def := DefaultLiveConfig()
	if c.KeyHeader == "" {
		c.KeyHeader = def.KeyHeader
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Validate checks if the configuration is usable.
func (c LiveConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("invalid live config: BaseURL is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid live config: Timeout must be > 0")
	}
	return nil
}

// Live is a thin adapter over a generic REST venue. Quantities on the wire
// are quoted decimals.
type Live struct {
	cfg    LiveConfig
	client *http.Client
}

// NewLive creates the live venue adapter.
func NewLive(cfg LiveConfig) *Live {
	cfg = cfg.withDefaults()
	return &Live{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type venueBalance struct {
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
}

type venuePosition struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   decimal.Decimal `json:"leverage"`
	OpenedAt   time.Time       `json:"opened_at"`
}

type venueOrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Size       string `json:"size"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
}

type venueOrderResponse struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	FilledSize decimal.Decimal `json:"filled_size"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	Fee        decimal.Decimal `json:"fee"`
}

// Execute places a market order. Any transport or venue failure comes back
// as a failed Result.
func (l *Live) Execute(ctx context.Context, order Order) Result {
	start := time.Now()
	res := Result{
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		RequestedSize: order.Size,
		Mode:          ModeLive,
	}

	side := order.Side
	if order.Reduce {
		pos, err := l.findPosition(ctx, order.Symbol)
		if err != nil {
			res.Message = fmt.Sprintf("lookup position: %+v", err)
			res.ExecutedAt = time.Now().UTC()
			return res
		}
		if pos == nil {
			res.Success = true
			res.Message = "no open position for " + order.Symbol
			res.ExecutedAt = time.Now().UTC()
			return res
		}
		side = pos.Side.opposite()
		if order.Size <= 0 {
			order.Size = pos.Size
			res.RequestedSize = pos.Size
		}
	}

	req := venueOrderRequest{
		Symbol:     order.Symbol,
		Side:       string(side),
		Type:       "market",
		Size:       strconv.FormatFloat(order.Size, 'f', -1, 64),
		ReduceOnly: order.Reduce,
	}
	var resp venueOrderResponse
	if err := l.do(ctx, http.MethodPost, "/api/v1/orders", req, &resp); err != nil {
		logs.Errorf("live order %s %s failed, err: %+v", side, order.Symbol, err)
		res.Message = fmt.Sprintf("venue order: %+v", err)
		res.ExecutedAt = time.Now().UTC()
		return res
	}

	res.Side = side
	res.OrderID = resp.OrderID
	res.FilledSize = decimalFloat(resp.FilledSize)
	res.FillPrice = decimalFloat(resp.FillPrice)
	res.Fee = decimalFloat(resp.Fee)
	res.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	res.ExecutedAt = time.Now().UTC()
	res.Success = resp.Status == "filled"
	if !res.Success {
		res.Message = "venue status " + resp.Status
		return res
	}
	if order.Price > 0 && res.FillPrice > 0 {
		res.SlippageBps = (res.FillPrice - order.Price) / order.Price * 10_000
		if side == SideSell {
			res.SlippageBps = -res.SlippageBps
		}
	}
	return res
}

// Positions fetches open positions from the venue.
func (l *Live) Positions(ctx context.Context) ([]Position, error) {
	var raw []venuePosition
	if err := l.do(ctx, http.MethodGet, "/api/v1/positions", nil, &raw); err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}
	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, Position{
			Symbol:     p.Symbol,
			Side:       Side(p.Side),
			Size:       decimalFloat(p.Size),
			EntryPrice: decimalFloat(p.EntryPrice),
			Leverage:   decimalFloat(p.Leverage),
			OpenedAt:   p.OpenedAt,
		})
	}
	return out, nil
}

// Balance fetches the available account balance.
func (l *Live) Balance(ctx context.Context) (float64, error) {
	var raw venueBalance
	if err := l.do(ctx, http.MethodGet, "/api/v1/balance", nil, &raw); err != nil {
		return 0, errors.Wrap(err, "fetch balance")
	}
	return decimalFloat(raw.Available), nil
}

func (l *Live) findPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := l.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func (l *Live) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.cfg.BaseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.APIKey != "" {
		req.Header.Set(l.cfg.KeyHeader, l.cfg.APIKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.New(fmt.Sprintf("venue returned %d: %s", resp.StatusCode, payload))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// decimalFloat converts a wire decimal to float64 for internal math.
func decimalFloat(d decimal.Decimal) float64 {
	v, err := strconv.ParseFloat(fmt.Sprint(d), 64)
	if err != nil {
		return 0
	}
	return v
}
