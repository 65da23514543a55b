// Package marketctx derives the three per-symbol context snapshots consumed
// by thought evaluation: orderflow/microstructure, regime/volatility, and
// strategy performance history. Snapshots are immutable once built and hash
// deterministically for replay verification.
package marketctx

import (
	"time"

	"main/pkg/canon"
)

// Kind tags the three context families.
type Kind string

const (
	KindOrderflow   Kind = "orderflow"
	KindRegime      Kind = "regime"
	KindPerformance Kind = "performance"
)

// Regime labels for the market state classification.
const (
	RegimeTrendingUp   = "trending_up"
	RegimeTrendingDown = "trending_down"
	RegimeRanging      = "ranging"
	RegimeVolatile     = "volatile"
	RegimeUnknown      = "unknown"
)

// OrderflowContext captures microstructure pressure for one symbol.
type OrderflowContext struct {
	Symbol              string    `json:"symbol"`
	Timestamp           time.Time `json:"timestamp"`
	LookbackSec         int       `json:"lookback_sec"`
	Delta               float64   `json:"delta"`
	CVD                 float64   `json:"cvd"`
	WhaleBuyVolume      float64   `json:"whale_buy_volume"`
	WhaleSellVolume     float64   `json:"whale_sell_volume"`
	LiquidationLongVol  float64   `json:"liquidation_long_vol"`
	LiquidationShortVol float64   `json:"liquidation_short_vol"`
	FundingRate         float64   `json:"funding_rate"`
	OpenInterestChange  float64   `json:"open_interest_change"`
	LastPrice           float64   `json:"last_price"`
	TradeCount          int       `json:"trade_count"`
}

// Hash returns the deterministic content hash of the snapshot.
func (c OrderflowContext) Hash() (string, error) { return canon.Hash(c) }

// RegimeContext classifies the market state and volatility environment.
type RegimeContext struct {
	Symbol               string    `json:"symbol"`
	Timestamp            time.Time `json:"timestamp"`
	LookbackSec          int       `json:"lookback_sec"`
	Regime               string    `json:"regime"`
	VolatilityPercentile float64   `json:"volatility_percentile"`
	BTCCorrelation       float64   `json:"btc_correlation"`
	Drawdown             float64   `json:"drawdown"`
	PriceChangePct       float64   `json:"price_change_pct"`
}

// Hash returns the deterministic content hash of the snapshot.
func (c RegimeContext) Hash() (string, error) { return canon.Hash(c) }

// PerformanceContext summarizes recent strategy results for one symbol.
type PerformanceContext struct {
	Symbol           string    `json:"symbol"`
	Timestamp        time.Time `json:"timestamp"`
	LookbackSec      int       `json:"lookback_sec"`
	TradeCount       int       `json:"trade_count"`
	WinRate          float64   `json:"win_rate"`
	TotalPnL         float64   `json:"total_pnl"`
	AvgSlippageBps   float64   `json:"avg_slippage_bps"`
	AvgLatencyMS     float64   `json:"avg_latency_ms"`
	RiskBreaches     int       `json:"risk_breaches"`
	CalibrationScore float64   `json:"calibration_score"`
	MaxDrawdown      float64   `json:"max_drawdown"`
}

// Hash returns the deterministic content hash of the snapshot.
func (c PerformanceContext) Hash() (string, error) { return canon.Hash(c) }

// Set bundles the three snapshots built for one cycle.
type Set struct {
	Orderflow   OrderflowContext   `json:"orderflow"`
	Regime      RegimeContext      `json:"regime"`
	Performance PerformanceContext `json:"performance"`
}
