package thought

import (
	"fmt"
	"math"

	"main/internal/marketctx"
)

// FilterConfig holds the gating thresholds for the three filter stages.
type FilterConfig struct {
	// orderflow stage
	AdverseDeltaUSD   float64
	WhaleDominance    float64
	ExtremeFundingAbs float64
	// regime stage
	ExtremeVolPercentile float64
	// performance stage
	MinCalibration  float64
	MinWinRate      float64
	MinSampleTrades int
	MaxRiskBreaches int
	HighSlippageBps float64
}

// DefaultFilterConfig returns baseline filter thresholds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		AdverseDeltaUSD:      250_000,
		WhaleDominance:       2.0,
		ExtremeFundingAbs:    0.001,
		ExtremeVolPercentile: 0.9,
		MinCalibration:       0.3,
		MinWinRate:           0.25,
		MinSampleTrades:      10,
		MaxRiskBreaches:      3,
		HighSlippageBps:      20,
	}
}

func (c FilterConfig) withDefaults() FilterConfig {
	def := DefaultFilterConfig()
	if c.AdverseDeltaUSD == 0 {
		c.AdverseDeltaUSD = def.AdverseDeltaUSD
	}
	if c.WhaleDominance == 0 {
		c.WhaleDominance = def.WhaleDominance
	}
	if c.ExtremeFundingAbs == 0 {
		c.ExtremeFundingAbs = def.ExtremeFundingAbs
	}
	if c.ExtremeVolPercentile == 0 {
		c.ExtremeVolPercentile = def.ExtremeVolPercentile
	}
	if c.MinCalibration == 0 {
		c.MinCalibration = def.MinCalibration
	}
	if c.MinWinRate == 0 {
		c.MinWinRate = def.MinWinRate
	}
	if c.MinSampleTrades == 0 {
		c.MinSampleTrades = def.MinSampleTrades
	}
	if c.MaxRiskBreaches == 0 {
		c.MaxRiskBreaches = def.MaxRiskBreaches
	}
	if c.HighSlippageBps == 0 {
		c.HighSlippageBps = def.HighSlippageBps
	}
	return c
}

// runFilter executes one tagged filter stage against the candidate decision.
func runFilter(kind FilterKind, cfg FilterConfig, set marketctx.Set, candidate Decision) FilterResult {
	switch kind {
	case FilterOrderflow:
		return filterOrderflow(cfg, set.Orderflow, candidate)
	case FilterRegime:
		return filterRegime(cfg, set.Regime, candidate)
	case FilterPerformance:
		return filterPerformance(cfg, set.Performance)
	default:
		return FilterResult{Kind: kind, Verdict: VerdictBlock, Reason: "unknown filter kind"}
	}
}

// filterOrderflow blocks a directional candidate facing strongly adverse
// delta or dominant whale pressure; extreme funding only warns.
func filterOrderflow(cfg FilterConfig, flow marketctx.OrderflowContext, candidate Decision) FilterResult {
	res := FilterResult{Kind: FilterOrderflow, Verdict: VerdictPass, Reason: "orderflow acceptable"}
	if candidate.Signal != SignalLong && candidate.Signal != SignalShort {
		return res
	}

	adverse := candidate.Signal == SignalLong && flow.Delta <= -cfg.AdverseDeltaUSD ||
		candidate.Signal == SignalShort && flow.Delta >= cfg.AdverseDeltaUSD
	if adverse {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("adverse delta %.0f against %s", flow.Delta, candidate.Signal)
		return res
	}

	if candidate.Signal == SignalLong && flow.WhaleSellVolume > 0 &&
		flow.WhaleSellVolume >= cfg.WhaleDominance*math.Max(flow.WhaleBuyVolume, 1) {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("whale sell pressure %.0f dominates", flow.WhaleSellVolume)
		return res
	}
	if candidate.Signal == SignalShort && flow.WhaleBuyVolume > 0 &&
		flow.WhaleBuyVolume >= cfg.WhaleDominance*math.Max(flow.WhaleSellVolume, 1) {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("whale buy pressure %.0f dominates", flow.WhaleBuyVolume)
		return res
	}

	if math.Abs(flow.FundingRate) >= cfg.ExtremeFundingAbs {
		res.Verdict = VerdictWarn
		res.Reason = fmt.Sprintf("extreme funding rate %.5f", flow.FundingRate)
	}
	return res
}

// filterRegime blocks on extreme volatility and warns on a regime mismatch
// with the candidate direction.
func filterRegime(cfg FilterConfig, regime marketctx.RegimeContext, candidate Decision) FilterResult {
	res := FilterResult{Kind: FilterRegime, Verdict: VerdictPass, Reason: "regime acceptable"}
	if candidate.Signal != SignalLong && candidate.Signal != SignalShort {
		return res
	}

	if regime.Regime == marketctx.RegimeVolatile && regime.VolatilityPercentile >= cfg.ExtremeVolPercentile {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("extreme volatility, percentile %.2f", regime.VolatilityPercentile)
		return res
	}

	mismatch := candidate.Signal == SignalLong && regime.Regime == marketctx.RegimeTrendingDown ||
		candidate.Signal == SignalShort && regime.Regime == marketctx.RegimeTrendingUp
	if mismatch {
		res.Verdict = VerdictWarn
		res.Reason = fmt.Sprintf("%s candidate against %s regime", candidate.Signal, regime.Regime)
	}
	return res
}

// filterPerformance blocks when recent history disqualifies the strategy.
func filterPerformance(cfg FilterConfig, perf marketctx.PerformanceContext) FilterResult {
	res := FilterResult{Kind: FilterPerformance, Verdict: VerdictPass, Reason: "performance acceptable"}

	if perf.CalibrationScore < cfg.MinCalibration {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("calibration %.2f below floor %.2f", perf.CalibrationScore, cfg.MinCalibration)
		return res
	}
	if perf.TradeCount >= cfg.MinSampleTrades && perf.WinRate < cfg.MinWinRate {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("win rate %.2f over %d trades below floor", perf.WinRate, perf.TradeCount)
		return res
	}
	if perf.RiskBreaches > cfg.MaxRiskBreaches {
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("%d recent risk breaches", perf.RiskBreaches)
		return res
	}

	if perf.AvgSlippageBps >= cfg.HighSlippageBps {
		res.Verdict = VerdictWarn
		res.Reason = fmt.Sprintf("average slippage %.1f bps", perf.AvgSlippageBps)
	}
	return res
}
