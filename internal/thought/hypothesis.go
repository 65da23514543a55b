package thought

import (
	"math"

	"main/internal/marketctx"
)

// Price offsets applied to candidate decisions. Stops and targets are set
// as fixed fractions of entry; the arbiter later picks the most
// conservative across agreeing thoughts.
const (
	stopOffsetPct   = 0.01
	targetOffsetPct = 0.02
	maxConfidence   = 0.95
)

// hypothesize derives the candidate decision for a spec from the context
// set. Pure function of its inputs; replay relies on that.
func hypothesize(spec Spec, set marketctx.Set) Decision {
	if set.Orderflow.LastPrice <= 0 {
		return Decision{Signal: SignalHold, Confidence: 0.1, Reason: "no market data for " + spec.Symbol}
	}
	switch spec.Name {
	case NameTrendFollowing:
		return trendFollowing(set)
	case NameMeanReversion:
		return meanReversion(set)
	case NameMomentum:
		return momentum(set)
	default:
		return Decision{Signal: SignalHold, Confidence: 0.2, Reason: "unknown hypothesis " + spec.Name}
	}
}

func trendFollowing(set marketctx.Set) Decision {
	var signal Signal
	switch set.Regime.Regime {
	case marketctx.RegimeTrendingUp:
		signal = SignalLong
	case marketctx.RegimeTrendingDown:
		signal = SignalShort
	default:
		return Decision{Signal: SignalHold, Confidence: 0.3, Reason: "no trend in regime " + set.Regime.Regime}
	}

	conf := 0.55
	if agrees(set.Orderflow.Delta, signal) {
		conf += 0.15
	}
	if set.Performance.WinRate > 0.5 {
		conf += 0.1
	}
	if set.Regime.VolatilityPercentile < 0.8 {
		conf += 0.05
	}
	return directional(signal, conf, set.Orderflow.LastPrice, "regime "+set.Regime.Regime+" with orderflow agreement")
}

func meanReversion(set marketctx.Set) Decision {
	if set.Regime.Regime != marketctx.RegimeRanging {
		return Decision{Signal: SignalHold, Confidence: 0.25, Reason: "mean reversion needs a range, regime is " + set.Regime.Regime}
	}

	var signal Signal
	switch {
	case set.Regime.PriceChangePct <= -0.05:
		signal = SignalLong
	case set.Regime.PriceChangePct >= 0.05:
		signal = SignalShort
	default:
		return Decision{Signal: SignalHold, Confidence: 0.3, Reason: "no extension to fade"}
	}

	conf := 0.5 + math.Min(0.2, math.Abs(set.Regime.PriceChangePct)*0.5)
	// fading into a whale push is a losing habit
	if !agrees(set.Orderflow.Delta, signal) && whaleDominant(set.Orderflow) {
		conf -= 0.15
	}
	if set.Performance.WinRate > 0.5 {
		conf += 0.1
	}
	return directional(signal, conf, set.Orderflow.LastPrice, "fading extension inside range")
}

func momentum(set marketctx.Set) Decision {
	flow := set.Orderflow
	scale := flow.WhaleBuyVolume + flow.WhaleSellVolume + math.Abs(flow.Delta)
	if scale <= 0 {
		return Decision{Signal: SignalHold, Confidence: 0.2, Reason: "no orderflow to follow"}
	}

	imbalance := flow.Delta / scale
	var signal Signal
	switch {
	case imbalance > 0.2:
		signal = SignalLong
	case imbalance < -0.2:
		signal = SignalShort
	default:
		return Decision{Signal: SignalHold, Confidence: 0.3, Reason: "orderflow balanced"}
	}

	conf := 0.5 + math.Min(0.3, math.Abs(imbalance)*0.4)
	if set.Regime.Regime == marketctx.RegimeVolatile {
		conf -= 0.1
	}
	if signal == SignalLong && flow.OpenInterestChange > 0 || signal == SignalShort && flow.OpenInterestChange < 0 {
		conf += 0.05
	}
	return directional(signal, conf, flow.LastPrice, "orderflow imbalance continuation")
}

func directional(signal Signal, conf, price float64, reason string) Decision {
	conf = math.Min(maxConfidence, math.Max(0, conf))
	d := Decision{Signal: signal, Confidence: conf, Entry: price, Reason: reason}
	if signal == SignalLong {
		d.StopLoss = price * (1 - stopOffsetPct)
		d.TakeProfit = price * (1 + targetOffsetPct)
	} else {
		d.StopLoss = price * (1 + stopOffsetPct)
		d.TakeProfit = price * (1 - targetOffsetPct)
	}
	return d
}

func agrees(delta float64, signal Signal) bool {
	return signal == SignalLong && delta > 0 || signal == SignalShort && delta < 0
}

func whaleDominant(flow marketctx.OrderflowContext) bool {
	total := flow.WhaleBuyVolume + flow.WhaleSellVolume
	return total > 0 && total >= math.Abs(flow.Delta)
}
