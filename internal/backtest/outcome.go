package backtest

import "klinelab/internal/domain"

// composeTrade labels one (entry, exit-or-none) pair and prices it. exit is
// nil when no later bar touched a barrier.
//
// On the exit bar the stop is checked before the take: a bar whose range
// spans both barriers resolves as SL, modelling worst-case fill inside the
// bar. OutcomeUnknown can only appear if the exit bar satisfies neither
// check, which the scanner's search condition rules out.
func composeTrade(entry *domain.Bar, exit *domain.Bar, b Barriers, expr, indicators string) domain.Trade {
	tr := domain.Trade{
		EntryTime:  entry.Timestamp,
		EntryPrice: entry.Close,
		StopLoss:   b.StopLoss,
		TakeProfit: b.TakeProfit,
		Symbol:     entry.Symbol,
		Interval:   entry.Interval,
		Strategy:   expr,
		Indicators: indicators,
	}

	if exit == nil {
		tr.Result = domain.OutcomeOpen
		return tr
	}

	t := exit.Timestamp
	tr.ExitTime = &t
	switch {
	case exit.Low <= b.StopLoss:
		tr.Result = domain.OutcomeSL
	case exit.High >= b.TakeProfit:
		tr.Result = domain.OutcomeTP
	default:
		tr.Result = domain.OutcomeUnknown
	}

	tr.ProfitRate = profitRate(tr.Result, entry.Close, b)
	return tr
}

// profitRate returns the signed per-trade return in percent. Open and
// unknown trades are flat; a zero entry price yields 0 rather than dividing
// by zero.
func profitRate(result domain.Outcome, entryPrice float64, b Barriers) float64 {
	if entryPrice == 0 {
		return 0
	}
	switch result {
	case domain.OutcomeTP:
		return (b.TakeProfit - entryPrice) / entryPrice * 100
	case domain.OutcomeSL:
		return (b.StopLoss - entryPrice) / entryPrice * 100
	}
	return 0
}

// applyCumulative fills CumProfitRate over trades already sorted by ascending
// entry time: cum[i] = (prod_{j<=i}(1 + rate[j]/100) - 1) * 100. Compounding
// is multiplicative, so -10% then +10% lands at -1%, not break-even.
func applyCumulative(trades []domain.Trade) {
	cum := 1.0
	for i := range trades {
		cum *= 1 + trades[i].ProfitRate/100
		trades[i].CumProfitRate = (cum - 1) * 100
	}
}
