package backtest

import "klinelab/internal/domain"

// Barriers holds the stop and take levels derived from a single entry bar.
type Barriers struct {
	StopLoss   float64
	TakeProfit float64
}

// BarriersFor derives the barrier pair for an entry bar: the stop sits at
// the entry low, the take at close + (close-low) * ratio.
func BarriersFor(entry *domain.Bar, riskReward float64) Barriers {
	return Barriers{
		StopLoss:   entry.Low,
		TakeProfit: entry.Close + (entry.Close-entry.Low)*riskReward,
	}
}

// scanForward finds the first bar strictly after entryIdx whose range
// touches either barrier and returns its index. The scan stops at the first
// qualifying bar; -1 means no later bar touches either level and the trade
// stays open.
//
// Each entry is scanned independently: entries overlap in time and carry
// distinct barrier pairs, so a single global pass cannot replace this.
func scanForward(bars []domain.Bar, entryIdx int, b Barriers) int {
	for i := entryIdx + 1; i < len(bars); i++ {
		if bars[i].Low <= b.StopLoss || bars[i].High >= b.TakeProfit {
			return i
		}
	}
	return -1
}
