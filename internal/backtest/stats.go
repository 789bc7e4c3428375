package backtest

import (
	"math"
	"time"

	"klinelab/internal/domain"
)

// ComputeStats derives the statistics snapshot from the persisted trade set
// in its stored (ascending entry time) order. An empty set yields the
// all-zero snapshot with nil drawdown times; it never fails.
func ComputeStats(trades []domain.Trade) domain.Stats {
	var s domain.Stats
	if len(trades) == 0 {
		return s
	}

	var profits, losses, closed []float64
	for i := range trades {
		switch trades[i].Result {
		case domain.OutcomeTP:
			profits = append(profits, trades[i].ProfitRate)
			closed = append(closed, trades[i].ProfitRate)
		case domain.OutcomeSL:
			losses = append(losses, trades[i].ProfitRate)
			closed = append(closed, trades[i].ProfitRate)
		}
	}

	s.TPCount = len(profits)
	s.SLCount = len(losses)
	s.TotalCount = len(closed)
	if s.TotalCount > 0 {
		s.TPRate = float64(s.TPCount) * 100 / float64(s.TotalCount)
	}

	s.ProfitMean, s.ProfitStd, s.ProfitMin, s.ProfitMax = describe(profits)
	s.LossMean, s.LossStd, s.LossMin, s.LossMax = describe(losses)
	s.ProfitRateMean, s.ProfitRateStd, s.ProfitRateMin, s.ProfitRateMax = describe(closed)

	// SL means are already signed negative, so this is net expectancy.
	if s.TotalCount > 0 {
		s.Expectancy = (float64(s.TPCount)*s.ProfitMean + float64(s.SLCount)*s.LossMean) / float64(s.TotalCount)
	}

	s.MDD, s.LowTime, s.HighTime = maxDrawdown(trades)
	s.FinalProfitRate = trades[len(trades)-1].CumProfitRate
	return s
}

// describe returns mean, sample standard deviation, min and max. The std is
// 0 with fewer than two samples; everything is 0 for an empty slice.
func describe(xs []float64) (mean, std, min, max float64) {
	if len(xs) == 0 {
		return 0, 0, 0, 0
	}
	min, max = xs[0], xs[0]
	var sum float64
	for _, x := range xs {
		sum += x
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	mean = sum / float64(len(xs))

	if len(xs) >= 2 {
		var ss float64
		for _, x := range xs {
			d := x - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(len(xs)-1))
	}
	return mean, std, min, max
}

// maxDrawdown finds the deepest trough of the cumulative return series
// relative to its running maximum. The peak is the highest cumulative value
// reached at or before the trough, not the global maximum. The reported MDD
// is the percent change from peak equity to trough equity; a zero peak
// equity reports the -100% sentinel.
func maxDrawdown(trades []domain.Trade) (mdd float64, lowTime, highTime *time.Time) {
	runningMax := trades[0].CumProfitRate
	worst := 0.0
	lowIdx := 0
	for i := range trades {
		if trades[i].CumProfitRate > runningMax {
			runningMax = trades[i].CumProfitRate
		}
		if dd := trades[i].CumProfitRate - runningMax; dd < worst {
			worst = dd
			lowIdx = i
		}
	}

	highIdx := 0
	for i := 1; i <= lowIdx; i++ {
		if trades[i].CumProfitRate > trades[highIdx].CumProfitRate {
			highIdx = i
		}
	}

	lowEquity := trades[lowIdx].CumProfitRate*0.01 + 1
	highEquity := trades[highIdx].CumProfitRate*0.01 + 1
	if highEquity == 0 {
		mdd = -100.0
	} else {
		mdd = (lowEquity - highEquity) * 100 / highEquity
	}

	lt := trades[lowIdx].EntryTime
	ht := trades[highIdx].EntryTime
	return mdd, &lt, &ht
}
