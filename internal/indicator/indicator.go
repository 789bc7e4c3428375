// Package indicator enriches bar series with the technical indicator
// columns the condition vocabulary exposes. Indicators are computed at
// ingest time; the backtest engine only reads them.
package indicator

import (
	talib "github.com/markcheno/go-talib"

	"klinelab/internal/domain"
)

// Periods for the computed indicator set. They match the column names:
// ema_7/ema_25/ema_99, volume_ma_20, Bollinger over 20 bars at 2 standard
// deviations, MACD 12/26/9, RSI 14 with a 9-bar SMA signal line.
const (
	rsiPeriod       = 14
	rsiSignalPeriod = 9
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollPeriod      = 20
	bollDev         = 2.0
	volumeMAPeriod  = 20
)

var emaPeriods = map[string]int{"ema_7": 7, "ema_25": 25, "ema_99": 99}

// Enrich computes every indicator column over the series in place. Bars
// inside an indicator's warmup window keep that column absent. The series
// must be in ascending timestamp order.
func Enrich(bars []domain.Bar) {
	n := len(bars)
	if n == 0 {
		return
	}

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i := range bars {
		closes[i] = bars[i].Close
		volumes[i] = bars[i].Volume
	}

	for name, period := range emaPeriods {
		if n >= period {
			assign(bars, name, talib.Ema(closes, period), period-1)
		}
	}

	if n > rsiPeriod {
		rsi := talib.Rsi(closes, rsiPeriod)
		assign(bars, "rsi", rsi, rsiPeriod)
		if n > rsiPeriod+rsiSignalPeriod-1 {
			// Signal line: SMA of RSI. The SMA sees warmup zeros, so the
			// valid region starts after both warmups.
			assign(bars, "rsi_signal", talib.Sma(rsi, rsiSignalPeriod), rsiPeriod+rsiSignalPeriod-1)
		}
	}

	if n >= macdSlow+macdSignal-1 {
		macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		assign(bars, "macd", macd, macdSlow-1)
		assign(bars, "macd_signal", signal, macdSlow+macdSignal-2)
	}

	if n >= bollPeriod {
		upper, middle, lower := talib.BBands(closes, bollPeriod, bollDev, bollDev, talib.SMA)
		assign(bars, "boll_upper", upper, bollPeriod-1)
		assign(bars, "boll_ma", middle, bollPeriod-1)
		assign(bars, "boll_lower", lower, bollPeriod-1)
	}

	if n >= volumeMAPeriod {
		assign(bars, "volume_ma_20", talib.Sma(volumes, volumeMAPeriod), volumeMAPeriod-1)
	}
}

// assign copies values[i] into the named column for every bar from the first
// valid index onward.
func assign(bars []domain.Bar, name string, values []float64, firstValid int) {
	for i := firstValid; i < len(bars); i++ {
		bars[i].SetIndicator(name, values[i])
	}
}
