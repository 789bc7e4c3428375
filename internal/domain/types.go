// Package domain defines the core types shared across the klinelab
// platform: OHLCV bars with indicator columns, simulated trades, saved
// strategies, and the statistics snapshot served to dashboards.
package domain

import "time"

// Market series recognised by default. Both lists can be overridden in
// configuration.
var (
	DefaultSymbols   = []string{"BTC", "ETH"}
	DefaultIntervals = []string{"1h", "4h"}
)

// BaseFields are the OHLCV column names every bar carries.
var BaseFields = []string{"open", "high", "low", "close", "volume"}

// IndicatorFields is the fixed indicator vocabulary. Condition expressions
// and column selections may only reference names from this list plus
// BaseFields. Order matters nowhere; membership does.
var IndicatorFields = []string{
	"rsi",
	"rsi_signal",
	"ema_7",
	"ema_25",
	"ema_99",
	"macd",
	"macd_signal",
	"boll_ma",
	"boll_upper",
	"boll_lower",
	"volume_ma_20",
}

// Bar is one row of a per-(symbol, interval) time series. Indicator values
// are pointers because they are absent during warmup periods (and for any
// series ingested without enrichment).
type Bar struct {
	Symbol    string
	Interval  string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	RSI        *float64
	RSISignal  *float64
	EMA7       *float64
	EMA25      *float64
	EMA99      *float64
	MACD       *float64
	MACDSignal *float64
	BollMA     *float64
	BollUpper  *float64
	BollLower  *float64
	VolumeMA20 *float64
}

// Field returns the named column value. The second return is false when the
// name is an indicator whose value is absent on this bar. Unknown names
// return (0, false); callers validate names against the vocabulary first.
func (b *Bar) Field(name string) (float64, bool) {
	switch name {
	case "open":
		return b.Open, true
	case "high":
		return b.High, true
	case "low":
		return b.Low, true
	case "close":
		return b.Close, true
	case "volume":
		return b.Volume, true
	}
	p := b.indicator(name)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// SetIndicator stores an indicator value by column name. Unknown names are
// ignored.
func (b *Bar) SetIndicator(name string, v float64) {
	if p := b.indicator(name); p != nil {
		val := v
		*p = &val
	}
}

func (b *Bar) indicator(name string) **float64 {
	switch name {
	case "rsi":
		return &b.RSI
	case "rsi_signal":
		return &b.RSISignal
	case "ema_7":
		return &b.EMA7
	case "ema_25":
		return &b.EMA25
	case "ema_99":
		return &b.EMA99
	case "macd":
		return &b.MACD
	case "macd_signal":
		return &b.MACDSignal
	case "boll_ma":
		return &b.BollMA
	case "boll_upper":
		return &b.BollUpper
	case "boll_lower":
		return &b.BollLower
	case "volume_ma_20":
		return &b.VolumeMA20
	}
	return nil
}

// Outcome labels how a simulated trade resolved.
type Outcome string

const (
	OutcomeTP      Outcome = "TP"
	OutcomeSL      Outcome = "SL"
	OutcomeOpen    Outcome = "OPEN"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// Trade is the outcome of pairing one entry bar with its first-touch exit
// bar (or none). ExitTime is nil exactly when Result is OutcomeOpen.
// ProfitRate and CumProfitRate are percentages; CumProfitRate compounds all
// trades up to and including this one in ascending entry-time order.
type Trade struct {
	EntryTime     time.Time
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	ExitTime      *time.Time
	Result        Outcome
	Symbol        string
	Interval      string
	Strategy      string
	Indicators    string // used-indicator names, sorted and " and "-joined
	ProfitRate    float64
	CumProfitRate float64
}

// Strategy is a saved backtest request.
type Strategy struct {
	ID         int64
	Symbol     string
	Interval   string
	Expression string
	RiskReward float64
	StartTime  *time.Time
	EndTime    *time.Time
	CreatedAt  time.Time
}

// Stats is the statistics snapshot derived on demand from the persisted
// trade set. All values are zero and the times nil when the set is empty.
type Stats struct {
	TotalCount int
	TPCount    int
	SLCount    int
	TPRate     float64

	ProfitMean float64
	ProfitStd  float64
	ProfitMin  float64
	ProfitMax  float64

	LossMean float64
	LossStd  float64
	LossMin  float64
	LossMax  float64

	ProfitRateMean float64
	ProfitRateStd  float64
	ProfitRateMin  float64
	ProfitRateMax  float64

	Expectancy float64

	MDD      float64
	LowTime  *time.Time
	HighTime *time.Time

	FinalProfitRate float64
}
