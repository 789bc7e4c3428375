// Package httpapi provides the REST API consumed by the charting frontend
// and dashboards: bar series queries, backtest invocation, persisted trade
// listings, and the statistics snapshot.
package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"klinelab/internal/domain"
)

// FloatParam accepts a JSON number or a numeric string. The strategy builder
// frontend submits the risk/reward ratio from a text input, so "2.0" and 2.0
// both have to work.
type FloatParam float64

func (f *FloatParam) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", data)
	}
	*f = FloatParam(v)
	return nil
}

// BacktestRequest is the POST /backtest payload. The time bounds are
// optional; when present they must use the "2006-01-02 15:04:05" layout and
// are interpreted as UTC.
type BacktestRequest struct {
	Symbol     string     `json:"symbol"`
	Interval   string     `json:"interval"`
	Strategy   string     `json:"strategy"`
	RiskReward FloatParam `json:"risk_reward_ratio"`
	StartTime  string     `json:"start_time,omitempty"`
	EndTime    string     `json:"end_time,omitempty"`
}

// BacktestResponse reports a completed run. Message is set on the
// no-rows-matched variant.
type BacktestResponse struct {
	RunID           string  `json:"run_id"`
	RowCount        int     `json:"row_count"`
	FinalProfitRate float64 `json:"final_profit_rate"`
	Message         string  `json:"message,omitempty"`
}

// TradeJSON is one persisted backtest trade.
type TradeJSON struct {
	EntryTime      string   `json:"entry_time"`
	EntryPrice     float64  `json:"entry_price"`
	StopLoss       float64  `json:"stop_loss"`
	TakeProfit     float64  `json:"take_profit"`
	ExitTime       *string  `json:"exit_time"`
	Result         string   `json:"result"`
	Symbol         string   `json:"symbol"`
	Interval       string   `json:"interval"`
	Strategy       string   `json:"strategy"`
	WhatIndicators string   `json:"what_indicators"`
	ProfitRate     float64  `json:"profit_rate"`
	CumProfitRate  float64  `json:"cum_profit_rate"`
}

// FilteredRowJSON is the trade summary consumed by the chart page.
type FilteredRowJSON struct {
	EntryTime string  `json:"entry_time"`
	ExitTime  *string `json:"exit_time"`
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
}

// StatsJSON mirrors the statistics snapshot key-for-key.
type StatsJSON struct {
	TotalCount int     `json:"total_count"`
	TPCount    int     `json:"tp_count"`
	SLCount    int     `json:"sl_count"`
	TPRate     float64 `json:"tp_rate"`

	ProfitMean float64 `json:"profit_mean"`
	ProfitStd  float64 `json:"profit_std"`
	ProfitMin  float64 `json:"profit_min"`
	ProfitMax  float64 `json:"profit_max"`

	LossMean float64 `json:"loss_mean"`
	LossStd  float64 `json:"loss_std"`
	LossMin  float64 `json:"loss_min"`
	LossMax  float64 `json:"loss_max"`

	ProfitRateMean float64 `json:"profit_rate_mean"`
	ProfitRateStd  float64 `json:"profit_rate_std"`
	ProfitRateMin  float64 `json:"profit_rate_min"`
	ProfitRateMax  float64 `json:"profit_rate_max"`

	Expectancy float64 `json:"expectancy"`

	MDD      float64 `json:"mdd"`
	LowTime  *string `json:"low_time"`
	HighTime *string `json:"high_time"`

	FinalProfitRate float64 `json:"final_profit_rate"`
}

// TimeRangeResponse is the first/last timestamp of a bar series.
type TimeRangeResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// StrategyJSON is one saved strategy submission.
type StrategyJSON struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	Interval   string  `json:"interval"`
	Strategy   string  `json:"strategy"`
	RiskReward float64 `json:"risk_reward_ratio"`
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	CreatedAt  string  `json:"created_at"`
}

// wireTime is the timestamp format used in responses.
const wireTime = "2006-01-02 15:04:05+00:00"

func formatTime(t time.Time) string { return t.UTC().Format(wireTime) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// formatDatePtr renders the drawdown peak/trough markers as dates.
func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format("2006-01-02")
	return &s
}

func toTradeJSON(t *domain.Trade) TradeJSON {
	return TradeJSON{
		EntryTime:      formatTime(t.EntryTime),
		EntryPrice:     t.EntryPrice,
		StopLoss:       t.StopLoss,
		TakeProfit:     t.TakeProfit,
		ExitTime:       formatTimePtr(t.ExitTime),
		Result:         string(t.Result),
		Symbol:         t.Symbol,
		Interval:       t.Interval,
		Strategy:       t.Strategy,
		WhatIndicators: t.Indicators,
		ProfitRate:     t.ProfitRate,
		CumProfitRate:  t.CumProfitRate,
	}
}

func toStatsJSON(s domain.Stats) StatsJSON {
	return StatsJSON{
		TotalCount: s.TotalCount,
		TPCount:    s.TPCount,
		SLCount:    s.SLCount,
		TPRate:     s.TPRate,

		ProfitMean: s.ProfitMean,
		ProfitStd:  s.ProfitStd,
		ProfitMin:  s.ProfitMin,
		ProfitMax:  s.ProfitMax,

		LossMean: s.LossMean,
		LossStd:  s.LossStd,
		LossMin:  s.LossMin,
		LossMax:  s.LossMax,

		ProfitRateMean: s.ProfitRateMean,
		ProfitRateStd:  s.ProfitRateStd,
		ProfitRateMin:  s.ProfitRateMin,
		ProfitRateMax:  s.ProfitRateMax,

		Expectancy: s.Expectancy,

		MDD:      s.MDD,
		LowTime:  formatDatePtr(s.LowTime),
		HighTime: formatDatePtr(s.HighTime),

		FinalProfitRate: s.FinalProfitRate,
	}
}

// Interface compliance for the custom unmarshaller.
var _ json.Unmarshaler = (*FloatParam)(nil)
