// Package klinelab provides a Go client for the klinelab-server API.
package klinelab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a running klinelab-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BacktestRequest mirrors the POST /backtest payload. Time bounds use the
// "2006-01-02 15:04:05" layout and are optional.
type BacktestRequest struct {
	Symbol     string  `json:"symbol"`
	Interval   string  `json:"interval"`
	Strategy   string  `json:"strategy"`
	RiskReward float64 `json:"risk_reward_ratio"`
	StartTime  string  `json:"start_time,omitempty"`
	EndTime    string  `json:"end_time,omitempty"`
}

// BacktestResult is the server's run summary.
type BacktestResult struct {
	RunID           string  `json:"run_id"`
	RowCount        int     `json:"row_count"`
	FinalProfitRate float64 `json:"final_profit_rate"`
	Message         string  `json:"message"`
}

// Trade is one persisted backtest trade.
type Trade struct {
	EntryTime      string  `json:"entry_time"`
	EntryPrice     float64 `json:"entry_price"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	ExitTime       *string `json:"exit_time"`
	Result         string  `json:"result"`
	Symbol         string  `json:"symbol"`
	Interval       string  `json:"interval"`
	Strategy       string  `json:"strategy"`
	WhatIndicators string  `json:"what_indicators"`
	ProfitRate     float64 `json:"profit_rate"`
	CumProfitRate  float64 `json:"cum_profit_rate"`
}

// Statistics is the performance snapshot of the persisted trade set.
type Statistics struct {
	TotalCount      int     `json:"total_count"`
	TPCount         int     `json:"tp_count"`
	SLCount         int     `json:"sl_count"`
	TPRate          float64 `json:"tp_rate"`
	ProfitMean      float64 `json:"profit_mean"`
	ProfitStd       float64 `json:"profit_std"`
	ProfitMin       float64 `json:"profit_min"`
	ProfitMax       float64 `json:"profit_max"`
	LossMean        float64 `json:"loss_mean"`
	LossStd         float64 `json:"loss_std"`
	LossMin         float64 `json:"loss_min"`
	LossMax         float64 `json:"loss_max"`
	ProfitRateMean  float64 `json:"profit_rate_mean"`
	ProfitRateStd   float64 `json:"profit_rate_std"`
	ProfitRateMin   float64 `json:"profit_rate_min"`
	ProfitRateMax   float64 `json:"profit_rate_max"`
	Expectancy      float64 `json:"expectancy"`
	MDD             float64 `json:"mdd"`
	LowTime         *string `json:"low_time"`
	HighTime        *string `json:"high_time"`
	FinalProfitRate float64 `json:"final_profit_rate"`
}

// TimeRange is the first and last timestamp of a bar series.
type TimeRange struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// RunBacktest submits a backtest and returns the run summary.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var res BacktestResult
	if err := c.post(ctx, "/backtest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetStatistics retrieves the statistics snapshot of the last run.
func (c *Client) GetStatistics(ctx context.Context) (*Statistics, error) {
	var res Statistics
	if err := c.get(ctx, "/statistics", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTrades retrieves the persisted trades in entry-time order.
func (c *Client) GetTrades(ctx context.Context) ([]Trade, error) {
	var res []Trade
	if err := c.get(ctx, "/trades", &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetBars retrieves a bar series as timestamp-keyed rows. columns selects
// OHLCV and indicator columns; nil requests the default OHLCV set.
func (c *Client) GetBars(ctx context.Context, symbol, interval string, columns []string) ([]map[string]any, error) {
	path := "/ohlcv/" + url.PathEscape(symbol) + "/" + url.PathEscape(interval)
	if len(columns) > 0 {
		q := url.Values{}
		q.Set("columns", strings.Join(columns, ","))
		path += "?" + q.Encode()
	}
	var res []map[string]any
	if err := c.get(ctx, path, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetTimeRange retrieves the first and last timestamp of a bar series.
func (c *Client) GetTimeRange(ctx context.Context, symbol, interval string) (*TimeRange, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	var res TimeRange
	if err := c.get(ctx, "/time-range?"+q.Encode(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
