package backtest

import (
	"errors"
	"testing"
	"time"

	"klinelab/internal/domain"
)

func TestCompileCondition(t *testing.T) {
	valid := []string{
		"close > open",
		"rsi > 70",
		"rsi >= 70 and ema_7 < close",
		"volume != 0 and boll_upper <= high",
		"close == 100.5",
		"macd > macd_signal and close > ema_99 and volume > volume_ma_20",
	}
	for _, expr := range valid {
		if _, err := CompileCondition(expr); err != nil {
			t.Errorf("CompileCondition(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{
		"",
		"   ",
		"close >",
		"> 100",
		"sharpe > 1",         // unknown field
		"close >> open",      // after > the rest is ">" then " open" -> field check fails
		"close > banana",     // non-numeric literal
		"close ~ open",       // unknown operator
		"close > 1 and",      // dangling conjunction
		"rsi > 70 or rsi < 30", // only conjunctions are supported
	}
	for _, expr := range invalid {
		_, err := CompileCondition(expr)
		if !errors.Is(err, ErrConditionSyntax) {
			t.Errorf("CompileCondition(%q) = %v, want ErrConditionSyntax", expr, err)
		}
	}
}

func TestConditionMatch(t *testing.T) {
	bar := domain.Bar{Open: 100, High: 110, Low: 95, Close: 105, Volume: 5000}
	bar.SetIndicator("rsi", 75)

	cases := []struct {
		expr string
		want bool
	}{
		{"close > open", true},
		{"close < open", false},
		{"rsi > 70", true},
		{"rsi > 80", false},
		{"rsi > 70 and close > open", true},
		{"rsi > 70 and close < open", false},
		{"volume >= 5000", true},
		{"close == 105", true},
		{"close != 105", false},
		// ema_7 is absent on this bar: any comparison with it is false.
		{"ema_7 < close", false},
		{"rsi > 70 and ema_7 < close", false},
	}
	for _, tc := range cases {
		cond, err := CompileCondition(tc.expr)
		if err != nil {
			t.Fatalf("CompileCondition(%q): %v", tc.expr, err)
		}
		if got := cond.Match(&bar); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestSelectEntriesMinRangeFloor(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		// close well above low * 1.005: eligible.
		{Timestamp: base, Open: 100, High: 110, Low: 95, Close: 105, Volume: 1},
		// close under low * 1.005: excluded. The boundary itself is not
		// exactly representable (100 * 1.005 rounds below 100.5), so the
		// case sits clearly inside the floor.
		{Timestamp: base.Add(time.Hour), Open: 100, High: 110, Low: 100, Close: 100.4, Volume: 1},
		// degenerate doji, close == low: excluded.
		{Timestamp: base.Add(2 * time.Hour), Open: 100, High: 110, Low: 100, Close: 100, Volume: 1},
		// just above the floor: eligible.
		{Timestamp: base.Add(3 * time.Hour), Open: 100, High: 110, Low: 100, Close: 100.51, Volume: 1},
	}

	cond, err := CompileCondition("volume > 0") // satisfied by every bar
	if err != nil {
		t.Fatal(err)
	}
	got := cond.SelectEntries(bars, Window{})
	if len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Errorf("SelectEntries = %v, want [0 3]: the range floor must exclude bars 1 and 2", got)
	}
}

func TestSelectEntriesWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 6; i++ {
		bars = append(bars, domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 110, Low: 95, Close: 105, Volume: 1,
		})
	}
	cond, err := CompileCondition("close > open")
	if err != nil {
		t.Fatal(err)
	}

	// [start, end): bar at the end bound is excluded.
	got := cond.SelectEntries(bars, Window{Start: bars[1].Timestamp, End: bars[4].Timestamp})
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("windowed SelectEntries = %v, want [1 2 3]", got)
	}

	// Zero window selects everything.
	if got := cond.SelectEntries(bars, Window{}); len(got) != 6 {
		t.Errorf("unbounded SelectEntries returned %d entries, want 6", len(got))
	}
}

func TestUsedIndicators(t *testing.T) {
	namer := ContainsNamer{}
	cases := []struct {
		expr string
		want string
	}{
		{"rsi > 70 and ema_7 < close", "ema_7 and rsi"},
		{"close > open", "None"},
		{"volume > volume_ma_20", "volume_ma_20"},
		// Containment is by substring: macd_signal also contains macd, and
		// that double count is deliberate contract behaviour.
		{"macd_signal > 0", "macd and macd_signal"},
		{"rsi > 70 and rsi < 90", "rsi"},
		{"boll_lower < close and boll_upper > close and ema_25 > ema_99", "boll_lower and boll_upper and ema_25 and ema_99"},
	}
	for _, tc := range cases {
		if got := namer.UsedIndicators(tc.expr); got != tc.want {
			t.Errorf("UsedIndicators(%q) = %q, want %q", tc.expr, got, tc.want)
		}
	}
}
