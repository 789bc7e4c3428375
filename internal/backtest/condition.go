// Package backtest implements the signal-condition backtest engine: entry
// selection over bar series, forward barrier scanning, trade outcome
// composition, and performance statistics.
package backtest

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"klinelab/internal/domain"
)

// ErrConditionSyntax marks a condition expression that cannot be compiled
// into a filter. It is surfaced to the caller and never retried.
var ErrConditionSyntax = errors.New("invalid condition expression")

// minRangeFactor excludes degenerate near-zero-risk entries: a bar only
// qualifies as an entry when close > low * minRangeFactor, regardless of the
// user condition.
const minRangeFactor = 1.005

var operators = []string{">=", "<=", "==", "!=", ">", "<"}

// clause is one "field op operand" comparison. Exactly one of rhsField and
// rhsValue is active.
type clause struct {
	field    string
	op       string
	rhsField string
	rhsValue float64
}

// Condition is a compiled conjunction of comparisons over named bar fields.
type Condition struct {
	expr    string
	clauses []clause
}

// CompileCondition parses an expression of the form
//
//	"field op operand and field op operand and ..."
//
// where op is one of > >= < <= == != and operand is another field name or a
// numeric literal. Field names must come from the OHLCV/indicator
// vocabulary. Any other shape is an ErrConditionSyntax.
func CompileCondition(expr string) (*Condition, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrConditionSyntax)
	}

	c := &Condition{expr: expr}
	for _, part := range strings.Split(trimmed, " and ") {
		cl, err := parseClause(part)
		if err != nil {
			return nil, err
		}
		c.clauses = append(c.clauses, cl)
	}
	return c, nil
}

func parseClause(part string) (clause, error) {
	part = strings.TrimSpace(part)

	var op string
	var lhs, rhs string
	for _, candidate := range operators {
		if i := strings.Index(part, candidate); i >= 0 {
			op = candidate
			lhs = strings.TrimSpace(part[:i])
			rhs = strings.TrimSpace(part[i+len(candidate):])
			break
		}
	}
	if op == "" {
		return clause{}, fmt.Errorf("%w: no comparison operator in %q", ErrConditionSyntax, part)
	}
	if !isField(lhs) {
		return clause{}, fmt.Errorf("%w: unknown field %q", ErrConditionSyntax, lhs)
	}
	if rhs == "" {
		return clause{}, fmt.Errorf("%w: missing right operand in %q", ErrConditionSyntax, part)
	}

	cl := clause{field: lhs, op: op}
	if isField(rhs) {
		cl.rhsField = rhs
		return cl, nil
	}
	v, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return clause{}, fmt.Errorf("%w: operand %q is neither a field nor a number", ErrConditionSyntax, rhs)
	}
	cl.rhsValue = v
	return cl, nil
}

func isField(name string) bool {
	for _, f := range domain.BaseFields {
		if name == f {
			return true
		}
	}
	for _, f := range domain.IndicatorFields {
		if name == f {
			return true
		}
	}
	return false
}

// Expr returns the expression the condition was compiled from.
func (c *Condition) Expr() string { return c.expr }

// Match reports whether the bar satisfies every clause. A clause whose field
// (or right-hand field) is absent on the bar is false, so warmup bars with
// missing indicator values never match.
func (c *Condition) Match(bar *domain.Bar) bool {
	for _, cl := range c.clauses {
		lhs, ok := bar.Field(cl.field)
		if !ok {
			return false
		}
		rhs := cl.rhsValue
		if cl.rhsField != "" {
			rhs, ok = bar.Field(cl.rhsField)
			if !ok {
				return false
			}
		}
		if !compare(lhs, cl.op, rhs) {
			return false
		}
	}
	return true
}

func compare(lhs float64, op string, rhs float64) bool {
	switch op {
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	}
	return false
}

// SelectEntries returns the bars matching the condition within the optional
// [start, end) window, in the input (time) order, after applying the
// minimum-range floor. Bars are trusted to be in ascending timestamp order.
func (c *Condition) SelectEntries(bars []domain.Bar, window Window) []int {
	var entries []int
	for i := range bars {
		b := &bars[i]
		if !window.Contains(b.Timestamp) {
			continue
		}
		if b.Close <= b.Low*minRangeFactor {
			continue
		}
		if c.Match(b) {
			entries = append(entries, i)
		}
	}
	return entries
}

// IndicatorNamer extracts the indicator names referenced by a condition
// expression. Isolated as an interface so the containment-based default can
// be replaced by a real tokenizer without touching callers.
type IndicatorNamer interface {
	UsedIndicators(expr string) string
}

// ContainsNamer implements IndicatorNamer with a substring membership test
// against the fixed indicator vocabulary, exactly as the condition builder
// produces expressions. An unrelated identifier containing an indicator name
// as a substring would be misclassified; that ambiguity is part of the
// contract.
type ContainsNamer struct{}

// UsedIndicators returns the sorted, deduplicated indicator names appearing
// in expr, joined with " and ", or "None" when no indicator is referenced.
func (ContainsNamer) UsedIndicators(expr string) string {
	var used []string
	for _, name := range domain.IndicatorFields {
		if strings.Contains(expr, name) {
			used = append(used, name)
		}
	}
	if len(used) == 0 {
		return "None"
	}
	sort.Strings(used)
	return strings.Join(used, " and ")
}
