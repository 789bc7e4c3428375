package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver.

	"klinelab/internal/domain"
)

// OpenPostgres connects to the Postgres database at url and ensures the
// schema exists.
func OpenPostgres(url string) (*SQLStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLStore(db, pgDialect{})
}

type pgDialect struct{}

func (pgDialect) name() string { return "postgres" }

func (pgDialect) ddl() []string {
	var indicatorCols strings.Builder
	for _, name := range domain.IndicatorFields {
		fmt.Fprintf(&indicatorCols, ",\n    %s DOUBLE PRECISION", name)
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bars (
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    open DOUBLE PRECISION NOT NULL,
    high DOUBLE PRECISION NOT NULL,
    low DOUBLE PRECISION NOT NULL,
    close DOUBLE PRECISION NOT NULL,
    volume DOUBLE PRECISION NOT NULL%s,
    PRIMARY KEY (symbol, interval, timestamp)
)`, indicatorCols.String()),
		`CREATE TABLE IF NOT EXISTS trades (
    entry_time TIMESTAMPTZ PRIMARY KEY,
    entry_price DOUBLE PRECISION,
    stop_loss DOUBLE PRECISION,
    take_profit DOUBLE PRECISION,
    exit_time TIMESTAMPTZ,
    result TEXT,
    symbol TEXT,
    interval TEXT,
    strategy TEXT,
    what_indicators TEXT,
    profit_rate DOUBLE PRECISION,
    cum_profit_rate DOUBLE PRECISION
)`,
		`CREATE TABLE IF NOT EXISTS strategies (
    id SERIAL PRIMARY KEY,
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    strategy TEXT NOT NULL,
    risk_reward_ratio DOUBLE PRECISION NOT NULL,
    start_time TIMESTAMPTZ,
    end_time TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
}

// rebind rewrites ? placeholders to $1..$n.
func (pgDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (pgDialect) bindTime(t time.Time) any { return t.UTC() }
