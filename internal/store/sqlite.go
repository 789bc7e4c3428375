package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"klinelab/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database at dbPath and ensures the
// schema exists. Timestamps are stored as Unix milliseconds.
func OpenSQLite(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The engine serialises writes itself; a single connection avoids
	// SQLITE_BUSY on concurrent reads during a replace.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect{})
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) ddl() []string {
	var indicatorCols strings.Builder
	for _, name := range domain.IndicatorFields {
		fmt.Fprintf(&indicatorCols, ",\n    %s REAL", name)
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bars (
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL%s,
    PRIMARY KEY (symbol, interval, timestamp)
)`, indicatorCols.String()),
		`CREATE TABLE IF NOT EXISTS trades (
    entry_time INTEGER PRIMARY KEY,
    entry_price REAL,
    stop_loss REAL,
    take_profit REAL,
    exit_time INTEGER,
    result TEXT,
    symbol TEXT,
    interval TEXT,
    strategy TEXT,
    what_indicators TEXT,
    profit_rate REAL,
    cum_profit_rate REAL
)`,
		`CREATE TABLE IF NOT EXISTS strategies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    strategy TEXT NOT NULL,
    risk_reward_ratio REAL NOT NULL,
    start_time INTEGER,
    end_time INTEGER,
    created_at INTEGER NOT NULL
)`,
	}
}

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) bindTime(t time.Time) any { return t.UnixMilli() }
