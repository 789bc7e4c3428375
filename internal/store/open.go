package store

import "fmt"

// Open dispatches on the configured backend name. The SQLite path is
// ignored for postgres and vice versa.
func Open(backend, sqlitePath, postgresURL string) (*SQLStore, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(sqlitePath)
	case "postgres":
		return OpenPostgres(postgresURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
