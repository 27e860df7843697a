package dbclient

import (
	"fmt"

	"hybriddb/internal/domain"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	driver: "postgres",
	createTable: `CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		record_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		value_json TEXT,
		value_type TEXT NOT NULL,
		t_stamp TIMESTAMPTZ NULL,
		sys_ingested_at TIMESTAMPTZ NOT NULL
	)`,
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
}

// buildPostgresDSN constructs a Postgres connection string from a DatabaseConnection.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conn.Host, port, conn.Username, password, conn.Database, sslMode,
	)
}
