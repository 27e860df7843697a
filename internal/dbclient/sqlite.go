package dbclient

import (
	"hybriddb/internal/domain"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driver: "sqlite",
	createTable: `CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		value_json TEXT,
		value_type TEXT NOT NULL,
		t_stamp DATETIME NULL,
		sys_ingested_at DATETIME NOT NULL
	)`,
	placeholder: func(int) string { return "?" },
}

// newSQLiteSink opens an SQLite file as the relational backend.
// Opens in WAL mode with busy timeout for concurrent access.
func newSQLiteSink(conn *domain.DatabaseConnection) (*SQLSink, error) {
	dsn := conn.Host + "?_journal_mode=WAL&_busy_timeout=5000"
	return newSQLSink(sqliteDialect, dsn, conn.Table)
}
