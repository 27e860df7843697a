package dbclient

import (
	"fmt"

	"hybriddb/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	driver: "mysql",
	createTable: `CREATE TABLE IF NOT EXISTS %s (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		record_id VARCHAR(64) NOT NULL,
		field_name VARCHAR(255) NOT NULL,
		value_json TEXT NULL,
		value_type VARCHAR(16) NOT NULL,
		t_stamp DATETIME(6) NULL,
		sys_ingested_at DATETIME(6) NOT NULL,
		INDEX idx_record (record_id)
	)`,
	placeholder: func(int) string { return "?" },
}

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	// user:password@tcp(host:port)/dbname?parseTime=true
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		conn.Username, password, conn.Host, port, conn.Database,
	)
	if conn.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}
