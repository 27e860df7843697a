package dbclient

import (
	"fmt"
	"net/url"
	"strings"

	"hybriddb/internal/domain"

	_ "github.com/microsoft/go-mssqldb"
)

var sqlserverDialect = dialect{
	driver: "sqlserver",
	createTable: `IF OBJECT_ID(N'%[1]s', N'U') IS NULL CREATE TABLE %[1]s (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		record_id NVARCHAR(64) NOT NULL,
		field_name NVARCHAR(255) NOT NULL,
		value_json NVARCHAR(MAX) NULL,
		value_type NVARCHAR(16) NOT NULL,
		t_stamp DATETIME2 NULL,
		sys_ingested_at DATETIME2 NOT NULL
	)`,
	placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
}

// buildSQLServerDSN constructs a sqlserver:// URL. Encryption stays on
// unless sslMode is "disable".
func buildSQLServerDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 1433
	}
	encrypt := "true"
	if strings.EqualFold(strings.TrimSpace(conn.SSLMode), "disable") {
		encrypt = "disable"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		url.QueryEscape(conn.Username), url.QueryEscape(password),
		conn.Host, port, url.QueryEscape(conn.Database), encrypt,
	)
}
