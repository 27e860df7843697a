package domain

// DatabaseDriver represents the type of backend engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL     DatabaseDriver = "mysql"
	DatabaseDriverPostgres  DatabaseDriver = "postgres"
	DatabaseDriverSQLServer DatabaseDriver = "sqlserver"
	DatabaseDriverSQLite    DatabaseDriver = "sqlite"
	DatabaseDriverMongoDB   DatabaseDriver = "mongodb"
)

// DatabaseConnection holds what is needed to reach one physical backend.
// The password is resolved separately and never serialized.
type DatabaseConnection struct {
	Driver     DatabaseDriver `json:"driver"`
	Host       string         `json:"host"` // hostname, URI (mongodb) or file path (sqlite)
	Port       int            `json:"port"`
	Database   string         `json:"database"`
	Username   string         `json:"username"`
	Password   string         `json:"-"`
	SSLMode    string         `json:"sslMode"`
	Table      string         `json:"table,omitempty"`      // SQL target table
	Collection string         `json:"collection,omitempty"` // document target collection
}
