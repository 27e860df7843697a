package dbclient

import (
	"context"
	"fmt"

	"hybriddb/internal/domain"
)

// DefaultTable is the relational table routed fields are written to.
const DefaultTable = "routed_fields"

// DefaultCollection is the collection routed documents are written to.
const DefaultCollection = "routed_records"

// Pinger is implemented by every sink that can check its backend.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

// NewRowSink opens the relational sink for conn and makes sure its table
// exists.
func NewRowSink(ctx context.Context, conn *domain.DatabaseConnection) (*SQLSink, error) {
	var (
		sink *SQLSink
		err  error
	)
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		sink, err = newSQLiteSink(conn)
	case domain.DatabaseDriverMySQL:
		sink, err = newSQLSink(mysqlDialect, buildMySQLDSN(conn, conn.Password), conn.Table)
	case domain.DatabaseDriverPostgres:
		sink, err = newSQLSink(postgresDialect, buildPostgresDSN(conn, conn.Password), conn.Table)
	case domain.DatabaseDriverSQLServer:
		sink, err = newSQLSink(sqlserverDialect, buildSQLServerDSN(conn, conn.Password), conn.Table)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %q", conn.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureTable(ctx); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

// NewDocumentSink opens the document sink for conn.
func NewDocumentSink(conn *domain.DatabaseConnection) (*MongoSink, error) {
	if conn.Driver != domain.DatabaseDriverMongoDB {
		return nil, fmt.Errorf("unsupported document driver: %q", conn.Driver)
	}
	return newMongoSink(conn, conn.Password)
}

var (
	_ domain.RowSink      = (*SQLSink)(nil)
	_ domain.DocumentSink = (*MongoSink)(nil)
	_ Pinger              = (*SQLSink)(nil)
	_ Pinger              = (*MongoSink)(nil)
)
