package dbclient

// Exported for the external test package.
var (
	BuildMySQLDSN     = buildMySQLDSN
	BuildPostgresDSN  = buildPostgresDSN
	BuildSQLServerDSN = buildSQLServerDSN
	BuildMongoURI     = buildMongoURI
	ToBSON            = toBSON
)
