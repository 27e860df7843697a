package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"hybriddb/internal/domain"
	"hybriddb/internal/logger"
)

// MongoSink writes routed documents to one collection.
type MongoSink struct {
	client     *mongo.Client
	dbName     string
	collection string
}

func newMongoSink(conn *domain.DatabaseConnection, password string) (*MongoSink, error) {
	uri, dbName := buildMongoURI(conn, password)

	logURI := uri
	if password != "" {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	log := logger.Get("sink.mongo")
	log.Info().
		Str("uri", logURI).
		Str("database", dbName).
		Msg("connecting")

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	collection := conn.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoSink{client: client, dbName: dbName, collection: collection}, nil
}

// buildMongoURI returns the connection URI and the database to write to.
// A host that already is a mongodb:// or mongodb+srv:// URI is used as is,
// with <password> placeholders filled in.
func buildMongoURI(conn *domain.DatabaseConnection, password string) (string, string) {
	var uri string
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri = conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		if conn.Username != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
		}
	}

	dbName := conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}
	if dbName == "" {
		dbName = "hybriddb"
	}
	return uri, dbName
}

// databaseFromURI extracts the path segment of user:pass@host/DB?params.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if after, ok := strings.CutPrefix(rest, prefix); ok {
			rest = after
			break
		}
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return ""
	}
	path := rest[slash+1:]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	return path
}

// Collection returns the target collection name.
func (m *MongoSink) Collection() string { return m.collection }

func (m *MongoSink) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// WriteDocuments inserts docs; a single document goes through InsertOne.
func (m *MongoSink) WriteDocuments(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	coll := m.client.Database(m.dbName).Collection(m.collection)
	if len(docs) == 1 {
		if _, err := coll.InsertOne(ctx, toBSON(docs[0])); err != nil {
			return fmt.Errorf("insert document %s: %w", docs[0].RecordID, err)
		}
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = toBSON(d)
	}
	if _, err := coll.InsertMany(ctx, batch); err != nil {
		return fmt.Errorf("insert %d documents: %w", len(docs), err)
	}
	return nil
}

func (m *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// toBSON lays a document out as record_id, t_stamp, sys_ingested_at and
// then the routed fields in record order.
func toBSON(d domain.Document) bson.D {
	out := bson.D{{Key: "record_id", Value: d.RecordID}}
	if d.TStamp != nil {
		out = append(out, bson.E{Key: "t_stamp", Value: d.TStamp.UTC()})
	} else {
		out = append(out, bson.E{Key: "t_stamp", Value: nil})
	}
	out = append(out, bson.E{Key: "sys_ingested_at", Value: d.IngestedAt.UTC()})

	seen := make(map[string]bool, len(d.Fields))
	for _, k := range d.Keys {
		if v, ok := d.Fields[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, bson.E{Key: k, Value: bsonValue(v)})
		}
	}
	for _, k := range sortedKeys(d.Fields) {
		if !seen[k] {
			out = append(out, bson.E{Key: k, Value: bsonValue(d.Fields[k])})
		}
	}
	return out
}

// bsonValue converts decoded JSON into BSON-friendly values. Numbers keep
// integer precision where they have it.
func bsonValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		m := make(bson.M, len(x))
		for k, val := range x {
			m[k] = bsonValue(val)
		}
		return m
	case []any:
		a := make(bson.A, len(x))
		for i, val := range x {
			a[i] = bsonValue(val)
		}
		return a
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
