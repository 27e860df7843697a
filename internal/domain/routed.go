package domain

import (
	"context"
	"time"
)

// FieldRow is one field value bound for the relational backend. Every SQL
// placement becomes a row of the fixed-shape routed_fields table.
type FieldRow struct {
	RecordID   string     `json:"record_id"`
	FieldName  string     `json:"field_name"`
	ValueJSON  string     `json:"value_json"`
	ValueType  TypeTag    `json:"value_type"`
	TStamp     *time.Time `json:"t_stamp,omitempty"`
	IngestedAt time.Time  `json:"sys_ingested_at"`
}

// Document is the part of a record bound for the document backend.
// Keys holds Fields' names in record order.
type Document struct {
	RecordID   string         `json:"record_id"`
	Keys       []string       `json:"-"`
	Fields     map[string]any `json:"fields"`
	TStamp     *time.Time     `json:"t_stamp,omitempty"`
	IngestedAt time.Time      `json:"sys_ingested_at"`
}

// RowSink writes rows to a relational backend.
type RowSink interface {
	WriteRows(ctx context.Context, rows []FieldRow) error
	Close() error
}

// DocumentSink writes documents to a document backend.
type DocumentSink interface {
	WriteDocuments(ctx context.Context, docs []Document) error
	Close() error
}
