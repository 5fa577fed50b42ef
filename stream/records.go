// Package stream implements the client side of the Neptune change-data-capture
// stream: the change record model, the HTTP reader with commit-gap detection,
// and a single-statement n-quad parser for SPARQL change records.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Change record operations.
const (
	OpAdd    = "ADD"
	OpRemove = "REMOVE"
)

// Property-graph record types.
const (
	TypeVertexLabel    = "vl"
	TypeVertexProperty = "vp"
	TypeEdge           = "e"
	TypeEdgeProperty   = "ep"
)

// Iterator types for stream reads.
const (
	IteratorTrimHorizon         = "TRIM_HORIZON"
	IteratorAfterSequenceNumber = "AFTER_SEQUENCE_NUMBER"
)

// EventID is the two-part sequence number of a change record. Ordering is
// lexicographic over (CommitNum, OpNum).
type EventID struct {
	CommitNum int64 `json:"commitNum"`
	OpNum     int64 `json:"opNum"`
}

// Before reports whether e is strictly before other in stream order.
func (e EventID) Before(other EventID) bool {
	if e.CommitNum != other.CommitNum {
		return e.CommitNum < other.CommitNum
	}
	return e.OpNum < other.OpNum
}

// PropertyValue is the typed value of a property-graph change record.
// Value is decoded with json.Number so integer and floating literals stay
// distinguishable for datatype validation.
type PropertyValue struct {
	Value    any    `json:"value"`
	DataType string `json:"dataType"`
}

// RecordData is the payload of a change record. Property-graph records use
// the ID/Type/Key/Value fields, SPARQL records carry a single n-quad
// statement in Stmt.
type RecordData struct {
	ID    string         `json:"id,omitempty"`
	Type  string         `json:"type,omitempty"`
	Key   string         `json:"key,omitempty"`
	Value *PropertyValue `json:"value,omitempty"`
	From  string         `json:"from,omitempty"`
	To    string         `json:"to,omitempty"`
	Stmt  string         `json:"stmt,omitempty"`
}

// IsPropertyGraph reports whether the payload is a property-graph record.
func (d *RecordData) IsPropertyGraph() bool {
	return d.ID != ""
}

// Record is one event from the change stream.
type Record struct {
	EventID EventID    `json:"eventId"`
	Op      string     `json:"op"`
	Data    RecordData `json:"data"`
}

// Batch is one windowed read from the stream endpoint.
type Batch struct {
	Records          []Record `json:"records"`
	LastEventID      EventID  `json:"lastEventId"`
	LastTrxTimestamp int64    `json:"lastTrxTimestamp"`
	TotalRecords     int      `json:"totalRecords"`
	Format           string   `json:"format,omitempty"`
}

// DecodeBatch decodes a stream response body. Numbers inside property values
// are kept as json.Number.
func DecodeBatch(r io.Reader) (*Batch, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var batch Batch
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode stream response: %w", err)
	}
	return &batch, nil
}
