// Package replication implements the core stream-to-search pipeline: record
// aggregation, the per-query-language transformers, bulk action assembly and
// execution, and the bounded poll cycle that ties lease management, stream
// reads and checkpoint advancement together.
package replication

import (
	"crypto/md5"
	"encoding/hex"

	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

// Envelope is a change record that survived filtering, together with the
// state the transformer resolved for it: the search engine type of its value
// and, for RDF records, the parsed statement.
type Envelope struct {
	Record     stream.Record
	SearchType string
	Statement  *stream.Statement
}

// DocumentID derives the search document id for a record. Property-graph
// ids are prefixed to keep vertex and edge documents apart; RDF documents
// are keyed by subject, so all statements about one subject land in one
// document. MD5 is used over SHA as the cheaper digest for a non-security
// identifier.
func DocumentID(env Envelope) string {
	var key string
	if env.Record.Data.IsPropertyGraph() {
		prefix := db.EdgeIDPrefix
		if env.Record.Data.Type == stream.TypeVertexLabel || env.Record.Data.Type == stream.TypeVertexProperty {
			prefix = db.VertexIDPrefix
		}
		key = prefix + env.Record.Data.ID
	} else {
		key = env.Statement.Subject.Value
	}
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
