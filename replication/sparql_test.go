package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

func sparqlRecord(commit, op int64, operation, stmt string) stream.Record {
	return stream.Record{
		EventID: stream.EventID{CommitNum: commit, OpNum: op},
		Op:      operation,
		Data:    stream.RecordData{Stmt: stmt},
	}
}

func newSparqlHandler(t *testing.T, fake *fakeSearch, params map[string]string) *SearchHandler {
	cfg := testProvider(config.HandlerSparql, params)
	cfg.StreamEndpoint = "https://db.example.com:8182/sparql/stream"
	transformer, err := NewTransformer(cfg)
	require.NoError(t, err)
	handler, err := NewSearchHandler(context.Background(), cfg, fake.client(), transformer, NewAggregator(ModeDefault))
	require.NoError(t, err)
	return handler
}

func TestLangLiteralWithNamedGraph(t *testing.T) {
	fake := newFakeSearch(t)
	handler := newSparqlHandler(t, fake, nil)

	handleBatch(t, handler, sparqlRecord(1, 0, stream.OpAdd, `<s> <p> "hola"@es <g> .`))

	calls := fake.calls()
	require.Len(t, calls, 1)

	meta := calls[0][0]["update"].(map[string]any)
	assert.Equal(t, md5hex("s"), meta["_id"])

	body := calls[0][1]
	entry := body["script"].(map[string]any)["params"].(map[string]any)["predicates"].([]any)[0].(map[string]any)
	assert.Equal(t, "p", entry["key"])
	assert.Equal(t, map[string]any{"value": "hola", "language": "es", "graph": "g"}, entry["value"])

	upsert := body["upsert"].(map[string]any)
	assert.Equal(t, "s", upsert[db.FieldEntityID])
	assert.Equal(t, db.DocumentTypeRDFResource, upsert[db.FieldDocumentType])
}

func TestRDFTypeProjectsToEntityType(t *testing.T) {
	fake := newFakeSearch(t)
	handler := newSparqlHandler(t, fake, nil)

	handleBatch(t, handler, sparqlRecord(1, 0, stream.OpAdd,
		`<http://example.org/alice> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/Person> .`))

	calls := fake.calls()
	require.Len(t, calls, 1)
	entry := calls[0][1]["script"].(map[string]any)["params"].(map[string]any)["predicates"].([]any)[0].(map[string]any)
	assert.Equal(t, "entity_type", entry["key"])
	assert.Equal(t, "http://example.org/Person", entry["value"])

	upsert := calls[0][1]["upsert"].(map[string]any)
	assert.Equal(t, []any{"http://example.org/Person"}, upsert[db.FieldEntityType])
}

func TestTypedLiteralConvertsAndKeepsDatatype(t *testing.T) {
	fake := newFakeSearch(t)
	handler := newSparqlHandler(t, fake, nil)

	handleBatch(t, handler, sparqlRecord(1, 0, stream.OpAdd,
		`<s> <age> "42"^^<http://www.w3.org/2001/XMLSchema#integer> .`))

	// A mapping was created for the new predicate.
	require.Len(t, fake.putMappings, 1)

	calls := fake.calls()
	require.Len(t, calls, 1)
	entry := calls[0][1]["script"].(map[string]any)["params"].(map[string]any)["predicates"].([]any)[0].(map[string]any)
	value := entry["value"].(map[string]any)
	assert.Equal(t, float64(42), value["value"])
	assert.Equal(t, "http://www.w3.org/2001/XMLSchema#integer", value["datatype"])
}

func TestSparqlFilters(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		stmt   string
	}{
		{
			name: "BlankNodeSubject",
			stmt: `_:b0 <p> "v" .`,
		},
		{
			name: "ResourceObjectForPlainPredicate",
			stmt: `<s> <p> <http://example.org/o> .`,
		},
		{
			name:   "ExcludedPredicate",
			params: map[string]string{config.ParamPropertiesToExclude: "secret"},
			stmt:   `<s> <secret> "v" .`,
		},
		{
			name:   "ExcludedDatatype",
			params: map[string]string{config.ParamDatatypesToExclude: "double"},
			stmt:   `<s> <p> "1.5"^^<http://www.w3.org/2001/XMLSchema#double> .`,
		},
		{
			name: "InvalidLanguageTag",
			stmt: `<s> <p> "hola"@abcdefghij .`,
		},
		{
			name: "InfiniteDouble",
			stmt: `<s> <p> "INF"^^<http://www.w3.org/2001/XMLSchema#double> .`,
		},
		{
			name: "NaNDouble",
			stmt: `<s> <p> "NaN"^^<http://www.w3.org/2001/XMLSchema#double> .`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeSearch(t)
			handler := newSparqlHandler(t, fake, tt.params)

			handleBatch(t, handler, sparqlRecord(1, 0, stream.OpAdd, tt.stmt))
			assert.Empty(t, fake.calls(), "filtered record must produce no action")
		})
	}
}

func TestMalformedStatementAbortsCycle(t *testing.T) {
	fake := newFakeSearch(t)
	handler := newSparqlHandler(t, fake, nil)

	batch := &stream.Batch{
		Records:      []stream.Record{sparqlRecord(1, 0, stream.OpAdd, `<s> <p> garbage`)},
		LastEventID:  stream.EventID{CommitNum: 1},
		TotalRecords: 1,
	}
	_, err := handler.HandleRecords(context.Background(), batch)
	require.Error(t, err)

	var parseErr *stream.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestSparqlRemoveStatement(t *testing.T) {
	fake := newFakeSearch(t)
	handler := newSparqlHandler(t, fake, nil)

	handleBatch(t, handler, sparqlRecord(2, 0, stream.OpRemove, `<s> <p> "bye" .`))

	calls := fake.calls()
	require.Len(t, calls, 1)
	body := calls[0][1]
	assert.Equal(t, DropFieldScript, body["script"].(map[string]any)["source"])
	assert.NotContains(t, body, "upsert")
}

func TestSparqlStringOnlyVariant(t *testing.T) {
	fake := newFakeSearch(t)
	cfg := testProvider(config.HandlerSparqlStringOnly, nil)
	cfg.StreamEndpoint = "https://db.example.com:8182/sparql/stream"
	transformer, err := NewTransformer(cfg)
	require.NoError(t, err)
	handler, err := NewSearchHandler(context.Background(), cfg, fake.client(), transformer, NewAggregator(ModeDefault))
	require.NoError(t, err)

	handleBatch(t, handler,
		sparqlRecord(3, 0, stream.OpAdd, `<s> <name> "Alice"^^<http://www.w3.org/2001/XMLSchema#string> .`),
		sparqlRecord(3, 1, stream.OpAdd, `<s> <age> "42"^^<http://www.w3.org/2001/XMLSchema#integer> .`),
	)

	calls := fake.calls()
	require.Len(t, calls, 1)
	actions := actionsOf(calls[0])
	// The typed literal drops; only the string literal survives.
	require.Len(t, actions, 1)

	entry := calls[0][1]["script"].(map[string]any)["params"].(map[string]any)["predicates"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"value": "Alice"}, entry["value"])
}
