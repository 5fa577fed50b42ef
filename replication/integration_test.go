//go:build integration

package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/containers"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

func fetchDocument(t *testing.T, endpoint, id string) (map[string]any, int) {
	resp, err := http.Get(fmt.Sprintf("%s/%s/_doc/%s", endpoint, db.SearchIndex, id))
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}

	var doc struct {
		Source map[string]any `json:"_source"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc.Source, resp.StatusCode
}

// TestBulkActionsAreIdempotent applies one generated action list twice and
// asserts the final document state is unchanged, then removes all fields
// twice and asserts the document is gone.
func TestBulkActionsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	endpoint, cleanup, err := containers.SetupOpenSearch(ctx, nil)
	require.NoError(t, err)
	defer cleanup()

	cfg := testProvider(config.HandlerGremlin, nil)
	client := db.NewSearchClient(endpoint)
	transformer, err := NewTransformer(cfg)
	require.NoError(t, err)
	handler, err := NewSearchHandler(ctx, cfg, client, transformer, NewAggregator(ModeDefault))
	require.NoError(t, err)

	records := []stream.Record{
		labelAdd(1, 0, "151", "Person"),
		propertyAdd(1, 1, "151", "name", "Alice", "String"),
	}
	batch := &stream.Batch{
		Records:      records,
		LastEventID:  stream.EventID{CommitNum: 1, OpNum: 1},
		TotalRecords: len(records),
	}

	_, err = handler.HandleRecords(ctx, batch)
	require.NoError(t, err)

	documentID := DocumentID(Envelope{Record: records[0]})
	first, status := fetchDocument(t, endpoint, documentID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "151", first[db.FieldEntityID])
	assert.Equal(t, []any{"Person"}, first[db.FieldEntityType])

	// Applying the same batch again must not change the document.
	_, err = handler.HandleRecords(ctx, batch)
	require.NoError(t, err)
	second, status := fetchDocument(t, endpoint, documentID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first, second)

	// Removing every field reduces the document to entity_id plus
	// document_type, which deletes it outright.
	var removes []stream.Record
	for i, record := range records {
		record.Op = stream.OpRemove
		record.EventID = stream.EventID{CommitNum: 2, OpNum: int64(i)}
		removes = append(removes, record)
	}
	removeBatch := &stream.Batch{
		Records:      removes,
		LastEventID:  stream.EventID{CommitNum: 2, OpNum: 1},
		TotalRecords: len(removes),
	}

	_, err = handler.HandleRecords(ctx, removeBatch)
	require.NoError(t, err)
	_, status = fetchDocument(t, endpoint, documentID)
	assert.Equal(t, http.StatusNotFound, status)

	// A duplicate removal is safe as well.
	_, err = handler.HandleRecords(ctx, removeBatch)
	require.NoError(t, err)
}
