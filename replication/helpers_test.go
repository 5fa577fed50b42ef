package replication

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
)

// fakeSearch is an in-process stand-in for the search engine: it answers
// the info, index, mapping and bulk endpoints and records every bulk
// request it receives.
type fakeSearch struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	mappings    map[string]any
	putMappings []map[string]any
	bulkCalls   [][]map[string]any

	// bulkItems, when set, produces the per-call bulk response items;
	// the call index starts at 0. The default answers success for every
	// action.
	bulkItems func(call int, lines []map[string]any) []any
}

func newFakeSearch(t *testing.T) *fakeSearch {
	f := &fakeSearch{t: t, mappings: map[string]any{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"version": map[string]any{"number": "2.11.0", "distribution": "opensearch"},
		})
	})
	mux.HandleFunc("/"+db.SearchIndex, func(w http.ResponseWriter, r *http.Request) {
		// Index exists; setup skips creation.
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/"+db.SearchIndex+"/_mapping", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(f.mappings)
		case http.MethodPut:
			var body map[string]any
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.putMappings = append(f.putMappings, body)
			w.Write([]byte(`{"acknowledged":true}`))
		}
	})
	mux.HandleFunc("/"+db.SearchIndex+"/_bulk", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)
		lines := parseNDJSON(f.t, body)

		f.mu.Lock()
		call := len(f.bulkCalls)
		f.bulkCalls = append(f.bulkCalls, lines)
		itemsFn := f.bulkItems
		f.mu.Unlock()

		var items []any
		if itemsFn != nil {
			items = itemsFn(call, lines)
		} else {
			items = successItems(lines)
		}
		json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSearch) client() *db.SearchClient {
	return db.NewSearchClient(f.server.URL)
}

func (f *fakeSearch) calls() [][]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bulkCalls
}

// actionsOf extracts the metadata lines of one recorded bulk call.
func actionsOf(call []map[string]any) []map[string]any {
	var metas []map[string]any
	for _, line := range call {
		if _, ok := line["update"]; ok {
			metas = append(metas, line)
		} else if _, ok := line["delete"]; ok {
			metas = append(metas, line)
		}
	}
	return metas
}

func successItems(lines []map[string]any) []any {
	var items []any
	for _, line := range lines {
		if meta, ok := line["update"].(map[string]any); ok {
			items = append(items, map[string]any{"update": map[string]any{"_id": meta["_id"], "status": 200}})
		} else if meta, ok := line["delete"].(map[string]any); ok {
			items = append(items, map[string]any{"delete": map[string]any{"_id": meta["_id"], "status": 200}})
		}
	}
	return items
}

func missingDocumentItems(call int, lines []map[string]any) []any {
	var items []any
	for _, line := range lines {
		if meta, ok := line["update"].(map[string]any); ok {
			items = append(items, map[string]any{"update": map[string]any{
				"_id": meta["_id"], "status": 404,
				"error": map[string]any{"type": "document_missing_exception", "reason": "document missing"},
			}})
		}
	}
	return items
}

func parseNDJSON(t *testing.T, body []byte) []map[string]any {
	var lines []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func testProvider(handlerName string, params map[string]string) *config.Provider {
	if params == nil {
		params = map[string]string{}
	}
	return &config.Provider{
		Region:                 "us-east-1",
		ApplicationName:        "test-app",
		LeaseTableName:         "test-lease",
		StreamEndpoint:         "https://db.example.com:8182/gremlin/stream",
		HandlerName:            handlerName,
		StreamRecordsBatchSize: 100,
		MaxPollingWaitTime:     10 * time.Second,
		MaxPollingInterval:     600 * time.Second,
		LoggingLevel:           "info",
		LogFormat:              "text",
		HandlerParams:          params,
	}
}
