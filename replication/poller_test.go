package replication

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/db/bolt"
	"neptunesearch.evalgo.org/stream"
)

// recordingSink captures published counters for assertions.
type recordingSink struct {
	mu        sync.Mutex
	processed []int
	lags      []time.Duration
}

func (s *recordingSink) PublishRecordsProcessed(_ context.Context, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, count)
	return nil
}

func (s *recordingSink) PublishStreamLag(_ context.Context, lag time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lags = append(s.lags, lag)
	return nil
}

// fakeStream serves one batch for the first read and end-of-stream after.
func fakeStream(t *testing.T, batches []*stream.Batch) *stream.Reader {
	var mu sync.Mutex
	served := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if served >= len(batches) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(batches[served])
		served++
	}))
	t.Cleanup(server.Close)

	reader, err := stream.NewReader(server.URL+"/gremlin/stream", nil)
	require.NoError(t, err)
	return reader
}

func newBoltStore(t *testing.T) db.LeaseStore {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newPoller(t *testing.T, cfg *config.Provider, store db.LeaseStore, reader *stream.Reader, fake *fakeSearch, sink *recordingSink) *Poller {
	transformer, err := NewTransformer(cfg)
	require.NoError(t, err)
	handler, err := NewSearchHandler(context.Background(), cfg, fake.client(), transformer, NewAggregator(ModeDefault))
	require.NoError(t, err)
	processor := NewProcessor(reader, handler, sink, cfg.StreamRecordsBatchSize)
	return NewPoller(cfg, store, processor)
}

func TestPollCycleEmptyStream(t *testing.T) {
	cfg := testProvider(config.HandlerGremlin, nil)
	store := newBoltStore(t)
	sink := &recordingSink{}
	poller := newPoller(t, cfg, store, fakeStream(t, nil), newFakeSearch(t), sink)

	output, err := poller.RunPollCycle(context.Background(), CycleInput{Iterator: Iterator{Index: 0, Count: 3}})
	require.NoError(t, err)

	assert.Equal(t, 1, output.Index)
	assert.True(t, output.Continue)
	assert.Equal(t, 3, output.Count)
	assert.Equal(t, 1, output.WaitTime)

	// Zero-valued counters are emitted for an empty stream.
	assert.Equal(t, []int{0}, sink.processed)
	assert.Equal(t, []time.Duration{0}, sink.lags)

	// The lease was created lazily and released on exit.
	lease, err := store.Get(context.Background(), cfg.ApplicationName)
	require.NoError(t, err)
	assert.Equal(t, db.LeaseOwnerNobody, lease.LeaseOwner)
}

func TestPollCycleProcessesAndCheckpoints(t *testing.T) {
	cfg := testProvider(config.HandlerGremlin, nil)
	store := newBoltStore(t)
	sink := &recordingSink{}
	fake := newFakeSearch(t)

	batch := &stream.Batch{
		Records:          []stream.Record{labelAdd(5, 0, "151", "Person")},
		LastEventID:      stream.EventID{CommitNum: 5, OpNum: 0},
		LastTrxTimestamp: time.Now().UnixMilli() - 250,
		TotalRecords:     1,
	}
	poller := newPoller(t, cfg, store, fakeStream(t, []*stream.Batch{batch}), fake, sink)

	output, err := poller.RunPollCycle(context.Background(), CycleInput{Iterator: Iterator{Index: 2, Count: 10}})
	require.NoError(t, err)

	assert.Equal(t, 3, output.Index)
	assert.True(t, output.Continue)
	// Records were found, then the stream drained: the empty poll starts
	// the wait-time backoff at one second.
	assert.Equal(t, 1, output.WaitTime)

	// The checkpoint advanced to the last processed event.
	lease, err := store.Get(context.Background(), cfg.ApplicationName)
	require.NoError(t, err)
	assert.Equal(t, int64(5), lease.Checkpoint)
	assert.Equal(t, int64(0), lease.CheckpointSubSequenceNumber)
	assert.Equal(t, db.LeaseOwnerNobody, lease.LeaseOwner)

	// One processed batch, then the zero marker of the empty poll.
	assert.Equal(t, []int{1, 0}, sink.processed)
	require.Len(t, fake.calls(), 1)
}

func TestPollCycleLeaseBusy(t *testing.T) {
	cfg := testProvider(config.HandlerGremlin, nil)
	store := newBoltStore(t)

	// Another runner holds the lease.
	ctx := context.Background()
	require.NoError(t, store.CreateIfAbsent(ctx, cfg.ApplicationName))
	_, err := store.Take(ctx, cfg.ApplicationName, "other-runner")
	require.NoError(t, err)

	poller := newPoller(t, cfg, store, fakeStream(t, nil), newFakeSearch(t), &recordingSink{})

	_, err = poller.RunPollCycle(ctx, CycleInput{Iterator: Iterator{Index: 0, Count: 1}})
	assert.ErrorIs(t, err, db.ErrLeaseBusy)

	// The foreign lease is untouched.
	lease, err := store.Get(ctx, cfg.ApplicationName)
	require.NoError(t, err)
	assert.Equal(t, "other-runner", lease.LeaseOwner)
}

func TestPollCycleEvictsLeaseOnError(t *testing.T) {
	cfg := testProvider(config.HandlerGremlin, nil)
	store := newBoltStore(t)
	fake := newFakeSearch(t)

	// A gap in the stream aborts the cycle.
	gappy := &stream.Batch{
		Records: []stream.Record{
			labelAdd(10, 0, "1", "A"),
			labelAdd(13, 0, "2", "B"),
		},
		LastEventID:  stream.EventID{CommitNum: 13, OpNum: 0},
		TotalRecords: 2,
	}
	poller := newPoller(t, cfg, store, fakeStream(t, []*stream.Batch{gappy}), fake, &recordingSink{})

	_, err := poller.RunPollCycle(context.Background(), CycleInput{Iterator: Iterator{Index: 0, Count: 1}})
	require.Error(t, err)
	var gapErr *stream.GapError
	assert.ErrorAs(t, err, &gapErr)

	// Eviction runs even when the cycle fails.
	lease, err := store.Get(context.Background(), cfg.ApplicationName)
	require.NoError(t, err)
	assert.Equal(t, db.LeaseOwnerNobody, lease.LeaseOwner)
}

func TestPollCycleContinuesFromCheckpoint(t *testing.T) {
	cfg := testProvider(config.HandlerGremlin, nil)
	store := newBoltStore(t)

	ctx := context.Background()
	require.NoError(t, store.CreateIfAbsent(ctx, cfg.ApplicationName))
	taken, err := store.Take(ctx, cfg.ApplicationName, "seed")
	require.NoError(t, err)
	require.NoError(t, store.Advance(ctx, cfg.ApplicationName, "seed", 7, 3))
	require.NoError(t, store.Evict(ctx, cfg.ApplicationName, taken.LeaseOwner))

	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"iteratorType": r.URL.Query().Get("iteratorType"),
			"commitNum":    r.URL.Query().Get("commitNum"),
			"opNum":        r.URL.Query().Get("opNum"),
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	reader, err := stream.NewReader(server.URL+"/gremlin/stream", nil)
	require.NoError(t, err)

	poller := newPoller(t, cfg, store, reader, newFakeSearch(t), &recordingSink{})
	_, err = poller.RunPollCycle(ctx, CycleInput{Iterator: Iterator{Index: 0, Count: 1}})
	require.NoError(t, err)

	assert.Equal(t, stream.IteratorAfterSequenceNumber, gotQuery["iteratorType"])
	assert.Equal(t, "7", gotQuery["commitNum"])
	assert.Equal(t, "3", gotQuery["opNum"])
}
