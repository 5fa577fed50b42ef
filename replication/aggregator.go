package replication

import (
	"fmt"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/stream"
)

// AggregateQuerySize bounds how many record payloads feed a single bulk
// action; larger runs are split into sub-runs of this size.
const AggregateQuerySize = 50

// Aggregator modes.
const (
	// ModeDefault coalesces records only within one source transaction,
	// preserving cross-document transaction boundaries.
	ModeDefault = "default"

	// ModeOptimized coalesces records across transactions for throughput.
	// This can reorder effects visible to different documents: given
	// T1={add V1, add V2} and T2={add prop to V1, add prop to V2}, the
	// bundled V1 mutations may apply before V2 exists. Accepted trade-off
	// in this mode.
	ModeOptimized = "optimized"
)

// Run is a maximal contiguous subsequence of one aggregation entry sharing
// a single operation. Order within a run preserves arrival order.
type Run struct {
	Op      string
	Records []Envelope
}

// Entry is the ordered list of runs for one aggregation key.
type Entry struct {
	Key  string
	Runs []*Run
}

// Aggregator folds many small change records into per-key bundles so a
// single scripted update covers a whole bundle. Entries keep first-touch
// insertion order; within an entry a new run opens whenever the operation
// changes, which preserves the add/remove ordering on each key.
type Aggregator struct {
	mode string
}

// NewAggregator creates an aggregator in the given mode.
func NewAggregator(mode string) *Aggregator {
	if mode != ModeOptimized {
		mode = ModeDefault
	}
	return &Aggregator{mode: mode}
}

// Aggregate bundles the filtered records into ordered entries.
func (a *Aggregator) Aggregate(records []Envelope) []*Entry {
	common.Logger.Debug("Aggregating stream records for optimization")

	var entries []*Entry
	index := map[string]*Entry{}

	for _, env := range records {
		operation := operationType(env.Record)
		key := a.entryKey(env)

		entry, ok := index[key]
		if !ok {
			entry = &Entry{Key: key}
			index[key] = entry
			entries = append(entries, entry)
		}

		if len(entry.Runs) == 0 || entry.Runs[len(entry.Runs)-1].Op != operation {
			entry.Runs = append(entry.Runs, &Run{Op: operation})
		}
		run := entry.Runs[len(entry.Runs)-1]
		run.Records = append(run.Records, env)
	}
	return entries
}

// entryKey derives the aggregation key. Optimized mode keys by document id
// alone and so coalesces across transactions; default mode scopes the key
// to the commit number.
func (a *Aggregator) entryKey(env Envelope) string {
	documentID := DocumentID(env)
	if a.mode == ModeDefault {
		return fmt.Sprintf("%d_%s", env.Record.EventID.CommitNum, documentID)
	}
	return documentID
}

// operationType combines operation and record type for property-graph
// records (ADD_vl, REMOVE_ep, ...); RDF records use the bare operation.
func operationType(record stream.Record) string {
	if record.Data.Type != "" {
		return record.Op + "_" + record.Data.Type
	}
	return record.Op
}
