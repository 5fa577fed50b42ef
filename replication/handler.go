package replication

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

// HandlerResponse reports the outcome of handling one stream batch.
type HandlerResponse struct {
	LastOpNum        int64
	LastCommitNum    int64
	RecordsProcessed int
}

// Handler processes one batch of stream records into the search index.
type Handler interface {
	HandleRecords(ctx context.Context, batch *stream.Batch) (*HandlerResponse, error)
}

// SearchHandler replicates stream records into the search index. Records
// are filtered and projected by the configured transformer, coalesced by
// the aggregator, and applied through the bulk endpoint with the idempotent
// add/drop scripts. The mapping cache is fetched fresh for every batch:
// concurrent cycles resolve mapping races by re-reading the server's view.
type SearchHandler struct {
	client        *db.SearchClient
	transformer   Transformer
	aggregator    *Aggregator
	geoFields     []string
	ignoreMissing bool
}

// NewSearchHandler creates the handler and performs the initial search
// engine setup: version gate and index creation.
func NewSearchHandler(ctx context.Context, cfg *config.Provider, client *db.SearchClient, transformer Transformer, aggregator *Aggregator) (*SearchHandler, error) {
	if err := client.ValidateVersion(ctx); err != nil {
		return nil, err
	}
	common.Logger.Info("Trying to create index for search engine")
	if err := client.EnsureIndex(ctx, cfg.NumberOfShards(), cfg.NumberOfReplica()); err != nil {
		return nil, err
	}

	return &SearchHandler{
		client:        client,
		transformer:   transformer,
		aggregator:    aggregator,
		geoFields:     cfg.GeoLocationFields(),
		ignoreMissing: cfg.IgnoreMissingDocument(),
	}, nil
}

// HandleRecords implements Handler.
func (h *SearchHandler) HandleRecords(ctx context.Context, batch *stream.Batch) (*HandlerResponse, error) {
	registry, err := h.client.FetchMappings(ctx)
	if err != nil {
		return nil, err
	}
	if err := registry.EnsureGeoPointMappings(ctx, h.geoFields); err != nil {
		return nil, err
	}

	filtered, err := h.transformer.Filter(ctx, batch.Records, registry)
	if err != nil {
		return nil, err
	}

	actions, err := h.buildActions(filtered)
	if err != nil {
		return nil, err
	}

	common.Logger.WithFields(map[string]interface{}{
		"commitNum": batch.LastEventID.CommitNum,
		"opNum":     batch.LastEventID.OpNum,
	}).Info("Doing bulk update for search engine using stream records")
	if err := h.execute(ctx, actions, true); err != nil {
		return nil, err
	}

	return &HandlerResponse{
		LastOpNum:        batch.LastEventID.OpNum,
		LastCommitNum:    batch.LastEventID.CommitNum,
		RecordsProcessed: batch.TotalRecords,
	}, nil
}

// buildActions turns aggregated entries into bulk actions: one scripted
// update per 50-record sub-run, keyed by the run's document id, with an
// upsert body where the action plan asks for one.
func (h *SearchHandler) buildActions(filtered []Envelope) ([]db.BulkAction, error) {
	var actions []db.BulkAction
	for _, entry := range h.aggregator.Aggregate(filtered) {
		for _, run := range entry.Runs {
			plan, ok := h.transformer.Plan(run.Op)
			if !ok {
				return nil, &UnsupportedOperationError{Operation: run.Op}
			}
			for _, chunk := range common.SplitChunks(run.Records, AggregateQuerySize) {
				action := db.BulkAction{
					OpType: db.BulkOpUpdate,
					ID:     DocumentID(chunk[0]),
					Script: h.scriptFor(plan.ScriptOp, chunk),
				}
				if plan.Upsert {
					action.Upsert = h.transformer.UpsertBody(chunk)
				}
				actions = append(actions, action)
			}
		}
	}
	return actions, nil
}

func (h *SearchHandler) scriptFor(scriptOp string, chunk []Envelope) *db.Script {
	source := AddFieldScript
	if scriptOp == stream.OpRemove {
		source = DropFieldScript
	}

	params := make([]any, 0, len(chunk))
	for _, env := range chunk {
		params = append(params, map[string]any{
			"key":   h.transformer.FieldKey(env),
			"value": h.transformer.FieldValue(env),
		})
	}
	return &db.Script{
		Source: source,
		Lang:   "painless",
		Params: map[string]any{"predicates": params},
	}
}

// execute runs the bulk actions. Transport-level failures retry with
// exponential backoff (1s, 2s, 4s, 8s, 16s, five attempts). When the strict
// pass fails with a missing-document error and missing documents are
// tolerated, the same actions are re-sent in tolerant mode, which accepts
// 404 document_missing_exception items and nothing else. Any other partial
// failure is fatal for the cycle.
func (h *SearchHandler) execute(ctx context.Context, actions []db.BulkAction, raiseOnError bool) error {
	if len(actions) == 0 {
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.RandomizationFactor = 0
	expBackoff.Multiplier = 2
	expBackoff.MaxInterval = 16 * time.Second

	operation := func() (struct{}, error) {
		succeeded, itemErrors, err := h.client.Bulk(ctx, actions)
		if err != nil {
			common.Logger.WithError(err).Info("Transport error during bulk update, retrying")
			return struct{}{}, err
		}

		if len(itemErrors) == 0 {
			common.Logger.WithField("success", succeeded).Info("Completed search engine bulk query")
			return struct{}{}, nil
		}

		if raiseOnError {
			if h.ignoreMissing && itemErrors[0].IsMissingDocument() {
				common.Logger.Info("Retrying after ignoring document missing exception")
				if err := h.execute(ctx, actions, false); err != nil {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, nil
			}
			return struct{}{}, backoff.Permanent(&db.BulkError{Items: itemErrors})
		}

		// Tolerant pass: every error must be a missing document.
		var hardErrors []db.BulkItemError
		for _, itemError := range itemErrors {
			if !itemError.IsMissingDocument() {
				hardErrors = append(hardErrors, itemError)
			}
		}
		if len(hardErrors) > 0 {
			return struct{}{}, backoff.Permanent(&db.BulkError{Items: hardErrors})
		}
		common.Logger.WithFields(map[string]interface{}{
			"success":        succeeded,
			"ignoredMissing": len(itemErrors),
		}).Info("Completed search engine bulk query after ignoring missing document exceptions")
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(expBackoff), backoff.WithMaxTries(5))
	return err
}

// UnsupportedOperationError reports a run operation no action plan exists
// for. It indicates a record type the selected transformer cannot handle.
type UnsupportedOperationError struct {
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return "no query builder registered for operation " + e.Operation
}
