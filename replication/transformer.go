package replication

import (
	"context"
	"fmt"

	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

// ActionPlan describes how one run operation maps onto a bulk action: which
// script applies and whether the action carries an upsert body.
type ActionPlan struct {
	ScriptOp string // stream.OpAdd or stream.OpRemove
	Upsert   bool
}

// Transformer is the per-query-language capability set: it filters change
// records against configuration and the mapping registry, projects records
// to search document field mutations, and assembles upsert bodies. Variants
// exist for property-graph and RDF data, each with a string-only flavor;
// selection happens once at construction.
type Transformer interface {
	// Filter drops records that must not reach the index (excluded
	// properties or types, invalid values, mapping conflicts) and resolves
	// the search type for the rest. A filtered-out record produces no
	// search engine action.
	Filter(ctx context.Context, records []stream.Record, registry *db.MappingRegistry) ([]Envelope, error)

	// FieldKey projects a record to its search document field key.
	FieldKey(env Envelope) string

	// FieldValue projects a record to its search document field value:
	// a bare string for entity types, a value object otherwise.
	FieldValue(env Envelope) any

	// UpsertBody assembles a fully-formed search document from one run of
	// records, inserted when no document exists to update.
	UpsertBody(records []Envelope) map[string]any

	// Plan resolves a run operation (ADD_vl, REMOVE, ...) to its action
	// plan. The second return is false for unsupported operations.
	Plan(operation string) (ActionPlan, bool)
}

// NewTransformer selects the transformer variant from configuration: the
// handler name picks the query language, and disabling non-string indexing
// (or naming a string-only handler) selects the string-only flavor.
func NewTransformer(cfg *config.Provider) (Transformer, error) {
	stringOnly := !cfg.NonStringIndexing()
	switch cfg.HandlerName {
	case config.HandlerGremlin:
		return NewGremlinTransformer(cfg, stringOnly), nil
	case config.HandlerGremlinStringOnly:
		return NewGremlinTransformer(cfg, true), nil
	case config.HandlerSparql:
		return NewSparqlTransformer(cfg, stringOnly), nil
	case config.HandlerSparqlStringOnly:
		return NewSparqlTransformer(cfg, true), nil
	default:
		return nil, fmt.Errorf("unknown stream records handler %q", cfg.HandlerName)
	}
}
