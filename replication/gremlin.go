package replication

import (
	"context"
	"errors"
	"strings"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

// labelKey is the property key carrying vertex and edge labels in
// property-graph change records. Labels project onto entity_type to unify
// the document model with RDF data.
const labelKey = "label"

// GremlinTransformer maps property-graph change records onto search
// document mutations. Each document represents a vertex or an edge and
// carries its labels in entity_type and its properties as value-object
// lists under predicates. In string-only mode every non-string property is
// dropped and values are stored without datatype annotations.
type GremlinTransformer struct {
	cfg           *config.Provider
	stringOnly    bool
	dropEdges     bool
	ignoreMissing bool
}

// NewGremlinTransformer creates the property-graph transformer.
func NewGremlinTransformer(cfg *config.Provider, stringOnly bool) *GremlinTransformer {
	return &GremlinTransformer{
		cfg:           cfg,
		stringOnly:    stringOnly,
		dropEdges:     cfg.DropEdges(),
		ignoreMissing: cfg.IgnoreMissingDocument(),
	}
}

// Plan implements Transformer. Property additions upsert only when missing
// host documents are tolerated, so a property add can create the document.
func (t *GremlinTransformer) Plan(operation string) (ActionPlan, bool) {
	switch operation {
	case "ADD_vl", "ADD_e":
		return ActionPlan{ScriptOp: stream.OpAdd, Upsert: true}, true
	case "ADD_vp", "ADD_ep":
		return ActionPlan{ScriptOp: stream.OpAdd, Upsert: t.ignoreMissing}, true
	case "REMOVE_vl", "REMOVE_vp", "REMOVE_e", "REMOVE_ep":
		return ActionPlan{ScriptOp: stream.OpRemove}, true
	default:
		return ActionPlan{}, false
	}
}

// Filter implements Transformer.
func (t *GremlinTransformer) Filter(ctx context.Context, records []stream.Record, registry *db.MappingRegistry) ([]Envelope, error) {
	if t.stringOnly {
		return t.filterStringOnly(records), nil
	}

	excludedTypes := t.cfg.ExcludedDatatypes(db.ValidGremlinTypes)
	excludedProperties := t.cfg.ExcludedProperties()

	var out []Envelope
	for _, record := range records {
		data := record.Data

		if t.dropEdges && (data.Type == stream.TypeEdge || data.Type == stream.TypeEdgeProperty) {
			dropRecord(record, "edge updates not needed to process")
			continue
		}

		if data.Type != stream.TypeVertexProperty && data.Type != stream.TypeEdgeProperty {
			out = append(out, Envelope{Record: record})
			continue
		}

		recordType := data.Value.DataType
		recordValue := data.Value.Value
		recordKey := data.Key

		if !db.IsKnownSourceType(recordType) {
			dropRecord(record, "data type is not a valid property-graph type")
			continue
		}

		// Date values arrive as epoch milliseconds; validation below runs
		// against the ISO rendering so the long value is never mistaken
		// for a textual date.
		if strings.EqualFold(recordType, db.TypeDate) {
			recordValue = convertMillisValue(recordValue)
		}

		if excludedProperties[strings.TrimSpace(recordKey)] {
			dropRecord(record, "property name found in indicated properties to exclude")
			continue
		}
		if excludedTypes[strings.ToLower(strings.TrimSpace(recordType))] {
			dropRecord(record, "property type found in indicated datatypes to exclude")
			continue
		}

		mappedType := registry.TypeFor(recordKey)
		if mappedType == "" {
			createdType, err := registry.Create(ctx, recordKey, recordType)
			if err != nil {
				if errors.Is(err, db.ErrMappingConflict) {
					dropRecord(record, "property value does not match index type mapping")
					continue
				}
				return nil, err
			}
			out = append(out, Envelope{Record: record, SearchType: createdType})
			continue
		}

		if db.ValidateValue(recordValue, mappedType) {
			out = append(out, Envelope{Record: record, SearchType: mappedType})
		} else {
			dropRecord(record, "property type does not match indexed type mapping")
		}
	}
	return out, nil
}

// filterStringOnly keeps label records and string-typed properties only.
func (t *GremlinTransformer) filterStringOnly(records []stream.Record) []Envelope {
	var out []Envelope
	for _, record := range records {
		data := record.Data
		if t.dropEdges && (data.Type == stream.TypeEdge || data.Type == stream.TypeEdgeProperty) {
			dropRecord(record, "edge updates not needed to process")
			continue
		}
		if (data.Type == stream.TypeVertexProperty || data.Type == stream.TypeEdgeProperty) &&
			!strings.EqualFold(data.Value.DataType, db.TypeString) {
			dropRecord(record, "property value is not string")
			continue
		}
		out = append(out, Envelope{Record: record})
	}
	return out
}

// FieldKey implements Transformer. Labels resolve to entity_type.
func (t *GremlinTransformer) FieldKey(env Envelope) string {
	if env.Record.Data.Key == labelKey {
		return db.FieldEntityType
	}
	return env.Record.Data.Key
}

// FieldValue implements Transformer. Labels project to a bare string;
// properties project to a value object, with the source datatype attached
// unless it is string.
func (t *GremlinTransformer) FieldValue(env Envelope) any {
	data := env.Record.Data

	if data.Key == labelKey {
		return db.Stringify(data.Value.Value)
	}

	if t.stringOnly {
		value := data.Value.Value
		if strings.EqualFold(data.Value.DataType, db.TypeDate) {
			value = convertMillisValue(value)
		}
		return map[string]any{"value": db.Stringify(value)}
	}

	esType := env.SearchType
	if esType == "" {
		esType = db.TypeString
	}
	converted := db.ConvertToSearchValue(esType, data.Value.Value)
	if strings.EqualFold(data.Value.DataType, db.TypeString) {
		return map[string]any{"value": converted}
	}
	return map[string]any{"value": converted, "datatype": data.Value.DataType}
}

// UpsertBody implements Transformer.
func (t *GremlinTransformer) UpsertBody(records []Envelope) map[string]any {
	first := records[0].Record.Data
	documentType := db.DocumentTypeEdge
	if first.Type == stream.TypeVertexLabel || first.Type == stream.TypeVertexProperty {
		documentType = db.DocumentTypeVertex
	}

	doc := map[string]any{
		db.FieldEntityID:     first.ID,
		db.FieldDocumentType: documentType,
	}
	for _, env := range records {
		appendField(doc, t.FieldKey(env), t.FieldValue(env))
	}
	return doc
}

// convertMillisValue renders an epoch-milliseconds value as an ISO string.
// Integral numbers and integral numeric strings are read as epoch
// milliseconds; other strings that parse as a date are re-rendered in the
// same ISO layout; anything else passes through unchanged.
func convertMillisValue(value any) any {
	converted := db.ConvertToSearchValue(db.TypeDate, value)
	return converted
}

// appendField accumulates a projected field into an upsert document:
// entity types collect in a top-level list, everything else in per-key
// lists under predicates.
func appendField(doc map[string]any, key string, value any) {
	if key == db.FieldEntityType {
		list, _ := doc[db.FieldEntityType].([]any)
		doc[db.FieldEntityType] = append(list, value)
		return
	}
	predicates, ok := doc[db.FieldPredicates].(map[string]any)
	if !ok {
		predicates = map[string]any{}
		doc[db.FieldPredicates] = predicates
	}
	list, _ := predicates[key].([]any)
	predicates[key] = append(list, value)
}

// dropRecord logs one filtered-out record at debug level.
func dropRecord(record stream.Record, reason string) {
	common.Logger.WithFields(map[string]interface{}{
		"commitNum": record.EventID.CommitNum,
		"opNum":     record.EventID.OpNum,
	}).Debugf("Dropping record: %s", reason)
}
