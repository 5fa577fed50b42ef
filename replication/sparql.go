package replication

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/stream"
)

// SparqlTransformer maps RDF change records onto search document mutations.
// All statements about one subject land in a single document: objects of
// rdf:type statements collect in entity_type, every other predicate keeps
// its objects as value objects under predicates, annotated with datatype
// IRI, named graph and language tag where present. In string-only mode only
// plain and string-typed literals are replicated.
type SparqlTransformer struct {
	cfg        *config.Provider
	stringOnly bool
}

// NewSparqlTransformer creates the RDF transformer.
func NewSparqlTransformer(cfg *config.Provider, stringOnly bool) *SparqlTransformer {
	return &SparqlTransformer{cfg: cfg, stringOnly: stringOnly}
}

// Plan implements Transformer. Statement additions always upsert: the
// subject document is created on first touch.
func (t *SparqlTransformer) Plan(operation string) (ActionPlan, bool) {
	switch operation {
	case stream.OpAdd:
		return ActionPlan{ScriptOp: stream.OpAdd, Upsert: true}, true
	case stream.OpRemove:
		return ActionPlan{ScriptOp: stream.OpRemove}, true
	default:
		return ActionPlan{}, false
	}
}

// Filter implements Transformer. A statement that fails to parse aborts the
// cycle: malformed stream content is not recoverable by retrying.
func (t *SparqlTransformer) Filter(ctx context.Context, records []stream.Record, registry *db.MappingRegistry) ([]Envelope, error) {
	excludedTypes := t.cfg.ExcludedDatatypes(db.ValidSparqlTypes)
	excludedProperties := t.cfg.ExcludedProperties()

	var out []Envelope
	for _, record := range records {
		statement, err := stream.ParseNQuad(record.Data.Stmt)
		if err != nil {
			return nil, err
		}
		env := Envelope{Record: record, Statement: statement}

		if statement.Subject.IsBlank() {
			dropRecord(record, "rdf resource is represented by a blank node")
			continue
		}
		if statement.Predicate.Value == stream.RDFType {
			out = append(out, env)
			continue
		}

		object := statement.Object
		if !object.IsLiteral() {
			dropRecord(record, "rdf object value is not a literal")
			continue
		}

		if t.stringOnly {
			if object.Datatype != "" && object.Datatype != stream.XSDPrefix+"string" && object.Datatype != stream.RDFLangString {
				dropRecord(record, "rdf object value is not a string literal")
				continue
			}
			out = append(out, env)
			continue
		}

		objectKey := statement.Predicate.Value
		objectValue := object.Value
		datatypeToken := strings.ToLower(strings.TrimSpace(object.DatatypeToken()))

		if excludedProperties[strings.TrimSpace(objectKey)] {
			dropRecord(record, "property name found in indicated properties to exclude")
			continue
		}
		if excludedTypes[datatypeToken] {
			dropRecord(record, "property type found in indicated datatypes to exclude")
			continue
		}
		if datatypeToken == db.TypeString && object.Language != "" && !db.ValidateLanguageTag(object.Language) {
			dropRecord(record, "string literal has an invalid language tag")
			continue
		}
		if datatypeToken == db.TypeFloat || datatypeToken == db.TypeDouble || datatypeToken == db.TypeDecimal {
			if f, err := strconv.ParseFloat(objectValue, 64); err == nil && (math.IsInf(f, 0) || math.IsNaN(f)) {
				dropRecord(record, "float literal does not have a finite value")
				continue
			}
		}

		mappedType := registry.TypeFor(objectKey)
		if mappedType == "" {
			esType := db.SearchTypeForSourceType(datatypeToken)
			if !db.ValidateValue(objectValue, esType) {
				dropRecord(record, "property value invalid for property type")
				continue
			}
			createdType, err := registry.Create(ctx, objectKey, datatypeToken)
			if err != nil {
				if errors.Is(err, db.ErrMappingConflict) {
					dropRecord(record, "property value does not match index type mapping")
					continue
				}
				return nil, err
			}
			env.SearchType = createdType
			out = append(out, env)
			continue
		}

		if db.ValidateValue(objectValue, mappedType) {
			env.SearchType = mappedType
			out = append(out, env)
		} else {
			dropRecord(record, "property type does not match indexed type mapping")
		}
	}
	return out, nil
}

// FieldKey implements Transformer. rdf:type resolves to entity_type, every
// other predicate keeps its IRI as the field key.
func (t *SparqlTransformer) FieldKey(env Envelope) string {
	if env.Statement.Predicate.Value == stream.RDFType {
		return db.FieldEntityType
	}
	return env.Statement.Predicate.Value
}

// FieldValue implements Transformer. rdf:type objects project to the bare
// IRI; literals project to a value object with optional datatype, named
// graph and language annotations.
func (t *SparqlTransformer) FieldValue(env Envelope) any {
	statement := env.Statement
	if statement.Predicate.Value == stream.RDFType {
		return statement.Object.Value
	}

	object := statement.Object
	var value map[string]any

	if !t.stringOnly && object.Datatype != "" {
		esType := env.SearchType
		if esType == "" {
			esType = db.TypeString
		}
		value = map[string]any{
			"value":    db.ConvertToSearchValue(esType, object.Value),
			"datatype": object.Datatype,
		}
	} else {
		value = map[string]any{"value": object.Value}
	}

	if statement.Graph != nil {
		value["graph"] = statement.Graph.Value
	}
	if object.Language != "" {
		if t.stringOnly || db.ValidateLanguageTag(object.Language) {
			value["language"] = object.Language
		}
	}
	return value
}

// UpsertBody implements Transformer.
func (t *SparqlTransformer) UpsertBody(records []Envelope) map[string]any {
	doc := map[string]any{
		db.FieldEntityID:     records[0].Statement.Subject.Value,
		db.FieldDocumentType: db.DocumentTypeRDFResource,
	}
	for _, env := range records {
		appendField(doc, t.FieldKey(env), t.FieldValue(env))
	}
	return doc
}
