package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"neptunesearch.evalgo.org/common"
)

// ErrMappingConflict reports that a field mapping with a conflicting type
// was created concurrently by another cycle. The registry refreshes its
// cache from the server before returning this error; the record that
// triggered the create is dropped.
var ErrMappingConflict = errors.New("conflicting field mapping already exists in index")

// MappingRegistry tracks the search index type of every predicates.* field
// and creates new mappings on demand. Each poll cycle fetches a fresh
// registry: the cache is deliberately per-cycle so that the refresh-on-
// conflict strategy can rely on the server as ground truth.
type MappingRegistry struct {
	client   *SearchClient
	mappings map[string]any
}

// FetchMappings reads the current index mappings into a new registry.
func (c *SearchClient) FetchMappings(ctx context.Context) (*MappingRegistry, error) {
	mappings, err := c.getMappings(ctx)
	if err != nil {
		return nil, err
	}
	return &MappingRegistry{client: c, mappings: mappings}, nil
}

// Refresh re-reads the mappings from the server.
func (r *MappingRegistry) Refresh(ctx context.Context) error {
	mappings, err := r.client.getMappings(ctx)
	if err != nil {
		return err
	}
	r.mappings = mappings
	return nil
}

// TypeFor returns the search engine type mapped for a predicate field, or
// the empty string when no mapping exists. Dotted field names resolve as
// nested property paths.
func (r *MappingRegistry) TypeFor(field string) string {
	predicates := r.predicateProperties()
	if predicates == nil {
		return ""
	}

	// Dotted predicate names are usually stored as nested properties; a
	// field created through this registry is cached flat under its full
	// name, so fall back to a direct lookup when the walk misses.
	if fieldType := typeAtPath(predicates, strings.Split(field, ".")); fieldType != "" {
		return fieldType
	}
	return typeAtPath(predicates, []string{field})
}

func typeAtPath(predicates map[string]any, tokens []string) string {
	current := predicates
	for _, token := range tokens {
		next, ok := childMap(current, token)
		if !ok {
			return ""
		}
		properties, ok := childMap(next, "properties")
		if !ok {
			return ""
		}
		current = properties
	}
	if value, ok := childMap(current, "value"); ok {
		if fieldType, ok := value["type"].(string); ok {
			return fieldType
		}
	}
	return ""
}

// Create installs a mapping for field derived from the source datatype and
// records it in the local cache. When the server answers with an
// illegal_argument_exception (a concurrent create chose a conflicting
// type), the cache is refreshed and ErrMappingConflict is returned.
func (r *MappingRegistry) Create(ctx context.Context, field, sourceType string) (string, error) {
	err := r.client.putMapping(ctx, mappingBodyForPredicate(field, sourceType))
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Type == "illegal_argument_exception" {
			common.Logger.WithField("field", field).
				Debug("Concurrency issue detected: property mapping with conflicting type already exists in index, refreshing mappings")
			if refreshErr := r.Refresh(ctx); refreshErr != nil {
				return "", refreshErr
			}
			return "", ErrMappingConflict
		}
		return "", fmt.Errorf("failed to create mapping for field %s: %w", field, err)
	}

	r.cacheLocalMapping(field, sourceType)
	esType := SearchTypeForSourceType(sourceType)
	common.Logger.WithFields(map[string]interface{}{
		"field": field,
		"type":  esType,
	}).Debug("Added new field mapping")
	return esType, nil
}

// EnsureGeoPointMappings installs a geo_point mapping for each configured
// field name that has no mapping yet. This lets coordinates transported as
// strings be indexed as points.
func (r *MappingRegistry) EnsureGeoPointMappings(ctx context.Context, fields []string) error {
	for _, field := range fields {
		if r.TypeFor(field) != "" {
			continue
		}
		if _, err := r.Create(ctx, field, TypeGeoPoint); err != nil {
			if errors.Is(err, ErrMappingConflict) {
				continue
			}
			return err
		}
	}
	return nil
}

// predicateProperties returns the properties map under
// <index>.mappings.properties.predicates, or nil when absent.
func (r *MappingRegistry) predicateProperties() map[string]any {
	index, ok := childMap(r.mappings, SearchIndex)
	if !ok {
		return nil
	}
	mappings, ok := childMap(index, "mappings")
	if !ok {
		return nil
	}
	properties, ok := childMap(mappings, "properties")
	if !ok {
		return nil
	}
	predicates, ok := childMap(properties, FieldPredicates)
	if !ok {
		return nil
	}
	result, ok := childMap(predicates, "properties")
	if !ok {
		return nil
	}
	return result
}

// cacheLocalMapping records a freshly created mapping in the local cache so
// later records of the same batch see it without another server round trip.
func (r *MappingRegistry) cacheLocalMapping(field, sourceType string) {
	index, ok := childMap(r.mappings, SearchIndex)
	if !ok {
		index = map[string]any{}
		r.mappings[SearchIndex] = index
	}
	mappings, ok := childMap(index, "mappings")
	if !ok {
		mappings = map[string]any{}
		index["mappings"] = mappings
	}
	properties, ok := childMap(mappings, "properties")
	if !ok {
		properties = map[string]any{}
		mappings["properties"] = properties
	}
	predicates, ok := childMap(properties, FieldPredicates)
	if !ok {
		predicates = map[string]any{}
		properties[FieldPredicates] = predicates
	}
	predicateProps, ok := childMap(predicates, "properties")
	if !ok {
		predicateProps = map[string]any{}
		predicates["properties"] = predicateProps
	}
	predicateProps[field] = localMappingForPredicate(sourceType)
}

func childMap(parent map[string]any, key string) (map[string]any, bool) {
	child, ok := parent[key].(map[string]any)
	return child, ok
}

// localMappingForPredicate builds the cached mapping value for a predicate,
// based on the source datatype.
func localMappingForPredicate(sourceType string) map[string]any {
	esType := SearchTypeForSourceType(sourceType)
	if esType == TypeString {
		return map[string]any{
			"properties": map[string]any{
				"value": map[string]any{
					"type": "text",
					"fields": map[string]any{
						"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
					},
				},
			},
		}
	}
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{"type": esType},
		},
	}
}

// mappingBodyForPredicate builds the full put-mapping request body for a
// predicate field.
func mappingBodyForPredicate(field, sourceType string) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			FieldPredicates: map[string]any{
				"properties": map[string]any{
					field: localMappingForPredicate(sourceType),
				},
			},
		},
	}
}
