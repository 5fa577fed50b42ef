package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/security"
)

// SearchIndex is the single index holding all replicated graph documents.
const SearchIndex = "amazon_neptune"

// Document id prefixes. Prefixing prevents collisions between vertex and
// edge ids that happen to share the same string.
const (
	VertexIDPrefix = "v://"
	EdgeIDPrefix   = "e://"
)

// Search document field names shared between property-graph and RDF data.
const (
	FieldEntityID     = "entity_id"
	FieldEntityType   = "entity_type"
	FieldDocumentType = "document_type"
	FieldPredicates   = "predicates"
)

// Document types stored in the document_type field.
const (
	DocumentTypeVertex      = "vertex"
	DocumentTypeEdge        = "edge"
	DocumentTypeRDFResource = "rdf-resource"
)

// Search engine field types.
const (
	TypeString   = "string"
	TypeText     = "text"
	TypeLong     = "long"
	TypeDouble   = "double"
	TypeFloat    = "float"
	TypeDecimal  = "decimal"
	TypeDate     = "date"
	TypeBoolean  = "boolean"
	TypeGeoPoint = "geo_point"
)

// datatypeMapping converts a source datatype name to the search engine type.
// Any type without a key here is stored as text. All non-floating numeric
// types map to long, all floating types to double.
var datatypeMapping = map[string]string{
	"bool":    TypeBoolean,
	"boolean": TypeBoolean,

	"int":                TypeLong,
	"integer":            TypeLong,
	"byte":               TypeLong,
	"short":              TypeLong,
	"nonnegativeinteger": TypeLong,
	"nonpositiveinteger": TypeLong,
	"negativeinteger":    TypeLong,
	"unsignedbyte":       TypeLong,
	"unsignedint":        TypeLong,
	"unsignedlong":       TypeLong,
	"unsignedshort":      TypeLong,
	"long":               TypeLong,

	"decimal": TypeDouble,
	"float":   TypeDouble,
	"double":  TypeDouble,

	"datetime": TypeDate,
	"date":     TypeDate,

	"time":   TypeString,
	"string": TypeString,

	"geo_point": TypeGeoPoint,
}

// ValidGremlinTypes enumerates the property-graph datatype names that
// DatatypesToExclude may name; other names in that list are ignored. Which
// property records are replicated is decided by IsKnownSourceType.
var ValidGremlinTypes = map[string]bool{
	"string": true, "date": true, "bool": true, "byte": true, "short": true,
	"int": true, "long": true, "float": true, "double": true,
}

// ValidSparqlTypes enumerates the XSD datatype tokens that DatatypesToExclude
// may name; other tokens in that list are ignored. Literals of datatypes not
// listed here are still replicated.
var ValidSparqlTypes = map[string]bool{
	"string": true, "boolean": true, "float": true, "double": true,
	"datetime": true, "byte": true, "int": true, "long": true, "short": true,
	"date": true, "decimal": true, "integer": true, "nonnegativeinteger": true,
	"nonpositiveinteger": true, "negativeinteger": true, "unsignedbyte": true,
	"unsignedint": true, "unsignedlong": true, "unsignedshort": true, "time": true,
}

// SearchTypeForSourceType converts a source datatype name to the search
// engine type name. Unknown and empty types default to string.
func SearchTypeForSourceType(sourceType string) string {
	if sourceType == "" {
		return TypeString
	}
	if esType, ok := datatypeMapping[strings.ToLower(strings.TrimSpace(sourceType))]; ok {
		return esType
	}
	return TypeString
}

// IsKnownSourceType reports whether the source datatype name participates in
// type mapping at all.
func IsKnownSourceType(sourceType string) bool {
	_, ok := datatypeMapping[strings.ToLower(strings.TrimSpace(sourceType))]
	return ok
}

// IndexMappings is the static index mapping: dynamic templates keep the
// datatype, graph and language fields of predicate value objects unanalyzed
// and give values a text/keyword multi-field.
var IndexMappings = map[string]any{
	"dynamic_templates": []any{
		map[string]any{
			"datatype": map[string]any{
				"path_match": "predicates.*.datatype",
				"mapping":    map[string]any{"type": "keyword", "index": "true"},
			},
		},
		map[string]any{
			"graph": map[string]any{
				"path_match": "predicates.*.graph",
				"mapping":    map[string]any{"type": "keyword", "index": "true"},
			},
		},
		map[string]any{
			"language": map[string]any{
				"path_match": "predicates.*.language",
				"mapping":    map[string]any{"type": "keyword", "index": "true"},
			},
		},
		map[string]any{
			"value": map[string]any{
				"path_match": "predicates.*.value",
				"mapping": map[string]any{
					"type": "text",
					"fields": map[string]any{
						"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
					},
				},
			},
		},
	},
}

// RequestError is a structured error response from the search engine.
type RequestError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("search request failed with status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

// SearchClient is an HTTP client for the search engine's REST API. Requests
// are optionally SigV4 signed for managed clusters.
type SearchClient struct {
	baseURL    string
	signer     *security.Signer
	httpClient *http.Client
}

// SearchClientOption customizes a SearchClient.
type SearchClientOption func(*SearchClient)

// WithSigner enables SigV4 signing of all requests.
func WithSigner(signer *security.Signer) SearchClientOption {
	return func(c *SearchClient) { c.signer = signer }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) SearchClientOption {
	return func(c *SearchClient) { c.httpClient = client }
}

// NewSearchClient creates a client for the given endpoint. The endpoint may
// be a bare host:port, in which case https is assumed.
func NewSearchClient(endpoint string, opts ...SearchClientOption) *SearchClient {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := &SearchClient{
		baseURL:    strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ClusterInfo is the root endpoint response of the search engine.
type ClusterInfo struct {
	Version struct {
		Number       string `json:"number"`
		Distribution string `json:"distribution"`
	} `json:"version"`
}

// Info fetches cluster name and version information.
func (c *SearchClient) Info(ctx context.Context) (*ClusterInfo, error) {
	var info ClusterInfo
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ValidateVersion checks the engine version. Versions below 7.x are not
// supported; the check is bypassed for opensearch distributions, whose
// version numbers restarted at 1.x.
func (c *SearchClient) ValidateVersion(ctx context.Context) error {
	info, err := c.Info(ctx)
	if err != nil {
		return err
	}

	distribution := info.Version.Distribution
	if distribution == "" {
		// Old engine versions do not report a distribution.
		distribution = "es"
	}
	if strings.EqualFold(distribution, "opensearch") {
		common.Logger.Debug("Skipping version check for opensearch distribution")
		return nil
	}

	parts := strings.Split(info.Version.Number, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		common.Logger.WithField("version", info.Version.Number).
			Info("Search engine major version is not numeric, skipping version check")
		return nil
	}
	if major < 7 {
		return fmt.Errorf("search engine version below 7.x is not supported, current version %s", info.Version.Number)
	}
	return nil
}

// EnsureIndex creates the replication index with its settings and dynamic
// template mappings unless it already exists.
func (c *SearchClient) EnsureIndex(ctx context.Context, shards, replicas int) error {
	exists, err := c.indexExists(ctx, SearchIndex)
	if err != nil {
		return err
	}
	if exists {
		common.Logger.WithField("index", SearchIndex).Info("Search index already exists")
		return nil
	}

	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": IndexMappings,
	}
	if err := c.doJSON(ctx, http.MethodPut, "/"+SearchIndex, body, nil); err != nil {
		return fmt.Errorf("failed to create index %s: %w", SearchIndex, err)
	}
	common.Logger.WithField("index", SearchIndex).Info("Created search index")
	return nil
}

func (c *SearchClient) indexExists(ctx context.Context, index string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/"+index, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create index request: %w", err)
	}
	if c.signer != nil {
		if err := c.signer.SignRequest(ctx, req); err != nil {
			return false, err
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check index %s: status %s", index, resp.Status)
	}
}

// getMappings fetches the current index mappings as a raw document.
func (c *SearchClient) getMappings(ctx context.Context) (map[string]any, error) {
	var mappings map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/"+SearchIndex+"/_mapping", nil, &mappings); err != nil {
		return nil, fmt.Errorf("failed to fetch index mappings: %w", err)
	}
	return mappings, nil
}

// putMapping installs a new field mapping on the index.
func (c *SearchClient) putMapping(ctx context.Context, body map[string]any) error {
	return c.doJSON(ctx, http.MethodPut, "/"+SearchIndex+"/_mapping", body, nil)
}

// doJSON performs one JSON request/response round trip. Non-2xx responses
// are decoded into a RequestError carrying the engine's error type.
func (c *SearchClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		if err := c.signer.SignRequest(ctx, req); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to search engine: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeRequestError(resp.StatusCode, payload)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode search response: %w", err)
		}
	}
	return nil
}

func decodeRequestError(statusCode int, payload []byte) error {
	var parsed struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	reqErr := &RequestError{StatusCode: statusCode}
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Error.Type != "" {
		reqErr.Type = parsed.Error.Type
		reqErr.Reason = parsed.Error.Reason
	} else {
		reqErr.Reason = string(payload)
	}
	return reqErr
}
