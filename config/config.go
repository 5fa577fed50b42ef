// Package config provides configuration loading and validation for the
// Neptune search replication service. Configuration is read from environment
// variables in the manner of twelve-factor services (FromEnv); the CLI layer
// builds a Provider directly from its flags and config-file values and runs
// the same validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"neptunesearch.evalgo.org/common"
)

// Environment variable names for the core configuration surface.
const (
	EnvRegion             = "AWS_REGION"
	EnvBatchSize          = "STREAM_RECORDS_BATCH_SIZE"
	EnvMaxPollingWaitTime = "MAX_POLLING_WAIT_TIME"
	EnvMaxPollingInterval = "MAX_POLLING_INTERVAL"
	EnvApplicationName    = "APPLICATION_NAME"
	EnvLeaseTableName     = "LEASE_TABLE_NAME"
	EnvStreamEndpoint     = "NEPTUNE_STREAM_ENDPOINT"
	EnvHandlerName        = "STREAM_RECORDS_HANDLER"
	EnvIAMAuthEnabled     = "IAM_AUTH_ENABLED_ON_SOURCE_STREAM"
	EnvLoggingLevel       = "LOGGING_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvAdditionalParams   = "ADDITIONAL_PARAMS"
)

// Handler names selecting the transformer variant.
const (
	HandlerGremlin           = "gremlin"
	HandlerSparql            = "sparql"
	HandlerGremlinStringOnly = "gremlin-string-only"
	HandlerSparqlStringOnly  = "sparql-string-only"
)

// Handler additional parameter keys. These arrive as a single JSON object in
// ADDITIONAL_PARAMS, mirroring the deployment contract of the original
// stream poller.
const (
	ParamElasticSearchEndpoint  = "ElasticSearchEndpoint"
	ParamNumberOfShards         = "NumberOfShards"
	ParamNumberOfReplica        = "NumberOfReplica"
	ParamGeoLocationFields      = "GeoLocationFields"
	ParamDatatypesToExclude     = "DatatypesToExclude"
	ParamPropertiesToExclude    = "PropertiesToExclude"
	ParamIgnoreMissingDocument  = "IgnoreMissingDocument"
	ParamReplicationScope       = "ReplicationScope"
	ParamEnableNonStringIndexes = "EnableNonStringIndexing"
)

// Provider holds the enumerated configuration surface for one replication
// process. Instances are immutable after construction.
type Provider struct {
	Region          string
	ApplicationName string
	LeaseTableName  string
	StreamEndpoint  string
	HandlerName     string

	StreamRecordsBatchSize int
	MaxPollingWaitTime     time.Duration
	MaxPollingInterval     time.Duration
	IAMAuthEnabled         bool

	LoggingLevel string
	LogFormat    string

	// HandlerParams carries handler-specific tuning as raw strings.
	HandlerParams map[string]string
}

// FromEnv loads a Provider from environment variables and validates it.
func FromEnv() (*Provider, error) {
	p := &Provider{
		Region:                 os.Getenv(EnvRegion),
		ApplicationName:        os.Getenv(EnvApplicationName),
		LeaseTableName:         os.Getenv(EnvLeaseTableName),
		StreamEndpoint:         os.Getenv(EnvStreamEndpoint),
		HandlerName:            os.Getenv(EnvHandlerName),
		StreamRecordsBatchSize: getEnvInt(EnvBatchSize, 100),
		MaxPollingWaitTime:     time.Duration(getEnvInt(EnvMaxPollingWaitTime, 10)) * time.Second,
		MaxPollingInterval:     time.Duration(getEnvInt(EnvMaxPollingInterval, 600)) * time.Second,
		IAMAuthEnabled:         getEnvBool(EnvIAMAuthEnabled, false),
		LoggingLevel:           getEnv(EnvLoggingLevel, "info"),
		LogFormat:              getEnv(EnvLogFormat, "text"),
		HandlerParams:          map[string]string{},
	}

	if raw := os.Getenv(EnvAdditionalParams); raw != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", EnvAdditionalParams, err)
		}
		for k, v := range params {
			p.HandlerParams[k] = fmt.Sprintf("%v", v)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks required fields and value constraints. All problems are
// aggregated into a single error message.
func (p *Provider) Validate() error {
	v := NewValidator()
	v.RequireString("Region", p.Region)
	v.RequireString("ApplicationName", p.ApplicationName)
	v.RequireString("LeaseTableName", p.LeaseTableName)
	v.RequireURL("StreamEndpoint", p.StreamEndpoint)
	v.RequireOneOf("HandlerName", p.HandlerName,
		[]string{HandlerGremlin, HandlerSparql, HandlerGremlinStringOnly, HandlerSparqlStringOnly})
	v.RequirePositiveInt("StreamRecordsBatchSize", p.StreamRecordsBatchSize)
	return v.Validate()
}

// HandlerParam returns a handler additional parameter, or the default when
// the parameter is unset.
func (p *Provider) HandlerParam(key, defaultValue string) string {
	if v, ok := p.HandlerParams[key]; ok {
		return v
	}
	return defaultValue
}

// QueryLanguage derives the query language from the stream endpoint. The
// endpoint path carries either "gremlin" or "sparql" by contract.
func (p *Provider) QueryLanguage() (string, error) {
	endpoint := strings.ToLower(p.StreamEndpoint)
	switch {
	case strings.Contains(endpoint, common.QueryLanguageGremlin):
		return common.QueryLanguageGremlin, nil
	case strings.Contains(endpoint, common.QueryLanguageSparql):
		return common.QueryLanguageSparql, nil
	default:
		return "", fmt.Errorf("invalid stream endpoint %s: cannot derive query language", p.StreamEndpoint)
	}
}

// SearchEndpoint returns the configured search engine endpoint.
func (p *Provider) SearchEndpoint() string {
	return p.HandlerParam(ParamElasticSearchEndpoint, "")
}

// IgnoreMissingDocument reports whether property additions for absent
// documents should create the host document instead of failing.
func (p *Provider) IgnoreMissingDocument() bool {
	return p.HandlerParam(ParamIgnoreMissingDocument, "true") != "false"
}

// DropEdges reports whether edge records are excluded from replication.
func (p *Provider) DropEdges() bool {
	return p.HandlerParam(ParamReplicationScope, "") == "nodes"
}

// NonStringIndexing reports whether typed (non-string) values are indexed.
// When false, the string-only transformer variants are selected.
func (p *Provider) NonStringIndexing() bool {
	return p.HandlerParam(ParamEnableNonStringIndexes, "true") == "true"
}

// GeoLocationFields returns the configured geo-point field names.
func (p *Provider) GeoLocationFields() []string {
	return splitList(p.HandlerParam(ParamGeoLocationFields, ""))
}

// ExcludedProperties returns the property keys excluded from indexing.
func (p *Provider) ExcludedProperties() map[string]bool {
	set := map[string]bool{}
	for _, field := range splitList(p.HandlerParam(ParamPropertiesToExclude, "")) {
		set[field] = true
	}
	return set
}

// ExcludedDatatypes returns the set of source datatypes excluded from
// indexing, restricted to valid types of the given query language.
func (p *Provider) ExcludedDatatypes(validTypes map[string]bool) map[string]bool {
	set := map[string]bool{}
	for _, datatype := range strings.Split(p.HandlerParam(ParamDatatypesToExclude, ""), ",") {
		datatype = strings.ToLower(strings.TrimSpace(datatype))
		if datatype != "" && validTypes[datatype] {
			set[datatype] = true
		}
	}
	return set
}

// NumberOfShards returns the index shard count.
func (p *Provider) NumberOfShards() int {
	return atoiDefault(p.HandlerParam(ParamNumberOfShards, ""), 5)
}

// NumberOfReplica returns the index replica count.
func (p *Provider) NumberOfReplica() int {
	return atoiDefault(p.HandlerParam(ParamNumberOfReplica, ""), 1)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func atoiDefault(raw string, defaultValue int) int {
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
