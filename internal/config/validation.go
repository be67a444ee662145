package config

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/esload/internal/sqlutil"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateSource()...)
	errors = append(errors, c.validateElasticsearch()...)

	if len(c.Jobs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "jobs",
			Message: "at least one job must be defined",
		})
	}
	for name, job := range c.Jobs {
		errors = append(errors, c.validateJob(name, &job)...)
	}

	errors = append(errors, validateProcessing("processing", &c.Processing)...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

var validDrivers = map[string]bool{
	DriverPostgres:  true,
	DriverPgx:       true,
	DriverMySQL:     true,
	DriverSQLServer: true,
	DriverSQLite:    true,
}

func (c *Config) validateSource() ValidationErrors {
	var errors ValidationErrors
	db := &c.Source

	if !validDrivers[db.Driver] {
		errors = append(errors, ValidationError{
			Field:   "source.driver",
			Message: "driver must be one of postgres, pgx, mysql, sqlserver, sqlite",
		})
	}

	// A DSN carries everything the driver needs.
	if db.DSN != "" {
		return errors
	}

	if db.Driver == DriverSQLite {
		if db.Database == "" {
			errors = append(errors, ValidationError{
				Field:   "source.database",
				Message: "database path is required for sqlite",
			})
		}
		return errors
	}

	if db.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "source.host",
			Message: "host is required",
		})
	}

	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "source.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if db.User == "" {
		errors = append(errors, ValidationError{
			Field:   "source.user",
			Message: "user is required",
		})
	}

	if db.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "source.database",
			Message: "database name is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   "source.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateElasticsearch() ValidationErrors {
	var errors ValidationErrors
	es := &c.Elasticsearch

	if len(es.Addresses) == 0 {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.addresses",
			Message: "at least one address is required",
		})
	}
	for i, addr := range es.Addresses {
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("elasticsearch.addresses[%d]", i),
				Message: "address must start with http:// or https://",
			})
		}
	}

	if es.APIKey != "" && es.Username != "" {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.api_key",
			Message: "api_key and username are mutually exclusive",
		})
	}

	if es.CompressionLevel < -1 || es.CompressionLevel > 9 {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.compression_level",
			Message: "compression_level must be between -1 and 9",
		})
	}

	if es.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.max_retries",
			Message: "max_retries cannot be negative",
		})
	}

	if es.RetryBackoff < 0 || es.MaxBackoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.retry_backoff",
			Message: "backoff durations cannot be negative",
		})
	}

	return errors
}

var validOpTypes = map[string]bool{"index": true, "create": true, "update": true, "delete": true, "": true}

var validRefresh = map[string]bool{"true": true, "false": true, "wait_for": true, "": true}

func (c *Config) validateJob(name string, job *JobConfig) ValidationErrors {
	var errors ValidationErrors
	prefix := fmt.Sprintf("jobs.%s", name)

	if job.Index == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".index",
			Message: "index is required",
		})
	} else if job.Index != strings.ToLower(job.Index) || strings.ContainsAny(job.Index, ` "*\<|,>/?#`) {
		errors = append(errors, ValidationError{
			Field:   prefix + ".index",
			Message: "index must be lowercase and must not contain spaces or any of \"*\\<|,>/?#",
		})
	}

	if strings.TrimSpace(job.Query) == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".query",
			Message: "query is required",
		})
	}

	if !validOpTypes[job.OpType] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".op_type",
			Message: "op_type must be 'index', 'create', 'update', or 'delete'",
		})
	}

	if job.IDField == NoIDField && (job.OpType == "update" || job.OpType == "delete") {
		errors = append(errors, ValidationError{
			Field:   prefix + ".id_field",
			Message: fmt.Sprintf("op_type '%s' needs an id_field", job.OpType),
		})
	}

	if !validRefresh[job.Refresh] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".refresh",
			Message: "refresh must be 'true', 'false', or 'wait_for'",
		})
	}

	validIDTypes := map[string]bool{"raw": true, "uuid": true, "": true}
	if !validIDTypes[job.IDType] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".id_type",
			Message: "id_type must be 'raw' or 'uuid'",
		})
	}

	for i, rn := range job.RenameFields {
		if rn.From == "" || rn.To == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s.rename_fields[%d]", prefix, i),
				Message: "both from and to are required",
			})
			continue
		}
		if !sqlutil.IsValidIdentifier(rn.To) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s.rename_fields[%d].to", prefix, i),
				Message: "target field must contain only alphanumeric characters and underscores",
			})
		}
	}

	if job.Processing != nil {
		errors = append(errors, validateJobProcessing(prefix+".processing", job.Processing)...)
	}

	return errors
}

func validateProcessing(prefix string, p *ProcessingConfig) ValidationErrors {
	var errors ValidationErrors

	if p.BatchSize == 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".batch_size",
			Message: "batch_size must be positive",
		})
	}

	return append(errors, validateJobProcessing(prefix, p)...)
}

// validateJobProcessing checks the fields that may be overridden per job.
// Zero values mean "inherit" there, so only invalid non-zero values are reported.
func validateJobProcessing(prefix string, p *ProcessingConfig) ValidationErrors {
	var errors ValidationErrors

	if p.BatchSize < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".batch_size",
			Message: "batch_size cannot be negative",
		})
	}

	if p.FetchSize < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".fetch_size",
			Message: "fetch_size cannot be negative",
		})
	}

	if p.SleepSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".sleep_seconds",
			Message: "sleep_seconds cannot be negative",
		})
	}

	validPolicies := map[string]bool{FlushRemainder: true, FlushStrict: true, "": true}
	if !validPolicies[p.FlushPolicy] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".flush_policy",
			Message: "flush_policy must be 'remainder' or 'strict'",
		})
	}

	validTransform := map[string]bool{TransformAbort: true, TransformSkip: true, "": true}
	if !validTransform[p.OnTransformError] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".on_transform_error",
			Message: "on_transform_error must be 'abort' or 'skip'",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
