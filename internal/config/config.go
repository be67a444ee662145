// Package config provides configuration structures and loading for esload.
package config

import "time"

// Config represents the complete application configuration.
type Config struct {
	Source        DatabaseConfig       `yaml:"source" mapstructure:"source"`
	Elasticsearch ElasticsearchConfig  `yaml:"elasticsearch" mapstructure:"elasticsearch"`
	Jobs          map[string]JobConfig `yaml:"jobs" mapstructure:"jobs"`
	Processing    ProcessingConfig     `yaml:"processing" mapstructure:"processing"`
	Logging       LoggingConfig        `yaml:"logging" mapstructure:"logging"`
}

// Supported source drivers. The value is the database/sql driver name.
const (
	DriverPostgres  = "postgres"
	DriverPgx       = "pgx"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// DatabaseConfig represents the relational source connection configuration.
type DatabaseConfig struct {
	Driver             string `yaml:"driver" mapstructure:"driver"`
	DSN                string `yaml:"dsn" mapstructure:"dsn"` // overrides host/port/user/... when set
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// ElasticsearchConfig represents the search index connection configuration.
type ElasticsearchConfig struct {
	Addresses        []string      `yaml:"addresses" mapstructure:"addresses"`
	Username         string        `yaml:"username" mapstructure:"username"`
	Password         string        `yaml:"password" mapstructure:"password"`
	APIKey           string        `yaml:"api_key" mapstructure:"api_key"`
	CompressionLevel int           `yaml:"compression_level" mapstructure:"compression_level"`
	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	APM              bool          `yaml:"apm" mapstructure:"apm"`
}

// JobConfig represents a single extract-load job.
type JobConfig struct {
	Index         string            `yaml:"index" mapstructure:"index"`
	Query         string            `yaml:"query" mapstructure:"query"`
	IDField       string            `yaml:"id_field" mapstructure:"id_field"`
	IDType        string            `yaml:"id_type" mapstructure:"id_type"` // "raw" or "uuid"
	OpType        string            `yaml:"op_type" mapstructure:"op_type"` // index, create, update, delete
	Refresh       string            `yaml:"refresh" mapstructure:"refresh"` // bulk refresh: true, false, wait_for
	MappingFile   string            `yaml:"mapping_file" mapstructure:"mapping_file"`
	ExcludeFields []string          `yaml:"exclude_fields" mapstructure:"exclude_fields"`
	RenameFields  []FieldRename     `yaml:"rename_fields" mapstructure:"rename_fields"`
	Processing    *ProcessingConfig `yaml:"processing,omitempty" mapstructure:"processing"`
}

// FieldRename renames a source column before the record is indexed.
// A list is used instead of a map because viper lowercases map keys.
type FieldRename struct {
	From string `yaml:"from" mapstructure:"from"`
	To   string `yaml:"to" mapstructure:"to"`
}

// Flush policies.
const (
	FlushRemainder = "remainder"
	FlushStrict    = "strict"
)

// Transform error policies.
const (
	TransformAbort = "abort"
	TransformSkip  = "skip"
)

// ProcessingConfig represents batch processing settings.
type ProcessingConfig struct {
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	FetchSize        int     `yaml:"fetch_size" mapstructure:"fetch_size"`
	SleepSeconds     float64 `yaml:"sleep_seconds" mapstructure:"sleep_seconds"`
	FlushPolicy      string  `yaml:"flush_policy" mapstructure:"flush_policy"`
	OnTransformError string  `yaml:"on_transform_error" mapstructure:"on_transform_error"`
	Pipelined        bool    `yaml:"pipelined" mapstructure:"pipelined"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Source: DatabaseConfig{
			Driver:             DriverPostgres,
			Port:               5432,
			TLS:                "preferred",
			MaxConnections:     4,
			MaxIdleConnections: 2,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:        []string{"http://localhost:9200"},
			CompressionLevel: 0,
			MaxRetries:       3,
			RetryBackoff:     500 * time.Millisecond,
			MaxBackoff:       10 * time.Second,
		},
		Processing: ProcessingConfig{
			BatchSize:        10000,
			FetchSize:        0, // follows batch_size
			SleepSeconds:     0,
			FlushPolicy:      FlushRemainder,
			OnTransformError: TransformAbort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// DefaultPort returns the conventional port for a driver, or 0 when the
// driver does not use one.
func DefaultPort(driver string) int {
	switch driver {
	case DriverPostgres, DriverPgx:
		return 5432
	case DriverMySQL:
		return 3306
	case DriverSQLServer:
		return 1433
	default:
		return 0
	}
}

// EffectiveFetchSize returns the cursor fetch size, falling back to the batch size.
func (p ProcessingConfig) EffectiveFetchSize() int {
	if p.FetchSize > 0 {
		return p.FetchSize
	}
	return p.BatchSize
}

// GetJobProcessing returns the processing config for a job by name, falling back to global if not set.
func (c *Config) GetJobProcessing(jobName string) ProcessingConfig {
	job, err := c.GetJob(jobName)
	if err != nil {
		return c.Processing
	}
	return job.GetJobProcessing(c.Processing)
}

// GetJobProcessing returns the processing config for a job, falling back to global if not set.
func (jc *JobConfig) GetJobProcessing(global ProcessingConfig) ProcessingConfig {
	if jc.Processing == nil {
		return global
	}

	result := global
	if jc.Processing.BatchSize > 0 {
		result.BatchSize = jc.Processing.BatchSize
	}
	if jc.Processing.FetchSize > 0 {
		result.FetchSize = jc.Processing.FetchSize
	}
	if jc.Processing.SleepSeconds > 0 {
		result.SleepSeconds = jc.Processing.SleepSeconds
	}
	if jc.Processing.FlushPolicy != "" {
		result.FlushPolicy = jc.Processing.FlushPolicy
	}
	if jc.Processing.OnTransformError != "" {
		result.OnTransformError = jc.Processing.OnTransformError
	}
	result.Pipelined = jc.Processing.Pipelined || global.Pipelined
	return result
}

// EffectiveOpType returns the bulk operation for the job, defaulting to "index".
func (jc *JobConfig) EffectiveOpType() string {
	if jc.OpType == "" {
		return "index"
	}
	return jc.OpType
}

// NoIDField as id_field lets Elasticsearch assign document ids.
const NoIDField = "-"

// EffectiveIDField returns the id column for the job, defaulting to "uuid".
// It is empty when id_field is NoIDField.
func (jc *JobConfig) EffectiveIDField() string {
	switch jc.IDField {
	case "":
		return "uuid"
	case NoIDField:
		return ""
	}
	return jc.IDField
}
