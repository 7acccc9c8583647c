// Package config defines the configuration model for the Silver engine.
//
// A Config is loaded once per process (file + environment + CLI flags, in
// increasing precedence) and then passed by value into constructors. Nothing
// in the engine reads configuration from globals.
//
// Example (YAML, trimmed):
//
//	storage:   { kind: sqlite, dsn: "file:silver.db" }
//	bronze:    { schema: BRONZE, table: RAW_DATA_TABLE, order_column: RAW_ID, data_column: RAW_DATA }
//	transform: { batch_size: 10000, stale_after: 2h }
//	mapping:   { top_n: 3, min_confidence: 0.6 }
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SILVER_STORAGE_DSN.
const EnvPrefix = "SILVER"

// Config is the full, immutable engine configuration.
type Config struct {
	// User is recorded as approved_by for manual approvals and returned by
	// CURRENT_USER() in expressions.
	User      string    `mapstructure:"user"`
	Storage   Storage   `mapstructure:"storage"`
	Bronze    Bronze    `mapstructure:"bronze"`
	Silver    Silver    `mapstructure:"silver"`
	Transform Transform `mapstructure:"transform"`
	Mapping   Mapping   `mapstructure:"mapping"`
	LLM       LLM       `mapstructure:"llm"`
	Quality   Quality   `mapstructure:"quality"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Log       Log       `mapstructure:"log"`
}

// Storage selects the relational backend holding both metadata and targets.
type Storage struct {
	Kind         string `mapstructure:"kind"` // sqlite | postgres | mysql | mssql
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Bronze describes the raw landing table the engine reads from.
type Bronze struct {
	Schema      string `mapstructure:"schema"`
	Table       string `mapstructure:"table"`
	OrderColumn string `mapstructure:"order_column"`
	DataColumn  string `mapstructure:"data_column"`
	// SampleRows bounds how many recent raw rows are scanned to discover
	// source field names for the mapping generators.
	SampleRows int `mapstructure:"sample_rows"`
}

// Silver holds the schema that metadata and target tables live in.
type Silver struct {
	Schema string `mapstructure:"schema"`
}

// Transform tunes the transformation engine.
type Transform struct {
	BatchSize      int           `mapstructure:"batch_size"`
	WriteChunkSize int           `mapstructure:"write_chunk_size"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	AutoResetStale bool          `mapstructure:"auto_reset_stale"`
	DateLayouts    []string      `mapstructure:"date_layouts"`
	Parallelism    int           `mapstructure:"parallelism"`
}

// Mapping tunes the mapping generators.
type Mapping struct {
	TopN          int      `mapstructure:"top_n"`
	MinConfidence float64  `mapstructure:"min_confidence"`
	LLMConfidence float64  `mapstructure:"llm_confidence"`
	DefaultModel  string   `mapstructure:"default_model"`
	DefaultPrompt string   `mapstructure:"default_prompt"`
	Models        []string `mapstructure:"models"`
}

// LLM configures the text-generation endpoint used by the semantic matcher.
type LLM struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
}

// Quality configures the metrics recorder.
type Quality struct {
	CompletenessThreshold float64 `mapstructure:"completeness_threshold"`
}

// Metrics selects the operational metrics backend.
type Metrics struct {
	Backend        string   `mapstructure:"backend"` // none | pushgateway | datadog
	Job            string   `mapstructure:"job"`
	PushgatewayURL string   `mapstructure:"pushgateway_url"`
	DatadogAddr    string   `mapstructure:"datadog_addr"`
	Namespace      string   `mapstructure:"namespace"`
	Tags           []string `mapstructure:"tags"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("user", "SILVER")
	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.dsn", "file:silver.db")
	v.SetDefault("storage.max_open_conns", 8)
	v.SetDefault("bronze.schema", "BRONZE")
	v.SetDefault("bronze.table", "RAW_DATA_TABLE")
	v.SetDefault("bronze.order_column", "RAW_ID")
	v.SetDefault("bronze.data_column", "RAW_DATA")
	v.SetDefault("bronze.sample_rows", 1000)
	v.SetDefault("silver.schema", "SILVER")
	v.SetDefault("transform.batch_size", 10000)
	v.SetDefault("transform.write_chunk_size", 1000)
	v.SetDefault("transform.stale_after", 2*time.Hour)
	v.SetDefault("transform.auto_reset_stale", false)
	v.SetDefault("transform.parallelism", 4)
	v.SetDefault("mapping.top_n", 3)
	v.SetDefault("mapping.min_confidence", 0.6)
	v.SetDefault("mapping.llm_confidence", 0.85)
	v.SetDefault("mapping.default_model", "snowflake-arctic")
	v.SetDefault("mapping.default_prompt", "DEFAULT_FIELD_MAPPING")
	v.SetDefault("mapping.models", []string{"snowflake-arctic", "llama3.1-70b", "mistral-large2"})
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("quality.completeness_threshold", 0.95)
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job", "silver")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional .env file, then the optional config file at path,
// and decodes the merged view of v into a Config.
func Load(v *viper.Viper, path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return c, nil
}

// Default returns the configuration produced by defaults alone.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	c, err := Decode(v)
	if err != nil {
		panic(err)
	}
	return c
}
