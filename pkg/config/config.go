package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/eida/wfcc/internal/telemetry"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Archive   ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
	FDSN      FDSNConfig      `mapstructure:"fdsn" yaml:"fdsn"`
	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog"`
	Results   ResultsConfig   `mapstructure:"results" yaml:"results"`
	Check     CheckConfig     `mapstructure:"check" yaml:"check"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

func (c Config) Validate() error {
	return validateConfig(c)
}

type ArchiveConfig struct {
	// Path is the archive root, holding one directory per year.
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

type FDSNConfig struct {
	// Endpoint is the host name (or base URL) of the FDSN station service.
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	Retries  uint          `mapstructure:"retries" yaml:"retries" validate:"gte=1"`
}

type CatalogConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver" validate:"oneof=mongo postgres sqlite"`
	MongoURI   string `mapstructure:"mongo_uri" yaml:"mongo_uri" validate:"required_if=Driver mongo"`
	Database   string `mapstructure:"database" yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
	// DSN locates the SQL catalog mirror, either a PostgreSQL connection string
	// or a SQLite file path.
	DSN string `mapstructure:"dsn" yaml:"dsn" validate:"required_unless=Driver mongo"`
}

type ResultsConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

type CheckConfig struct {
	// Workers bounds concurrent file classification. Zero uses one worker per
	// CPU.
	Workers      int  `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
	StrictEpochs bool `mapstructure:"strict_epochs" yaml:"strict_epochs"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

func (t TelemetryConfig) ToTelemetry() telemetry.Config {
	return telemetry.Config{
		Enabled:  t.Enabled,
		Endpoint: t.Endpoint,
		Insecure: t.Insecure,
	}
}

// SetDefaults registers the defaults of every key not backed by a flag.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("fdsn.timeout", 5*time.Minute)
	v.SetDefault("fdsn.retries", 3)
	v.SetDefault("catalog.driver", DriverMongo)
	v.SetDefault("catalog.database", "wfrepo")
	v.SetDefault("catalog.collection", "daily_streams")
	v.SetDefault("results.path", "inconsistencies_results.db")
	v.SetDefault("check.workers", 0)
	v.SetDefault("check.strict_epochs", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", telemetry.DefaultTracesEndpoint)
	v.SetDefault("telemetry.insecure", true)
}

func Load[T Validatable]() (T, error) {
	var out T
	if err := viper.Unmarshal(&out); err != nil {
		return out, fmt.Errorf("unable to decode config, %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("invalid config, %w", err)
	}
	return out, nil
}

// ReportConfig is the subset of Config needed to read a result file.
type ReportConfig struct {
	Results ResultsConfig `mapstructure:"results" yaml:"results"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

func (c ReportConfig) Validate() error {
	return validateConfig(c)
}
