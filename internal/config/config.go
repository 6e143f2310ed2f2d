package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var validate = validator.New()

// Config holds the full application configuration.
type Config struct {
	Region     RegionConfig     `yaml:"region" mapstructure:"region"`
	Units      UnitsConfig      `yaml:"units" mapstructure:"units"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	WHO        WHOConfig        `yaml:"who" mapstructure:"who"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// RegionConfig configures the spatial scope and reference data.
type RegionConfig struct {
	Scope       string `yaml:"scope" mapstructure:"scope" validate:"oneof=conus"`
	Granularity string `yaml:"granularity" mapstructure:"granularity" validate:"oneof=state country"`
	Shapefile   string `yaml:"shapefile" mapstructure:"shapefile"`
	Stations    string `yaml:"stations" mapstructure:"stations"`
}

// UnitsConfig selects the unit system source values are assumed to use when
// a record carries no per-value unit tag.
type UnitsConfig struct {
	System string `yaml:"system" mapstructure:"system" validate:"oneof=metric standard us"`
}

// TemporalConfig configures temporal alignment and the accepted year range.
type TemporalConfig struct {
	Coarsening string `yaml:"coarsening" mapstructure:"coarsening" validate:"oneof=strict coarsen-to-common"`
	MinYear    int    `yaml:"min_year" mapstructure:"min_year" validate:"min=1850"`
	MaxYear    int    `yaml:"max_year" mapstructure:"max_year" validate:"gtefield=MinYear"`
}

// FusionConfig configures the fusion engine.
type FusionConfig struct {
	MinCoverage      int  `yaml:"min_coverage" mapstructure:"min_coverage" validate:"min=1"`
	DeriveHeatStress bool `yaml:"derive_heat_stress" mapstructure:"derive_heat_stress"`
	Extremes         bool `yaml:"extremes" mapstructure:"extremes"`
	Partitions       int  `yaml:"partitions" mapstructure:"partitions" validate:"min=1,max=64"`
}

// Bounds is a plausibility envelope override for one canonical variable.
// Viper lowercases map keys; the gate normalizes them back.
type Bounds struct {
	Min float64 `yaml:"min" mapstructure:"min"`
	Max float64 `yaml:"max" mapstructure:"max"`
}

// ValidationConfig configures the quality gate.
type ValidationConfig struct {
	Bounds map[string]Bounds `yaml:"bounds" mapstructure:"bounds"`
}

// WHOConfig configures mortality table ingestion.
type WHOConfig struct {
	CauseFilter []string `yaml:"cause_filter" mapstructure:"cause_filter"`
}

// PipelineConfig configures pipeline execution.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1,max=64"`
}

// StoreConfig configures the database backend. The pool settings apply to
// postgres only; zero means the driver default.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"min=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"min=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("region.scope", "conus")
	v.SetDefault("region.granularity", "state")
	v.SetDefault("region.shapefile", "")
	v.SetDefault("region.stations", "")
	v.SetDefault("units.system", "metric")
	v.SetDefault("temporal.coarsening", "coarsen-to-common")
	v.SetDefault("temporal.min_year", 1950)
	v.SetDefault("temporal.max_year", 2100)
	v.SetDefault("fusion.min_coverage", 1)
	v.SetDefault("fusion.derive_heat_stress", true)
	v.SetDefault("fusion.extremes", true)
	v.SetDefault("fusion.partitions", 8)
	v.SetDefault("who.cause_filter", []string{})
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fusion.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	for name, b := range c.Validation.Bounds {
		if b.Min > b.Max {
			return eris.Errorf("config: validation.bounds.%s: min %v exceeds max %v", name, b.Min, b.Max)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
