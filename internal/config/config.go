// Package config loads the analysis configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the complete analysis configuration.
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Database DatabaseConfig `mapstructure:"database"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Station  StationConfig  `mapstructure:"station"`
	Report   ReportConfig   `mapstructure:"report"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AnalysisConfig selects the models, intensity measures and residual
// options of a run.
type AnalysisConfig struct {
	// Models lists model identifiers: catalog names or
	// TableRef(path="...") references.
	Models []string `mapstructure:"models"`
	// IMTs lists intensity measure types, e.g. PGA, PGV, SA(1.0).
	IMTs      []string `mapstructure:"imts"`
	Component string   `mapstructure:"component"`
	Normalise bool     `mapstructure:"normalise"`
	// Statistic names the analysis to run: Residuals, Likelihood, LLH,
	// MultivariateLLH, EDR or SingleStation.
	Statistic string `mapstructure:"statistic"`
}

// DatabaseConfig locates the strong-motion record store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RankingConfig holds the statistic-specific tuning knobs.
type RankingConfig struct {
	// LLHIMTs optionally restricts the LLH computation to a subset of the
	// analysis IMTs; empty means all.
	LLHIMTs []string `mapstructure:"llh_imts"`

	EDRBandwidth  float64 `mapstructure:"edr_bandwidth"`
	EDRMultiplier float64 `mapstructure:"edr_multiplier"`

	SumIMTs             bool  `mapstructure:"sum_imts"`
	BootstrapIterations int   `mapstructure:"bootstrap_iterations"`
	BootstrapWorkers    int   `mapstructure:"bootstrap_workers"`
	BootstrapSeed       int64 `mapstructure:"bootstrap_seed"`
}

// StationConfig lists the sites of a single-station analysis.
type StationConfig struct {
	SiteIDs []string `mapstructure:"site_ids"`
}

// ReportConfig controls the flat-file report output.
type ReportConfig struct {
	Path      string `mapstructure:"path"`
	Separator string `mapstructure:"separator"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("GMEVAL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("analysis.component", "Geometric")
	v.SetDefault("analysis.normalise", true)
	v.SetDefault("analysis.statistic", "Residuals")

	v.SetDefault("ranking.edr_bandwidth", 0.01)
	v.SetDefault("ranking.edr_multiplier", 3.0)
	v.SetDefault("ranking.sum_imts", false)
	v.SetDefault("ranking.bootstrap_iterations", 1000)
	v.SetDefault("ranking.bootstrap_workers", 4)
	v.SetDefault("ranking.bootstrap_seed", 1)

	v.SetDefault("report.separator", ",")
	v.SetDefault("logging.debug", false)
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if len(c.Analysis.Models) == 0 {
		return fmt.Errorf("analysis.models is required")
	}
	if len(c.Analysis.IMTs) == 0 {
		return fmt.Errorf("analysis.imts is required")
	}
	switch c.Analysis.Component {
	case "Geometric", "GMRotI50", "GMRotD50", "RotD50":
	default:
		return fmt.Errorf("analysis.component %q is not a known component of motion", c.Analysis.Component)
	}
	switch c.Analysis.Statistic {
	case "Residuals", "Likelihood", "LLH", "MultivariateLLH", "EDR", "SingleStation":
	default:
		return fmt.Errorf("analysis.statistic %q is not a known statistic", c.Analysis.Statistic)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Analysis.Statistic == "SingleStation" && len(c.Station.SiteIDs) == 0 {
		return fmt.Errorf("station.site_ids is required for a single-station analysis")
	}
	if c.Ranking.EDRBandwidth <= 0 {
		return fmt.Errorf("ranking.edr_bandwidth must be positive")
	}
	if c.Ranking.EDRMultiplier <= 0 {
		return fmt.Errorf("ranking.edr_multiplier must be positive")
	}
	if c.Ranking.BootstrapIterations < 1 {
		return fmt.Errorf("ranking.bootstrap_iterations must be at least 1")
	}
	return nil
}
