package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gmeval.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
analysis:
  models:
    - AkkarEtAl2014
    - TableRef(path="models/local.tbl")
  imts:
    - PGA
    - SA(1.0)
  component: RotD50
  statistic: LLH
database:
  path: records.db
ranking:
  llh_imts:
    - PGA
  bootstrap_iterations: 50
report:
  path: out.csv
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	if len(cfg.Analysis.Models) != 2 || cfg.Analysis.Models[0] != "AkkarEtAl2014" {
		t.Errorf("unexpected models %v", cfg.Analysis.Models)
	}
	if cfg.Analysis.Component != "RotD50" {
		t.Errorf("component = %q, want RotD50", cfg.Analysis.Component)
	}
	if !cfg.Analysis.Normalise {
		t.Error("normalise default must be true")
	}
	if cfg.Ranking.EDRBandwidth != 0.01 {
		t.Errorf("EDR bandwidth default = %v, want 0.01", cfg.Ranking.EDRBandwidth)
	}
	if cfg.Ranking.BootstrapIterations != 50 {
		t.Errorf("bootstrap iterations = %d, want 50", cfg.Ranking.BootstrapIterations)
	}
	if cfg.Report.Separator != "," {
		t.Errorf("separator default = %q, want comma", cfg.Report.Separator)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Analysis: AnalysisConfig{
				Models:    []string{"ModelA"},
				IMTs:      []string{"PGA"},
				Component: "Geometric",
				Statistic: "Residuals",
			},
			Database: DatabaseConfig{Path: "records.db"},
			Ranking: RankingConfig{
				EDRBandwidth:        0.01,
				EDRMultiplier:       3.0,
				BootstrapIterations: 10,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no models", func(c *Config) { c.Analysis.Models = nil }},
		{"no imts", func(c *Config) { c.Analysis.IMTs = nil }},
		{"bad component", func(c *Config) { c.Analysis.Component = "Arbitrary" }},
		{"bad statistic", func(c *Config) { c.Analysis.Statistic = "Ranking" }},
		{"no database", func(c *Config) { c.Database.Path = "" }},
		{"station without sites", func(c *Config) { c.Analysis.Statistic = "SingleStation" }},
		{"zero bandwidth", func(c *Config) { c.Ranking.EDRBandwidth = 0 }},
		{"zero iterations", func(c *Config) { c.Ranking.BootstrapIterations = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
