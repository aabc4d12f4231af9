package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/warp/recon-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN no environment overrides
	t.Setenv("RECON_PORT", "")
	t.Setenv("RECON_DB", "")
	t.Setenv("RECON_CONCURRENCY", "")
	t.Setenv("RECON_SCHEDULER", "")
	t.Setenv("RECON_THRESHOLDS", "")

	// WHEN configuration loads
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// THEN defaults apply across the board
	if cfg.Port != 8080 || cfg.DBPath != "recon.db" || cfg.Concurrency != 4 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.SchedulerEnabled {
		t.Error("expected scheduler enabled by default")
	}
	if cfg.Anomaly.ZScoreWindow != 12 {
		t.Errorf("expected default detector config, got %+v", cfg.Anomaly)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	// GIVEN environment overrides
	t.Setenv("RECON_PORT", "9090")
	t.Setenv("RECON_DB", "/tmp/recon-test.db")
	t.Setenv("RECON_CONCURRENCY", "8")
	t.Setenv("RECON_SCHEDULER", "off")
	t.Setenv("RECON_THRESHOLDS", "")

	// WHEN configuration loads
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// THEN the overrides win
	if cfg.Port != 9090 || cfg.DBPath != "/tmp/recon-test.db" || cfg.Concurrency != 8 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.SchedulerEnabled {
		t.Error("expected scheduler disabled")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("RECON_PORT", "eighty")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestLoad_ThresholdsOverlay(t *testing.T) {
	// GIVEN a YAML thresholds file setting only some detector knobs
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	yaml := "zscore_threshold: 3.0\nround_number_max_rate: 0.25\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write thresholds: %v", err)
	}
	t.Setenv("RECON_PORT", "")
	t.Setenv("RECON_THRESHOLDS", path)

	// WHEN configuration loads
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// THEN the named keys are overlaid and the rest keep defaults
	if cfg.Anomaly.ZScoreThreshold != 3.0 {
		t.Errorf("expected z-score threshold 3.0, got %v", cfg.Anomaly.ZScoreThreshold)
	}
	if cfg.Anomaly.RoundNumberMaxRate != 0.25 {
		t.Errorf("expected round rate 0.25, got %v", cfg.Anomaly.RoundNumberMaxRate)
	}
	if cfg.Anomaly.BenfordMinSamples != 50 {
		t.Errorf("expected Benford default kept, got %d", cfg.Anomaly.BenfordMinSamples)
	}
}

func TestLoad_MissingThresholdsFile(t *testing.T) {
	t.Setenv("RECON_THRESHOLDS", "/nonexistent/thresholds.yaml")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for missing thresholds file")
	}
}
