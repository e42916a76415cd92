package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cj1101/crowseye-metering/domain/meter"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meterd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
authority:
  url: https://billing.example.com
plans:
  mode: remote
  remote:
    url: https://plans.example.com
rates:
  ai_credit_cents: 15
  scheduled_post_cents: 25
  storage_gb_cents: 299
  threshold_cents: 500
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8090 {
		t.Errorf("default port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Reporter.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d, want 3", cfg.Reporter.MaxAttempts)
	}

	table, err := cfg.RateTable()
	if err != nil {
		t.Fatalf("RateTable: %v", err)
	}
	if table.Rate(meter.TypeStorageGB) != 299 {
		t.Errorf("storage rate = %d, want 299", table.Rate(meter.TypeStorageGB))
	}
	if table.Threshold() != 500 {
		t.Errorf("threshold = %d, want 500", table.Threshold())
	}
}

func TestLoad_MissingRateFailsFast(t *testing.T) {
	missing := `
authority:
  url: https://billing.example.com
plans:
  mode: remote
  remote:
    url: https://plans.example.com
rates:
  ai_credit_cents: 15
  scheduled_post_cents: 25
  threshold_cents: 500
`
	if _, err := Load(writeConfig(t, missing)); err == nil {
		t.Fatal("expected error for missing storage_gb_cents")
	}
}

func TestLoad_ZeroRateIsNotMissing(t *testing.T) {
	// An explicit zero rate is a deliberate pricing choice, distinct from
	// an absent one.
	zero := `
authority:
  url: https://billing.example.com
plans:
  mode: remote
  remote:
    url: https://plans.example.com
rates:
  ai_credit_cents: 0
  scheduled_post_cents: 25
  storage_gb_cents: 299
  threshold_cents: 500
`
	cfg, err := Load(writeConfig(t, zero))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	table, err := cfg.RateTable()
	if err != nil {
		t.Fatalf("RateTable: %v", err)
	}
	if table.Rate(meter.TypeAICredit) != 0 {
		t.Errorf("rate = %d, want 0", table.Rate(meter.TypeAICredit))
	}
}

func TestLoad_MissingAuthority(t *testing.T) {
	noAuthority := `
plans:
  mode: static
rates:
  ai_credit_cents: 15
  scheduled_post_cents: 25
  storage_gb_cents: 299
`
	if _, err := Load(writeConfig(t, noAuthority)); err == nil {
		t.Fatal("expected error for missing authority.url")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CROWSEYE_SERVER_PORT", "9999")
	t.Setenv("CROWSEYE_RATE_AI_CREDIT", "20")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Rates.AICreditCents == nil || *cfg.Rates.AICreditCents != 20 {
		t.Errorf("ai credit rate not overridden: %v", cfg.Rates.AICreditCents)
	}
}

func TestLoad_InvalidPaymentMode(t *testing.T) {
	bad := validConfig + `
payment:
  mode: paypal
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected error for unknown payment mode")
	}
}
