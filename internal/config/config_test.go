package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "LOCATION_ID", "TAX_RATE_PERCENT",
		"CATALOG_TTL_SECONDS", "ACCESS_TOKEN_TTL_MINUTES",
		"TERMINAL_PORT", "TERMINAL_DATA_FILE", "SERVER_URL",
		"SYNC_INTERVAL_SECONDS", "TERMINAL_USERNAME",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.LocationID != "main-store" {
		t.Fatalf("LocationID = %q", cfg.LocationID)
	}
	if cfg.TaxRatePercent != 8.25 {
		t.Fatalf("TaxRatePercent = %v", cfg.TaxRatePercent)
	}
	if cfg.CatalogTTLSeconds != 20 || cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("ttls = %d/%d", cfg.CatalogTTLSeconds, cfg.AccessTokenTTLMinutes)
	}
	if cfg.TerminalPort != "8090" || cfg.SyncIntervalSeconds != 30 {
		t.Fatalf("terminal defaults = %q/%d", cfg.TerminalPort, cfg.SyncIntervalSeconds)
	}
	if cfg.Address() != ":8080" || cfg.TerminalAddress() != ":8090" {
		t.Fatalf("addresses = %q/%q", cfg.Address(), cfg.TerminalAddress())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("TAX_RATE_PERCENT", "10.5")
	t.Setenv("MANAGER_PIN", "  482619  ")
	t.Setenv("SYNC_INTERVAL_SECONDS", "5")
	t.Setenv("TERMINAL_DATA_FILE", "/var/lib/lumapos/terminal.json")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.TaxRatePercent != 10.5 {
		t.Fatalf("TaxRatePercent = %v", cfg.TaxRatePercent)
	}
	if cfg.ManagerPIN != "482619" {
		t.Fatalf("ManagerPIN = %q, want trimmed", cfg.ManagerPIN)
	}
	if cfg.SyncIntervalSeconds != 5 {
		t.Fatalf("SyncIntervalSeconds = %d", cfg.SyncIntervalSeconds)
	}
	if cfg.TerminalDataFile != "/var/lib/lumapos/terminal.json" {
		t.Fatalf("TerminalDataFile = %q", cfg.TerminalDataFile)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("TAX_RATE_PERCENT", "-3")
	t.Setenv("CATALOG_TTL_SECONDS", "zero")
	t.Setenv("SYNC_INTERVAL_SECONDS", "0")

	cfg := Load()
	if cfg.TaxRatePercent != 8.25 {
		t.Fatalf("TaxRatePercent = %v, want default", cfg.TaxRatePercent)
	}
	if cfg.CatalogTTLSeconds != 20 {
		t.Fatalf("CatalogTTLSeconds = %d, want default", cfg.CatalogTTLSeconds)
	}
	if cfg.SyncIntervalSeconds != 30 {
		t.Fatalf("SyncIntervalSeconds = %d, want default", cfg.SyncIntervalSeconds)
	}
}
