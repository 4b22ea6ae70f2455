package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"custodia/crypto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testAddress(fill byte) string {
	raw := [20]byte{}
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustAddress(raw)
}

func TestLoadAppliesDefaults(t *testing.T) {
	body := fmt.Sprintf(`
AdminAddress = %q
InspectorAddress = %q
LenderAddress = %q
`, testAddress(0x01), testAddress(0x02), testAddress(0x03))
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8645" {
		t.Fatalf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.RateLimitPerMinute != 600 || cfg.RateLimitBurst != 60 {
		t.Fatalf("rate limits = %d/%d", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	admin, err := cfg.Admin()
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if admin == ([20]byte{}) {
		t.Fatal("admin not decoded")
	}
}

func TestLoadRejectsMissingRoles(t *testing.T) {
	if _, err := Load(writeConfig(t, "ListenAddress = \":9000\"\n")); err == nil {
		t.Fatal("expected validation error without role addresses")
	}
}

func TestLoadRejectsBadAddress(t *testing.T) {
	body := fmt.Sprintf(`
AdminAddress = "not-an-address"
InspectorAddress = %q
LenderAddress = %q
`, testAddress(0x02), testAddress(0x03))
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected validation error for malformed address")
	}
}

func TestLoadParsesGenesis(t *testing.T) {
	body := fmt.Sprintf(`
AdminAddress = %q
InspectorAddress = %q
LenderAddress = %q

[[genesis]]
Address = %q
Amount = "1000000000000000000"
`, testAddress(0x01), testAddress(0x02), testAddress(0x03), testAddress(0x04))
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Genesis) != 1 || cfg.Genesis[0].Amount != "1000000000000000000" {
		t.Fatalf("genesis = %+v", cfg.Genesis)
	}
}
