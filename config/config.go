package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"custodia/crypto"
)

// GenesisAccount seeds a ledger balance at startup. Amounts are decimal
// strings so genesis files survive balances beyond int64.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Config is the node configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`

	AdminAddress     string `toml:"AdminAddress"`
	InspectorAddress string `toml:"InspectorAddress"`
	LenderAddress    string `toml:"LenderAddress"`

	KeystorePath  string `toml:"KeystorePath"`
	JWTSecretFile string `toml:"JWTSecretFile"`

	RateLimitPerMinute int  `toml:"RateLimitPerMinute"`
	RateLimitBurst     int  `toml:"RateLimitBurst"`
	MetricsEnabled     bool `toml:"MetricsEnabled"`

	LogLevel  string `toml:"LogLevel"`
	LogFile   string `toml:"LogFile"`
	LogFormat string `toml:"LogFormat"`

	OTLPEndpoint string `toml:"OTLPEndpoint"`

	Genesis []GenesisAccount `toml:"genesis"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:      ":8645",
		DataDir:            "./custodia-data",
		RateLimitPerMinute: 600,
		RateLimitBurst:     60,
		MetricsEnabled:     true,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load reads the TOML file at path, applies defaults for unset fields and
// validates the result. A missing file yields the defaults with no roles
// configured, which Validate rejects; callers get one coherent error path.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks role addresses and limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	for name, addr := range map[string]string{
		"AdminAddress":     c.AdminAddress,
		"InspectorAddress": c.InspectorAddress,
		"LenderAddress":    c.LenderAddress,
	} {
		if _, err := decodeRole(addr); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("config: RateLimitPerMinute must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: RateLimitBurst must be positive")
	}
	for i, acc := range c.Genesis {
		if _, err := decodeRole(acc.Address); err != nil {
			return fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		if strings.TrimSpace(acc.Amount) == "" {
			return fmt.Errorf("config: genesis[%d]: amount required", i)
		}
	}
	return nil
}

func decodeRole(addr string) ([20]byte, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(addr)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

// Admin returns the decoded administrator identity.
func (c Config) Admin() ([20]byte, error) { return decodeRole(c.AdminAddress) }

// Inspector returns the decoded inspector identity.
func (c Config) Inspector() ([20]byte, error) { return decodeRole(c.InspectorAddress) }

// Lender returns the decoded lender identity.
func (c Config) Lender() ([20]byte, error) { return decodeRole(c.LenderAddress) }
