package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"timegate/crypto"
)

// TokenConfig describes the payment token the daemon registers at bootstrap.
type TokenConfig struct {
	Symbol      string `toml:"Symbol"`
	Name        string `toml:"Name"`
	Decimals    uint8  `toml:"Decimals"`
	MetadataURI string `toml:"MetadataURI,omitempty"`
}

type Config struct {
	DataDir         string      `toml:"DataDir"`
	MetricsAddress  string      `toml:"MetricsAddress"`
	PaymentToken    TokenConfig `toml:"PaymentToken"`
	DefaultTreasury string      `toml:"DefaultTreasury,omitempty"`
	Admins          []string    `toml:"Admins"`
}

// Load loads the configuration from the given path, creating a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration for structural problems before the
// daemon commits to it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	if strings.TrimSpace(c.PaymentToken.Symbol) == "" {
		return fmt.Errorf("PaymentToken.Symbol must not be empty")
	}
	if strings.TrimSpace(c.PaymentToken.Name) == "" {
		return fmt.Errorf("PaymentToken.Name must not be empty")
	}
	if strings.TrimSpace(c.DefaultTreasury) != "" {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(c.DefaultTreasury)); err != nil {
			return fmt.Errorf("DefaultTreasury: %w", err)
		}
	}
	for _, admin := range c.Admins {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(admin)); err != nil {
			return fmt.Errorf("Admins entry %q: %w", admin, err)
		}
	}
	return nil
}

// DefaultTreasuryAddress decodes the configured fallback treasury. The
// boolean reports whether one was configured at all.
func (c *Config) DefaultTreasuryAddress() (crypto.Address, bool, error) {
	trimmed := strings.TrimSpace(c.DefaultTreasury)
	if trimmed == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, false, err
	}
	return addr, true, nil
}

// AdminAddresses decodes the configured administrative accounts.
func (c *Config) AdminAddresses() ([]crypto.Address, error) {
	admins := make([]crypto.Address, 0, len(c.Admins))
	for _, raw := range c.Admins {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		admins = append(admins, addr)
	}
	return admins, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:        "./timegate-data",
		MetricsAddress: ":9464",
		PaymentToken: TokenConfig{
			Symbol:   "PAY",
			Name:     "TimeGate Payment Token",
			Decimals: 18,
		},
		Admins: []string{},
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
