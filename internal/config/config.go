// Package config loads the nanomoni configuration from file, environment
// and defaults via viper.
package config

import (
	"time"
)

// Config is the full application configuration.
type Config struct {
	Vendor     VendorConfig     `mapstructure:"vendor"`
	Issuer     IssuerConfig     `mapstructure:"issuer"`
	Store      StoreConfig      `mapstructure:"store"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

// VendorConfig configures the vendor service.
type VendorConfig struct {
	Listen         string        `mapstructure:"listen"`
	IssuerURL      string        `mapstructure:"issuer_url"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	IssuerTimeout  time.Duration `mapstructure:"issuer_timeout"`
}

// IssuerConfig configures the issuer service.
type IssuerConfig struct {
	Listen         string        `mapstructure:"listen"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Algorithm      string        `mapstructure:"algorithm"`
	CertificateTTL time.Duration `mapstructure:"certificate_ttl"`
}

// StoreConfig configures the channel state store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SettlementConfig configures the relational settlement ledger.
type SettlementConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}
