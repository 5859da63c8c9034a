package config

import (
	"fmt"

	"github.com/otaviootavio/nanomoni/internal/storage/channelstore"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

// Validate checks the configuration for values that would only fail later
// at runtime. Missing configuration at startup is fatal, not retried.
func Validate(cfg *Config) error {
	if cfg.Vendor.Listen == "" {
		return fmt.Errorf("vendor.listen must be set")
	}
	if cfg.Issuer.Listen == "" {
		return fmt.Errorf("issuer.listen must be set")
	}
	if cfg.Vendor.IssuerURL == "" {
		return fmt.Errorf("vendor.issuer_url must be set")
	}

	switch cfg.Store.Backend {
	case channelstore.BackendMemory:
	case channelstore.BackendPebble, channelstore.BackendLevelDB:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path must be set for backend %q", cfg.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
	}

	switch cfg.Settlement.Driver {
	case settlement.DriverSQLite, settlement.DriverPostgres:
	default:
		return fmt.Errorf("unknown settlement.driver %q", cfg.Settlement.Driver)
	}

	if cfg.Issuer.CertificateTTL <= 0 {
		return fmt.Errorf("issuer.certificate_ttl must be positive")
	}
	switch cfg.Issuer.Algorithm {
	case "p256", "secp256k1":
	default:
		return fmt.Errorf("unknown issuer.algorithm %q", cfg.Issuer.Algorithm)
	}
	return nil
}
