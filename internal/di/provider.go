package di

import (
	"context"
	"fmt"
	"os"

	"github.com/otaviootavio/nanomoni/internal/config"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/crypto/algorithms/p256"
	"github.com/otaviootavio/nanomoni/internal/crypto/algorithms/secp256k1"
	"github.com/otaviootavio/nanomoni/internal/issuer"
	"github.com/otaviootavio/nanomoni/internal/payment"
	"github.com/otaviootavio/nanomoni/internal/storage/channelstore"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

// Service names resolvable from the container.
const (
	ServiceRegistry     = "crypto.registry"
	ServiceChannelStore = "storage.channelstore"
	ServiceSettlement   = "storage.settlement"
	ServiceIssuerKeys   = "issuer.keycache"
	ServiceVendor       = "vendor.service"
	ServiceIssuer       = "issuer.service"
)

// Setup registers all builders for the application services.
func Setup(c *Container, cfg *config.Config) {
	c.RegisterBuilder(ServiceRegistry, func(*Container) (interface{}, error) {
		return crypto.NewRegistry(p256.New(), secp256k1.New()), nil
	})

	c.RegisterBuilder(ServiceChannelStore, func(*Container) (interface{}, error) {
		return channelstore.Open(channelstore.Config{
			Backend: cfg.Store.Backend,
			Path:    cfg.Store.Path,
		})
	})

	c.RegisterBuilder(ServiceSettlement, func(*Container) (interface{}, error) {
		return settlement.Open(context.Background(), settlement.Config{
			Driver: cfg.Settlement.Driver,
			DSN:    cfg.Settlement.DSN,
		})
	})

	c.RegisterBuilder(ServiceIssuerKeys, func(*Container) (interface{}, error) {
		cl := issuer.NewClient(cfg.Vendor.IssuerURL, cfg.Vendor.IssuerTimeout)
		return issuer.NewKeyCache(cl.FetchPublicKey), nil
	})

	c.RegisterBuilder(ServiceVendor, func(c *Container) (interface{}, error) {
		store, err := c.Get(ServiceChannelStore)
		if err != nil {
			return nil, err
		}
		registry, err := c.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		keys, err := c.Get(ServiceIssuerKeys)
		if err != nil {
			return nil, err
		}
		settle, err := c.Get(ServiceSettlement)
		if err != nil {
			return nil, err
		}
		return payment.NewService(
			store.(channelstore.Store),
			registry.(*crypto.Registry),
			keys.(*issuer.KeyCache),
			settle.(*settlement.DB),
		)
	})

	c.RegisterBuilder(ServiceIssuer, func(c *Container) (interface{}, error) {
		registry, err := c.Get(ServiceRegistry)
		if err != nil {
			return nil, err
		}
		settle, err := c.Get(ServiceSettlement)
		if err != nil {
			return nil, err
		}

		provider, privKey, err := loadPrivateKey(registry.(*crypto.Registry), cfg.Issuer.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return issuer.NewService(provider, privKey, cfg.Issuer.CertificateTTL, settle.(*settlement.DB))
	})
}

// loadPrivateKey reads a PEM private key file and resolves its provider.
func loadPrivateKey(registry *crypto.Registry, path string) (crypto.SignatureProvider, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("private key unreadable: %w", err)
	}
	algorithm, key, err := crypto.DecodePrivateKeyPEM(data)
	if err != nil {
		return nil, nil, fmt.Errorf("private key unreadable: %w", err)
	}
	provider, err := registry.ByName(algorithm)
	if err != nil {
		return nil, nil, err
	}
	return provider, key, nil
}
