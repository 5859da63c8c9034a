package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults installs the default values every deployment starts from.
func setDefaults(v *viper.Viper) {
	v.SetDefault("vendor.listen", "127.0.0.1:8401")
	v.SetDefault("vendor.issuer_url", "http://127.0.0.1:8402")
	v.SetDefault("vendor.private_key_path", "vendor_key.pem")
	v.SetDefault("vendor.issuer_timeout", 10*time.Second)

	v.SetDefault("issuer.listen", "127.0.0.1:8402")
	v.SetDefault("issuer.private_key_path", "issuer_key.pem")
	v.SetDefault("issuer.algorithm", "p256")
	v.SetDefault("issuer.certificate_ttl", 24*time.Hour)

	v.SetDefault("store.backend", "pebble")
	v.SetDefault("store.path", "nanomoni-channels")

	v.SetDefault("settlement.driver", "sqlite")
	v.SetDefault("settlement.dsn", "file:nanomoni.db")
}
