package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otaviootavio/nanomoni/internal/config"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/di"
	"github.com/otaviootavio/nanomoni/internal/payment"
	"github.com/otaviootavio/nanomoni/internal/server"
)

var vendorCmd = &cobra.Command{
	Use:   "vendor",
	Short: "Run the vendor payment server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		c := di.New()
		di.Setup(c, cfg)

		svc := c.MustGet(di.ServiceVendor).(*payment.Service)
		registry := c.MustGet(di.ServiceRegistry).(*crypto.Registry)

		handler := server.NewVendorHandler(svc, registry)
		srv := server.New("vendor", cfg.Vendor.Listen, handler.Router())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(vendorCmd)
}
