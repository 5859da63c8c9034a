package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otaviootavio/nanomoni/internal/config"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/di"
	"github.com/otaviootavio/nanomoni/internal/issuer"
	"github.com/otaviootavio/nanomoni/internal/server"
)

var issuerCmd = &cobra.Command{
	Use:   "issuer",
	Short: "Run the issuer registration and certificate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		c := di.New()
		di.Setup(c, cfg)

		svc := c.MustGet(di.ServiceIssuer).(*issuer.Service)
		registry := c.MustGet(di.ServiceRegistry).(*crypto.Registry)

		handler := server.NewIssuerHandler(svc, registry)
		srv := server.New("issuer", cfg.Issuer.Listen, handler.Router())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(issuerCmd)
}
