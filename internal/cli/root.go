package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nanomonid",
	Short: "nanomoni - off-chain micropayment channels",
	Long: `nanomonid runs the NanoMoni micropayment system: an issuer that
registers clients and mints certificates, and a vendor that meters service
over per-client payment channels in signature, payword or paytree mode.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and runs it. This is
// called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}
