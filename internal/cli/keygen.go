package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/crypto/algorithms/p256"
	"github.com/otaviootavio/nanomoni/internal/crypto/algorithms/secp256k1"
)

var (
	keygenAlgorithm string
	keygenOut       string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a keypair and write it to a PEM file",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := crypto.NewRegistry(p256.New(), secp256k1.New())
		provider, err := registry.ByName(keygenAlgorithm)
		if err != nil {
			return err
		}

		priv, pub, err := provider.GenerateKeypair()
		if err != nil {
			return err
		}

		pemBytes, err := crypto.EncodePrivateKeyPEM(provider.Name(), priv)
		if err != nil {
			return err
		}
		if err := os.WriteFile(keygenOut, pemBytes, 0600); err != nil {
			return err
		}

		fmt.Printf("wrote %s\n", keygenOut)
		fmt.Printf("public key: %s\n", crypto.PublicKeyToBase64(pub))
		fmt.Printf("fingerprint: %s\n", crypto.CalcFingerprint(pub))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenAlgorithm, "algorithm", "p256", "key algorithm (p256|secp256k1)")
	keygenCmd.Flags().StringVar(&keygenOut, "out", "key.pem", "output file")
	rootCmd.AddCommand(keygenCmd)
}
