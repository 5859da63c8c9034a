// Package secp256k1 implements the SignatureProvider for ECDSA over
// secp256k1. crypto/x509 does not know this curve, so the
// SubjectPublicKeyInfo wrapper is assembled by the shared key codec; the
// curve arithmetic comes from btcec and the underlying dcrd implementation.
package secp256k1

import (
	"encoding/asn1"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	internalCrypto "github.com/otaviootavio/nanomoni/internal/crypto"
)

// ProviderName identifies this provider in config and key files.
const ProviderName = "secp256k1"

// privateKeySize is the raw scalar size used as the private key encoding.
const privateKeySize = 32

// Provider implements crypto.SignatureProvider for secp256k1.
type Provider struct{}

// New returns a secp256k1 signature provider.
func New() *Provider {
	return &Provider{}
}

// Name implements crypto.SignatureProvider.
func (p *Provider) Name() string {
	return ProviderName
}

// Curve implements crypto.SignatureProvider.
func (p *Provider) Curve() asn1.ObjectIdentifier {
	return internalCrypto.OIDCurveSecp256k1
}

// GenerateKeypair creates a fresh secp256k1 keypair. The private key is the
// raw 32-byte scalar; the public key is DER SubjectPublicKeyInfo carrying
// the uncompressed point.
func (p *Provider) GenerateKeypair() ([]byte, []byte, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}

	pub, err := internalCrypto.MarshalSPKI(
		internalCrypto.OIDCurveSecp256k1,
		key.PubKey().SerializeUncompressed(),
	)
	if err != nil {
		return nil, nil, err
	}
	return key.Serialize(), pub, nil
}

// PublicKey derives the DER public key from the raw private scalar.
func (p *Provider) PublicKey(privateKey []byte) ([]byte, error) {
	key, err := p.parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return internalCrypto.MarshalSPKI(
		internalCrypto.OIDCurveSecp256k1,
		key.PubKey().SerializeUncompressed(),
	)
}

// Sign produces a DER-encoded ECDSA signature over the digest.
func (p *Provider) Sign(privateKey []byte, digest [32]byte) ([]byte, error) {
	key, err := p.parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	sig := btcecdsa.Sign(key, digest[:])
	return sig.Serialize(), nil
}

// Verify reports whether signatureDER is valid over digest under the key.
// Malformed keys or signatures verify as false.
func (p *Provider) Verify(publicKeyDER []byte, digest [32]byte, signatureDER []byte) bool {
	info, err := internalCrypto.ParseSPKI(publicKeyDER)
	if err != nil || !info.Curve.Equal(internalCrypto.OIDCurveSecp256k1) {
		return false
	}
	pub, err := btcec.ParsePubKey(info.Point)
	if err != nil {
		return false
	}
	sig, err := btcecdsa.ParseDERSignature(signatureDER)
	if err != nil {
		return false
	}
	return sig.Verify(digest[:], pub)
}

func (p *Provider) parsePrivateKey(privateKey []byte) (*secp256k1.PrivateKey, error) {
	if len(privateKey) != privateKeySize {
		return nil, internalCrypto.ErrInvalidPrivateKey
	}
	return secp256k1.PrivKeyFromBytes(privateKey), nil
}
