// Package p256 implements the SignatureProvider for ECDSA over NIST P-256.
// Keys and signatures use the standard library codecs: PKCS#8 private keys,
// PKIX (SubjectPublicKeyInfo) public keys, ASN.1 DER signatures.
package p256

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	internalCrypto "github.com/otaviootavio/nanomoni/internal/crypto"
)

// ProviderName identifies this provider in config and key files.
const ProviderName = "p256"

// Provider implements crypto.SignatureProvider for P-256.
type Provider struct{}

// New returns a P-256 signature provider.
func New() *Provider {
	return &Provider{}
}

// Name implements crypto.SignatureProvider.
func (p *Provider) Name() string {
	return ProviderName
}

// Curve implements crypto.SignatureProvider.
func (p *Provider) Curve() asn1.ObjectIdentifier {
	return internalCrypto.OIDCurveP256
}

// GenerateKeypair creates a fresh P-256 keypair. The private key is PKCS#8
// DER, the public key PKIX DER.
func (p *Provider) GenerateKeypair() ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}

	priv, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return priv, pub, nil
}

// PublicKey derives the PKIX DER public key from PKCS#8 private key bytes.
func (p *Provider) PublicKey(privateKey []byte) ([]byte, error) {
	key, err := p.parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKIXPublicKey(&key.PublicKey)
}

// Sign produces an ASN.1 DER signature over the digest.
func (p *Provider) Sign(privateKey []byte, digest [32]byte) ([]byte, error) {
	key, err := p.parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// Verify reports whether signatureDER is valid over digest under the key.
// Malformed keys or signatures verify as false.
func (p *Provider) Verify(publicKeyDER []byte, digest [32]byte, signatureDER []byte) bool {
	parsed, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return false
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return false
	}
	return ecdsa.VerifyASN1(pub, digest[:], signatureDER)
}

func (p *Provider) parsePrivateKey(privateKey []byte) (*ecdsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalCrypto.ErrInvalidPrivateKey, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, internalCrypto.ErrInvalidPrivateKey
	}
	return key, nil
}
