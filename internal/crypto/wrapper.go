package crypto

import (
	"encoding/asn1"
	"fmt"
)

// SignatureProvider abstracts one ECDSA curve implementation. Private keys
// are provider-specific opaque bytes; public keys are always DER
// SubjectPublicKeyInfo so they can travel between parties unambiguously.
type SignatureProvider interface {
	// Name is the stable provider identifier used in config and key files.
	Name() string

	// Curve is the named curve OID this provider handles.
	Curve() asn1.ObjectIdentifier

	// GenerateKeypair creates a fresh keypair.
	GenerateKeypair() (privateKey []byte, publicKeyDER []byte, err error)

	// PublicKey derives the DER public key from private key bytes.
	PublicKey(privateKey []byte) ([]byte, error)

	// Sign produces a DER-encoded ECDSA signature over the digest.
	Sign(privateKey []byte, digest [32]byte) (signatureDER []byte, err error)

	// Verify reports whether signatureDER is a valid signature over digest
	// under publicKeyDER. Any structural malformation of the key or the
	// signature is a verification failure, never a panic.
	Verify(publicKeyDER []byte, digest [32]byte, signatureDER []byte) bool
}

// Registry resolves providers by name and by the curve OID embedded in a
// public key, so verification can dispatch on the key itself.
type Registry struct {
	byName map[string]SignatureProvider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...SignatureProvider) *Registry {
	r := &Registry{byName: make(map[string]SignatureProvider, len(providers))}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

// ByName returns the provider registered under name.
func (r *Registry) ByName(name string) (SignatureProvider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, name)
	}
	return p, nil
}

// ForPublicKey picks the provider matching the curve OID of a DER public key.
func (r *Registry) ForPublicKey(publicKeyDER []byte) (SignatureProvider, error) {
	info, err := ParseSPKI(publicKeyDER)
	if err != nil {
		return nil, err
	}
	for _, p := range r.byName {
		if p.Curve().Equal(info.Curve) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: curve %v", ErrUnknownAlgorithm, info.Curve)
}

// VerifyAuto verifies a signature dispatching on the public key's curve.
// Unknown curves and malformed keys verify as false.
func (r *Registry) VerifyAuto(publicKeyDER []byte, digest [32]byte, signatureDER []byte) bool {
	p, err := r.ForPublicKey(publicKeyDER)
	if err != nil {
		return false
	}
	return p.Verify(publicKeyDER, digest, signatureDER)
}
