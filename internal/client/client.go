// Package client is the client-side SDK: it holds the client identity,
// derives per-channel secrets, builds and signs the canonical payloads,
// and drives the vendor HTTP surface. The PayWord token source uses the
// pebble checkpoint cache, so a client does not hold the whole hash chain
// in memory. The PayTree prover builds and keeps the whole tree in memory.
package client

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// Identity is a client keypair bound to one signature provider.
type Identity struct {
	provider     crypto.SignatureProvider
	privateKey   []byte
	publicKeyDER []byte
}

// NewIdentity wraps an existing private key.
func NewIdentity(provider crypto.SignatureProvider, privateKey []byte) (*Identity, error) {
	pub, err := provider.PublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Identity{
		provider:     provider,
		privateKey:   append([]byte(nil), privateKey...),
		publicKeyDER: pub,
	}, nil
}

// GenerateIdentity creates a fresh keypair.
func GenerateIdentity(provider crypto.SignatureProvider) (*Identity, error) {
	priv, pub, err := provider.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Identity{provider: provider, privateKey: priv, publicKeyDER: pub}, nil
}

// PublicKeyDER returns the identity's DER public key.
func (id *Identity) PublicKeyDER() []byte {
	return append([]byte(nil), id.publicKeyDER...)
}

// PublicKeyB64 returns the transport form of the public key.
func (id *Identity) PublicKeyB64() string {
	return crypto.PublicKeyToBase64(id.publicKeyDER)
}

// Fingerprint returns the identity's key fingerprint.
func (id *Identity) Fingerprint() crypto.Fingerprint {
	return crypto.CalcFingerprint(id.publicKeyDER)
}

// Sign produces a DER signature over the payload's digest.
func (id *Identity) Sign(payload []byte) ([]byte, error) {
	return id.provider.Sign(id.privateKey, crypto.Digest(payload))
}

// deriveSecret expands a channel-bound secret from the client's master
// secret via HKDF-SHA256. The info string separates the payword seed from
// the paytree secret of the same channel.
func deriveSecret(master []byte, purpose, channelID string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte("nanomoni/"+purpose+"/"+channelID))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("secret derivation failed: %w", err)
	}
	return out, nil
}
