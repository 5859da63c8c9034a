package secp256k1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalCrypto "github.com/otaviootavio/nanomoni/internal/crypto"
)

func TestSignVerify(t *testing.T) {
	p := New()
	priv, pub, err := p.GenerateKeypair()
	require.NoError(t, err)
	require.Len(t, priv, 32)

	digest := internalCrypto.Digest([]byte("payment payload"))
	sig, err := p.Sign(priv, digest)
	require.NoError(t, err)

	assert.True(t, p.Verify(pub, digest, sig))
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	p := New()
	priv, pub, err := p.GenerateKeypair()
	require.NoError(t, err)

	message := []byte("payment payload")
	digest := internalCrypto.Digest(message)
	sig, err := p.Sign(priv, digest)
	require.NoError(t, err)

	flipped := append([]byte(nil), message...)
	flipped[len(flipped)-1] ^= 0x80
	assert.False(t, p.Verify(pub, internalCrypto.Digest(flipped), sig))

	badSig := append([]byte(nil), sig...)
	badSig[len(badSig)-1] ^= 0x01
	assert.False(t, p.Verify(pub, digest, badSig))
}

func TestVerifyMalformedInputsDoNotPanic(t *testing.T) {
	p := New()
	priv, pub, err := p.GenerateKeypair()
	require.NoError(t, err)

	digest := internalCrypto.Digest([]byte("m"))
	sig, err := p.Sign(priv, digest)
	require.NoError(t, err)

	tt := []struct {
		description string
		pub         []byte
		sig         []byte
	}{
		{"empty key", nil, sig},
		{"garbage key", []byte{1, 2, 3}, sig},
		{"p256 key wrong curve", mustP256SPKI(t), sig},
		{"empty signature", pub, nil},
		{"garbage signature", pub, []byte{0x30, 0x01}},
	}

	for _, tc := range tt {
		t.Run(tc.description, func(t *testing.T) {
			assert.False(t, p.Verify(tc.pub, digest, tc.sig))
		})
	}
}

// mustP256SPKI builds an SPKI declaring the P-256 curve; the secp256k1
// provider must refuse it by OID before touching the point.
func mustP256SPKI(t *testing.T) []byte {
	t.Helper()
	point := make([]byte, 65)
	point[0] = 0x04
	der, err := internalCrypto.MarshalSPKI(internalCrypto.OIDCurveP256, point)
	require.NoError(t, err)
	return der
}

func TestPublicKeyDerivation(t *testing.T) {
	p := New()
	priv, pub, err := p.GenerateKeypair()
	require.NoError(t, err)

	derived, err := p.PublicKey(priv)
	require.NoError(t, err)
	assert.Equal(t, pub, derived)
}

func TestCrossProviderDispatch(t *testing.T) {
	reg := internalCrypto.NewRegistry(New())
	priv, pub, err := New().GenerateKeypair()
	require.NoError(t, err)

	digest := internalCrypto.Digest([]byte("m"))
	sig, err := New().Sign(priv, digest)
	require.NoError(t, err)

	assert.True(t, reg.VerifyAuto(pub, digest, sig))

	// A registry without the provider verifies false, never panics.
	empty := internalCrypto.NewRegistry()
	assert.False(t, empty.VerifyAuto(pub, digest, sig))
}
