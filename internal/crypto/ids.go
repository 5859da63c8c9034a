package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/crypto/ripemd160"
)

// FingerprintSize is the size of a public key fingerprint in bytes.
const FingerprintSize = 20

// Fingerprint is the 160-bit identifier of a public key, computed as
// RIPEMD160(SHA256(der)) over the DER SubjectPublicKeyInfo bytes.
//
// Using two different hashes avoids length extension attacks, and RIPEMD160
// is the usual choice for a 160-bit identifier. The whole DER encoding is
// hashed so keys of different algorithms can never collide on fingerprint.
type Fingerprint [FingerprintSize]byte

// CalcFingerprint computes the fingerprint of a DER-encoded public key.
func CalcFingerprint(publicKeyDER []byte) Fingerprint {
	sha := sha256.Sum256(publicKeyDER)

	h := ripemd160.New()
	h.Write(sha[:])
	sum := h.Sum(nil)

	var fp Fingerprint
	copy(fp[:], sum)
	return fp
}

// String returns the lowercase hex form used as a storage key.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero returns true if the fingerprint is all zeros.
func (f Fingerprint) IsZero() bool {
	for _, b := range f {
		if b != 0 {
			return false
		}
	}
	return true
}
