package crypto

import (
	"crypto/sha256"

	"github.com/ugorji/go/codec"
)

// canonicalHandle produces the byte-exact encoding used for everything that
// gets signed: compact JSON with lexicographically sorted map keys. Payload
// structs declare their fields in lexical tag order so struct encoding and
// map encoding agree on the same bytes.
var canonicalHandle codec.JsonHandle

func init() {
	canonicalHandle.Canonical = true
	canonicalHandle.HTMLCharsAsIs = true
}

// CanonicalMarshal encodes v into its canonical JSON byte representation.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, &canonicalHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// CanonicalUnmarshal decodes canonical JSON bytes into v.
func CanonicalUnmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, &canonicalHandle)
	return dec.Decode(v)
}

// Digest returns the SHA-256 digest of data. All signatures in the system
// are made over this digest of the canonical payload bytes.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}
