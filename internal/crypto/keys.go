package crypto

import (
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// Common error definitions shared by the key codec and providers.
var (
	ErrInvalidPublicKey  = errors.New("invalid public key format")
	ErrInvalidPrivateKey = errors.New("invalid private key format")
	ErrInvalidSignature  = errors.New("invalid signature format")
	ErrUnknownAlgorithm  = errors.New("unknown key algorithm")
)

// Well-known ASN.1 object identifiers for the curves we support.
var (
	// OIDECPublicKey is the id-ecPublicKey algorithm identifier.
	OIDECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	// OIDCurveP256 is the prime256v1 / secp256r1 named curve.
	OIDCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	// OIDCurveSecp256k1 is the secp256k1 named curve.
	OIDCurveSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

// spkiAlgorithm is the AlgorithmIdentifier of a SubjectPublicKeyInfo.
type spkiAlgorithm struct {
	Algorithm  asn1.ObjectIdentifier
	NamedCurve asn1.ObjectIdentifier
}

// subjectPublicKeyInfo mirrors the outer SPKI SEQUENCE.
type subjectPublicKeyInfo struct {
	Algorithm spkiAlgorithm
	PublicKey asn1.BitString
}

// SPKI is a parsed SubjectPublicKeyInfo: the named curve plus the raw
// elliptic curve point bytes (SEC1 encoded, usually uncompressed).
type SPKI struct {
	Curve asn1.ObjectIdentifier
	Point []byte
}

// ParseSPKI decodes a DER SubjectPublicKeyInfo into its curve OID and point
// bytes. Structural malformation is a parse error, never a panic.
func ParseSPKI(der []byte) (*SPKI, error) {
	var info subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(der, &info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrInvalidPublicKey)
	}
	if !info.Algorithm.Algorithm.Equal(OIDECPublicKey) {
		return nil, fmt.Errorf("%w: not an EC public key", ErrInvalidPublicKey)
	}
	if info.PublicKey.BitLength%8 != 0 || len(info.PublicKey.Bytes) == 0 {
		return nil, fmt.Errorf("%w: malformed point", ErrInvalidPublicKey)
	}
	return &SPKI{
		Curve: info.Algorithm.NamedCurve,
		Point: info.PublicKey.Bytes,
	}, nil
}

// MarshalSPKI assembles a DER SubjectPublicKeyInfo from a named curve OID and
// SEC1 point bytes. Used by the secp256k1 provider, which crypto/x509 cannot
// express.
func MarshalSPKI(curve asn1.ObjectIdentifier, point []byte) ([]byte, error) {
	if len(point) == 0 {
		return nil, ErrInvalidPublicKey
	}
	info := subjectPublicKeyInfo{
		Algorithm: spkiAlgorithm{
			Algorithm:  OIDECPublicKey,
			NamedCurve: curve,
		},
		PublicKey: asn1.BitString{
			Bytes:     point,
			BitLength: len(point) * 8,
		},
	}
	return asn1.Marshal(info)
}

// PublicKeyFromBase64 decodes the base64 transport form of a DER public key.
func PublicKeyFromBase64(b64 string) ([]byte, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if _, err := ParseSPKI(der); err != nil {
		return nil, err
	}
	return der, nil
}

// PublicKeyToBase64 encodes DER public key bytes for transport.
func PublicKeyToBase64(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}

// SignatureFromBase64 decodes a base64 DER ECDSA signature. Only the base64
// layer is validated here; DER structure is checked by the verifier.
func SignatureFromBase64(b64 string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) == 0 {
		return nil, ErrInvalidSignature
	}
	return sig, nil
}

// SignatureToBase64 encodes a DER signature for transport.
func SignatureToBase64(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// PEM block types used for key files on disk.
const (
	pemTypePrivateKey = "NANOMONI PRIVATE KEY"
	pemTypePublicKey  = "PUBLIC KEY"
)

// privateKeyPEM is the on-disk form of a private key: the provider name plus
// the provider-specific private key bytes.
type privateKeyPEM struct {
	Algorithm string
	Key       []byte
}

// EncodePrivateKeyPEM serializes provider-specific private key bytes to PEM.
func EncodePrivateKeyPEM(algorithm string, key []byte) ([]byte, error) {
	der, err := asn1.Marshal(privateKeyPEM{Algorithm: algorithm, Key: key})
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// DecodePrivateKeyPEM parses a PEM private key file written by
// EncodePrivateKeyPEM and returns the provider name and key bytes.
func DecodePrivateKeyPEM(data []byte) (algorithm string, key []byte, err error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePrivateKey {
		return "", nil, ErrInvalidPrivateKey
	}
	var pk privateKeyPEM
	rest, err := asn1.Unmarshal(block.Bytes, &pk)
	if err != nil || len(rest) != 0 {
		return "", nil, ErrInvalidPrivateKey
	}
	return pk.Algorithm, pk.Key, nil
}

// EncodePublicKeyPEM wraps DER SubjectPublicKeyInfo bytes in PEM.
func EncodePublicKeyPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})
}

// DecodePublicKeyPEM extracts DER SubjectPublicKeyInfo bytes from PEM.
func DecodePublicKeyPEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePublicKey {
		return nil, ErrInvalidPublicKey
	}
	if _, err := ParseSPKI(block.Bytes); err != nil {
		return nil, err
	}
	return block.Bytes, nil
}
