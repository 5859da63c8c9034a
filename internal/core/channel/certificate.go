package channel

import (
	"fmt"
	"time"

	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// Certificate is the issuer-signed statement the client presents when
// opening a channel: the body fields plus the issuer's DER signature over
// the body's canonical bytes.
type Certificate struct {
	Body      CertificateBody `codec:"body"`
	Signature []byte          `codec:"signature"`
}

// Verify checks the certificate against the issuer public key and the
// validity window. The vendor trusts the certificate iff the signature
// verifies under the currently cached issuer key and now lies in
// [issued_at, expires_at].
func (c *Certificate) Verify(reg *crypto.Registry, issuerPublicKeyDER []byte, now time.Time) error {
	body, err := c.Body.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if !reg.VerifyAuto(issuerPublicKeyDER, crypto.Digest(body), c.Signature) {
		return fmt.Errorf("%w: signature does not verify", ErrInvalidCertificate)
	}

	ts := now.Unix()
	if ts < c.Body.IssuedAt {
		return fmt.Errorf("%w: not yet valid", ErrInvalidCertificate)
	}
	if ts > c.Body.ExpiresAt {
		return fmt.Errorf("%w: expired", ErrInvalidCertificate)
	}
	return nil
}
