package channel

import (
	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// The signed payload shapes. Every one has a single byte-exact canonical
// encoding: compact JSON with keys in lexical order (struct fields below
// are declared in that order, and the canonical encoder sorts map keys the
// same way). Timestamps are Unix seconds so the encoding carries no
// locale or precision ambiguity.

// OpenChannelRequest is the client-signed request to open a channel. The
// channel ID is computed client-side so mode commitments (whose leaves bind
// to the channel) can be built before the request is sent; the vendor
// validates and adopts it.
type OpenChannelRequest struct {
	ChannelAmount      uint64 `codec:"channel_amount"`
	ChannelID          string `codec:"channel_id"`
	ClientPublicKeyB64 string `codec:"client_public_key"`
	CommitmentRootB64  string `codec:"commitment_root"`
	IndexCap           uint64 `codec:"index_cap"`
	Mode               string `codec:"mode"`
	UnitValue          uint64 `codec:"unit_value"`
}

// CanonicalBytes returns the canonical signing bytes of the request.
func (r *OpenChannelRequest) CanonicalBytes() ([]byte, error) {
	return crypto.CanonicalMarshal(r)
}

// SignatureModeUpdate is the client-signed cumulative owed-amount update.
type SignatureModeUpdate struct {
	ChannelID            string `codec:"channel_id"`
	CumulativeOwedAmount uint64 `codec:"cumulative_owed_amount"`
}

// CanonicalBytes returns the canonical signing bytes of the update.
func (u *SignatureModeUpdate) CanonicalBytes() ([]byte, error) {
	return crypto.CanonicalMarshal(u)
}

// ClosingStatement is the final channel statement emitted at close and
// handed to settlement. A second close of the same channel returns these
// exact bytes again.
type ClosingStatement struct {
	ChannelID                 string `codec:"channel_id"`
	ClosedAt                  int64  `codec:"closed_at"`
	FinalCumulativeOwedAmount uint64 `codec:"final_cumulative_owed_amount"`
}

// CanonicalBytes returns the canonical signing bytes of the statement.
func (s *ClosingStatement) CanonicalBytes() ([]byte, error) {
	return crypto.CanonicalMarshal(s)
}

// CertificateBody is the issuer-signed portion of a client certificate.
type CertificateBody struct {
	ClientPublicKeyB64 string `codec:"client_public_key"`
	ExpiresAt          int64  `codec:"expires_at"`
	InitialBalance     uint64 `codec:"initial_balance"`
	IssuedAt           int64  `codec:"issued_at"`
}

// CanonicalBytes returns the canonical signing bytes of the body.
func (b *CertificateBody) CanonicalBytes() ([]byte, error) {
	return crypto.CanonicalMarshal(b)
}
