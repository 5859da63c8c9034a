// Package channel defines the payment channel domain: the channel record,
// the per-mode latest state union, the guard predicates evaluated inside the
// state store, and the canonical signed payloads.
package channel

import (
	"fmt"
	"time"

	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// Mode selects one of the three payment protocols; fixed at channel open.
type Mode string

const (
	ModeSignature Mode = "signature"
	ModePayword   Mode = "payword"
	ModePaytree   Mode = "paytree"
)

// ParseMode validates a wire-format mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSignature, ModePayword, ModePaytree:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrMalformedRequest, s)
}

// Status is the channel lifecycle state. Transitions are monotone:
// open -> closed, never back.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Commitment is the immutable per-channel commitment fixed at open.
// Signature mode carries neither field; PayWord uses (Root=chain tip,
// IndexCap=max_k); PayTree uses (Root=merkle root, IndexCap=max_i).
type Commitment struct {
	Root     []byte `codec:"root,omitempty"`
	IndexCap uint64 `codec:"index_cap,omitempty"`
}

// Channel is one payment channel record. The atomic store is the single
// exclusive owner of a channel's mutable fields; everything handed out by
// the store is a snapshot.
type Channel struct {
	ID                string             `codec:"id"`
	ClientPublicKey   []byte             `codec:"client_public_key"`
	ClientFingerprint crypto.Fingerprint `codec:"client_fingerprint"`
	Mode              Mode               `codec:"mode"`
	Amount            uint64             `codec:"amount"`
	UnitValue         uint64             `codec:"unit_value"`
	Commitment        Commitment         `codec:"commitment"`
	OpenedAt          time.Time          `codec:"opened_at"`
	ClosedAt          time.Time          `codec:"closed_at,omitempty"`
	Status            Status             `codec:"status"`
	State             State              `codec:"-"`
}

// Validate checks the open-time invariants on the channel record:
// unit_value >= 1, amount >= unit_value, and a commitment consistent with
// the mode, with max_index * unit_value <= amount + unit_value so the
// remainder past the cap is at most one unit.
func (c *Channel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing channel id", ErrMalformedRequest)
	}
	if len(c.ClientPublicKey) == 0 {
		return fmt.Errorf("%w: missing client public key", ErrMalformedRequest)
	}
	if c.UnitValue < 1 {
		return fmt.Errorf("%w: unit value must be >= 1", ErrInvalidCommitment)
	}
	if c.Amount < c.UnitValue {
		return fmt.Errorf("%w: channel amount below unit value", ErrInvalidCommitment)
	}

	switch c.Mode {
	case ModeSignature:
		if len(c.Commitment.Root) != 0 || c.Commitment.IndexCap != 0 {
			return fmt.Errorf("%w: signature mode carries no commitment", ErrInvalidCommitment)
		}
	case ModePayword, ModePaytree:
		if len(c.Commitment.Root) == 0 {
			return fmt.Errorf("%w: missing commitment root", ErrInvalidCommitment)
		}
		if c.Commitment.IndexCap < 1 {
			return fmt.Errorf("%w: index cap must be >= 1", ErrInvalidCommitment)
		}
		if c.Commitment.IndexCap > (c.Amount+c.UnitValue)/c.UnitValue {
			return fmt.Errorf("%w: index cap overruns channel amount", ErrInvalidCommitment)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrMalformedRequest, c.Mode)
	}
	return nil
}

// CumulativeOwed is the common read API over the per-mode state: the total
// amount the client has committed to pay so far on this channel.
func (c *Channel) CumulativeOwed() uint64 {
	if c.State == nil {
		return 0
	}
	switch s := c.State.(type) {
	case *SignatureState:
		return s.OwedAmount
	default:
		return c.State.Index() * c.UnitValue
	}
}

// Clone returns a deep copy so store snapshots can never alias the
// store-owned record.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.ClientPublicKey = append([]byte(nil), c.ClientPublicKey...)
	cp.Commitment.Root = append([]byte(nil), c.Commitment.Root...)
	if c.State != nil {
		cp.State = c.State.clone()
	}
	return &cp
}
