package payment

import (
	"context"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto/paytree"
)

// PaytreePaymentInput is one Merkle-leaf payment.
type PaytreePaymentInput struct {
	ChannelID string
	I         uint64
	Leaf      []byte
	Proof     [][]byte
}

// PayPaytree verifies the leaf's inclusion proof against the channel's
// Merkle commitment and applies it through the atomic guard. Returns the
// accepted snapshot. The first valid payment carries i >= 1; i = 0 is the
// initial reference state and is rejected as non-monotonic.
func (s *Service) PayPaytree(ctx context.Context, in *PaytreePaymentInput) (*channel.Channel, error) {
	ch, err := s.loadChannel(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if ch.Status == channel.StatusClosed {
		return nil, channel.ErrChannelClosed
	}
	if ch.Mode != channel.ModePaytree {
		return nil, channel.ErrModeMismatch
	}
	if in.I == 0 {
		return nil, channel.ErrNonMonotonicIndex
	}

	commitment := paytree.Commitment{
		Root: ch.Commitment.Root,
		MaxI: ch.Commitment.IndexCap,
	}
	if err := commitment.VerifyProof(in.Leaf, in.I, in.Proof); err != nil {
		if err == paytree.ErrIndexOutOfRange {
			return nil, channel.ErrExceedsIndexCap
		}
		return nil, channel.ErrInvalidProof
	}

	candidate := &channel.PaytreeState{I: in.I, Leaf: in.Leaf, Proof: in.Proof}
	return s.applyPayment(ctx, in.ChannelID, channel.ModePaytree, candidate, channel.GuardFor(ch))
}
