package payment

import (
	"context"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto/payword"
)

// PaywordPaymentInput is one hash-chain token payment.
type PaywordPaymentInput struct {
	ChannelID string
	K         uint64
	Token     []byte
}

// PayPayword verifies the token against the channel's chain commitment and
// applies it through the atomic guard. Returns the accepted snapshot.
//
// Verification prefers the fast path: when the last accepted token of the
// channel is still cached and the candidate is at k = last_k + 1, a single
// hash reaches it. The cache is advisory; a cold cache, a candidate that
// skips ahead, or a mismatch falls back to the full walk to the root.
func (s *Service) PayPayword(ctx context.Context, in *PaywordPaymentInput) (*channel.Channel, error) {
	ch, err := s.loadChannel(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if ch.Status == channel.StatusClosed {
		return nil, channel.ErrChannelClosed
	}
	if ch.Mode != channel.ModePayword {
		return nil, channel.ErrModeMismatch
	}
	if in.K == 0 {
		return nil, channel.ErrNonMonotonicIndex
	}

	commitment := payword.Commitment{
		Root: ch.Commitment.Root,
		MaxK: ch.Commitment.IndexCap,
	}

	verified := false
	if tip, ok := s.tips.Get(in.ChannelID); ok && in.K == tip.k+1 {
		if commitment.VerifyStep(tip.token, tip.k, in.Token, in.K) == nil {
			verified = true
		}
	}
	if !verified {
		if err := commitment.VerifyToken(in.Token, in.K); err != nil {
			if err == payword.ErrIndexOutOfRange {
				return nil, channel.ErrExceedsIndexCap
			}
			return nil, channel.ErrInvalidToken
		}
	}

	candidate := &channel.PaywordState{K: in.K, Token: in.Token}
	applied, err := s.applyPayment(ctx, in.ChannelID, channel.ModePayword, candidate, channel.GuardFor(ch))
	if err != nil {
		return nil, err
	}

	s.tips.Add(in.ChannelID, paywordTip{k: in.K, token: append([]byte(nil), in.Token...)})
	return applied, nil
}
