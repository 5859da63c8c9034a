package payment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
)

// SignaturePaymentInput is one cumulative signed owed-amount update.
type SignaturePaymentInput struct {
	ChannelID            string
	CumulativeOwedAmount uint64
	ClientSignature      []byte
}

// PaySignature verifies the client's signature over the canonical
// (channel_id, cumulative_owed_amount) update and applies it through the
// atomic guard. Returns the accepted channel snapshot.
//
// Retried duplicates are idempotent: a payment carrying the exact stored
// amount and the exact stored signature bytes returns the stored state
// instead of non_monotonic_index, so a client that lost the response can
// safely resend.
func (s *Service) PaySignature(ctx context.Context, in *SignaturePaymentInput) (*channel.Channel, error) {
	ch, err := s.loadChannel(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if ch.Status == channel.StatusClosed {
		return nil, channel.ErrChannelClosed
	}
	if ch.Mode != channel.ModeSignature {
		return nil, channel.ErrModeMismatch
	}

	update := channel.SignatureModeUpdate{
		ChannelID:            in.ChannelID,
		CumulativeOwedAmount: in.CumulativeOwedAmount,
	}
	payload, err := update.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrMalformedRequest, err)
	}
	if err := s.verifyClientSignature(ch, payload, in.ClientSignature); err != nil {
		return nil, err
	}

	if cur, ok := ch.State.(*channel.SignatureState); ok {
		if cur.OwedAmount == in.CumulativeOwedAmount &&
			bytes.Equal(cur.ClientSignature, in.ClientSignature) {
			return ch, nil
		}
	}

	candidate := &channel.SignatureState{
		OwedAmount:      in.CumulativeOwedAmount,
		ClientSignature: in.ClientSignature,
	}
	return s.applyPayment(ctx, in.ChannelID, channel.ModeSignature, candidate, channel.GuardFor(ch))
}
