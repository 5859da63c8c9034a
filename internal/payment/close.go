package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/storage/channelstore"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

func decodeStatement(data []byte, stmt *channel.ClosingStatement) error {
	return crypto.CanonicalUnmarshal(data, stmt)
}

// CloseChannelInput carries the client-signed closing statement.
type CloseChannelInput struct {
	Statement       channel.ClosingStatement
	ClientSignature []byte
}

// ClosedChannel is the final statement handed to settlement and returned
// to the client. A second close of the same channel returns bytewise
// identical statement bytes.
type ClosedChannel struct {
	Statement       channel.ClosingStatement
	StatementBytes  []byte
	ClientSignature []byte
}

// CloseChannel verifies the statement signature, freezes the channel and
// records the settlement. Idempotent: closing an already-closed channel
// replays the recorded statement instead of failing.
func (s *Service) CloseChannel(ctx context.Context, in *CloseChannelInput) (*ClosedChannel, error) {
	ch, err := s.loadChannel(ctx, in.Statement.ChannelID)
	if err != nil {
		return nil, err
	}

	payload, err := in.Statement.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrMalformedRequest, err)
	}
	if err := s.verifyClientSignature(ch, payload, in.ClientSignature); err != nil {
		return nil, err
	}

	if ch.Status == channel.StatusClosed {
		return s.replayClose(ctx, ch)
	}

	// The statement must attest the channel's frozen state, not an
	// arbitrary amount the client would prefer to settle at.
	if in.Statement.FinalCumulativeOwedAmount != ch.CumulativeOwed() {
		return nil, fmt.Errorf("%w: statement amount does not match channel state", channel.ErrMalformedRequest)
	}

	closedAt := time.Unix(in.Statement.ClosedAt, 0).UTC()
	closed, err := s.store.Close(ctx, in.Statement.ChannelID, closedAt)
	if err != nil {
		switch {
		case errors.Is(err, channelstore.ErrAlreadyClosed):
			return s.replayClose(ctx, closed)
		case channelstore.IsNotFound(err):
			return nil, channel.ErrChannelNotFound
		case channelstore.IsTransient(err):
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}

	if err := s.settle.RecordSettlement(ctx, &settlement.Settlement{
		ChannelID:         closed.ID,
		ClientFingerprint: closed.ClientFingerprint.String(),
		Mode:              string(closed.Mode),
		FinalOwedAmount:   in.Statement.FinalCumulativeOwedAmount,
		ClosedAt:          closedAt,
		StatementJSON:     payload,
		ClientSignature:   in.ClientSignature,
	}); err != nil {
		return nil, err
	}

	return &ClosedChannel{
		Statement:       in.Statement,
		StatementBytes:  payload,
		ClientSignature: in.ClientSignature,
	}, nil
}

// replayClose reproduces the original close response from the settlement
// record, keeping the second close bytewise identical to the first.
func (s *Service) replayClose(ctx context.Context, ch *channel.Channel) (*ClosedChannel, error) {
	rec, err := s.settle.GetSettlement(ctx, ch.ID)
	if err != nil {
		return nil, err
	}

	var stmt channel.ClosingStatement
	if err := decodeStatement(rec.StatementJSON, &stmt); err != nil {
		return nil, err
	}
	return &ClosedChannel{
		Statement:       stmt,
		StatementBytes:  rec.StatementJSON,
		ClientSignature: rec.ClientSignature,
	}, nil
}
