package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/storage/channelstore"
)

// OpenChannelInput is the verified-transport form of an open request: the
// canonical payload, the client's signature over it, and the issuer
// certificate vouching for the client.
type OpenChannelInput struct {
	Request         channel.OpenChannelRequest
	ClientSignature []byte
	Certificate     channel.Certificate
}

// OpenChannel verifies the certificate and the client signature, validates
// the commitment invariants, and creates the channel with its unit-element
// initial state. Returns the created channel snapshot.
func (s *Service) OpenChannel(ctx context.Context, in *OpenChannelInput) (*channel.Channel, error) {
	if err := s.verifyCertificate(ctx, &in.Certificate); err != nil {
		return nil, err
	}

	// The key opening the channel must be the key the issuer certified.
	if in.Request.ClientPublicKeyB64 != in.Certificate.Body.ClientPublicKeyB64 {
		return nil, fmt.Errorf("%w: certificate is for a different key", channel.ErrInvalidCertificate)
	}

	clientKey, err := crypto.PublicKeyFromBase64(in.Request.ClientPublicKeyB64)
	if err != nil {
		return nil, err
	}
	fp := crypto.CalcFingerprint(clientKey)

	payload, err := in.Request.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrMalformedRequest, err)
	}
	p, err := s.providerFor(fp, clientKey)
	if err != nil {
		return nil, channel.ErrInvalidSignature
	}
	if !p.Verify(clientKey, crypto.Digest(payload), in.ClientSignature) {
		return nil, channel.ErrInvalidSignature
	}

	mode, err := channel.ParseMode(in.Request.Mode)
	if err != nil {
		return nil, err
	}

	// The channel ID is client-computed (the commitments bind to it);
	// accept only well-formed UUIDs.
	if _, err := uuid.Parse(in.Request.ChannelID); err != nil {
		return nil, fmt.Errorf("%w: channel id must be a UUID", channel.ErrMalformedRequest)
	}

	var root []byte
	if in.Request.CommitmentRootB64 != "" {
		root, err = base64.StdEncoding.DecodeString(in.Request.CommitmentRootB64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad commitment root", channel.ErrInvalidCommitment)
		}
	}

	ch := &channel.Channel{
		ID:                in.Request.ChannelID,
		ClientPublicKey:   clientKey,
		ClientFingerprint: fp,
		Mode:              mode,
		Amount:            in.Request.ChannelAmount,
		UnitValue:         in.Request.UnitValue,
		Commitment: channel.Commitment{
			Root:     root,
			IndexCap: in.Request.IndexCap,
		},
		OpenedAt: s.now().UTC(),
		Status:   channel.StatusOpen,
	}
	ch.State = channel.InitialState(mode, ch.Commitment)

	if err := ch.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, ch); err != nil {
		switch {
		case errors.Is(err, channelstore.ErrAlreadyExists),
			errors.Is(err, channelstore.ErrClientHasOpen):
			return nil, channel.ErrChannelAlreadyOpen
		case channelstore.IsTransient(err):
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return ch, nil
}

// verifyCertificate checks the certificate under the cached issuer key. On
// verify failure it forces one key refresh before giving up: a rotated
// issuer key must not turn into a spurious invalid_certificate, and a
// stale key must never keep validating.
func (s *Service) verifyCertificate(ctx context.Context, cert *channel.Certificate) error {
	issuerKey, err := s.issuerKey.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
	}

	if cert.Verify(s.registry, issuerKey, s.now()) == nil {
		return nil
	}

	refreshed, err := s.issuerKey.ForceRefresh(ctx)
	if err != nil {
		return channel.ErrInvalidCertificate
	}
	return cert.Verify(s.registry, refreshed, s.now())
}
