// Package payment implements the payment verification engine: the channel
// open/close use-cases and the three payment state machines (signature,
// payword, paytree). Each operation verifies the cryptographic material,
// then delegates the ordering decision to the store's atomic ApplyPayment;
// the use-cases themselves never mutate channel state directly.
package payment

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/issuer"
	"github.com/otaviootavio/nanomoni/internal/storage/channelstore"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

var (
	// ErrStoreUnavailable is surfaced when the state store stays
	// unreachable after the single permitted retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIssuerUnreachable is surfaced when the issuer public key cannot
	// be fetched for certificate verification.
	ErrIssuerUnreachable = errors.New("issuer unreachable")
)

const (
	// transientRetryDelay is the backoff before the one store retry.
	transientRetryDelay = 100 * time.Millisecond

	// cacheSize bounds the provider and payword-tip LRU caches.
	cacheSize = 4096
)

// paywordTip remembers the last accepted token of a channel so the next
// token can be checked with a single hash instead of a full chain walk.
// Advisory only: the stateless verifier is always the fallback.
type paywordTip struct {
	k     uint64
	token []byte
}

// Service is the vendor application service.
type Service struct {
	store     channelstore.Store
	registry  *crypto.Registry
	issuerKey *issuer.KeyCache
	settle    *settlement.DB

	providers *lru.Cache[string, crypto.SignatureProvider]
	tips      *lru.Cache[string, paywordTip]

	now func() time.Time
}

// NewService wires the vendor service.
func NewService(store channelstore.Store, registry *crypto.Registry, issuerKey *issuer.KeyCache, settle *settlement.DB) (*Service, error) {
	providers, err := lru.New[string, crypto.SignatureProvider](cacheSize)
	if err != nil {
		return nil, err
	}
	tips, err := lru.New[string, paywordTip](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     store,
		registry:  registry,
		issuerKey: issuerKey,
		settle:    settle,
		providers: providers,
		tips:      tips,
		now:       time.Now,
	}, nil
}

// providerFor resolves (and caches) the signature provider for a client key.
func (s *Service) providerFor(fp crypto.Fingerprint, publicKeyDER []byte) (crypto.SignatureProvider, error) {
	if p, ok := s.providers.Get(fp.String()); ok {
		return p, nil
	}
	p, err := s.registry.ForPublicKey(publicKeyDER)
	if err != nil {
		return nil, err
	}
	s.providers.Add(fp.String(), p)
	return p, nil
}

// verifyClientSignature checks a DER signature over payload bytes under the
// channel's bound client key.
func (s *Service) verifyClientSignature(ch *channel.Channel, payload, sig []byte) error {
	p, err := s.providerFor(ch.ClientFingerprint, ch.ClientPublicKey)
	if err != nil {
		return channel.ErrInvalidSignature
	}
	if !p.Verify(ch.ClientPublicKey, crypto.Digest(payload), sig) {
		return channel.ErrInvalidSignature
	}
	return nil
}

// loadChannel reads a channel snapshot, retrying once on a transient store
// failure.
func (s *Service) loadChannel(ctx context.Context, channelID string) (*channel.Channel, error) {
	ch, err := s.store.Get(ctx, channelID)
	if err == nil {
		return ch, nil
	}
	if channelstore.IsNotFound(err) {
		return nil, channel.ErrChannelNotFound
	}
	if !channelstore.IsTransient(err) {
		return nil, err
	}

	time.Sleep(transientRetryDelay)
	ch, err = s.store.Get(ctx, channelID)
	if err == nil {
		return ch, nil
	}
	if channelstore.IsNotFound(err) {
		return nil, channel.ErrChannelNotFound
	}
	return nil, ErrStoreUnavailable
}

// ListOpenChannels returns the IDs of all open channels, oldest first.
func (s *Service) ListOpenChannels(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListOpen(ctx)
	if err != nil {
		if channelstore.IsTransient(err) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return ids, nil
}

// applyPayment calls the store's atomic primitive, retrying once on a
// transient failure. Deterministic rejections pass through untouched; the
// store guarantees state is unchanged on rejection.
func (s *Service) applyPayment(ctx context.Context, channelID string, mode channel.Mode, candidate channel.State, guard channel.Guard) (*channel.Channel, error) {
	ch, err := s.store.ApplyPayment(ctx, channelID, mode, candidate, guard)
	if err == nil {
		return ch, nil
	}
	if channelstore.IsNotFound(err) {
		return nil, channel.ErrChannelNotFound
	}
	if !channelstore.IsTransient(err) {
		return nil, err
	}

	time.Sleep(transientRetryDelay)
	ch, err = s.store.ApplyPayment(ctx, channelID, mode, candidate, guard)
	if err == nil {
		return ch, nil
	}
	if channelstore.IsNotFound(err) {
		return nil, channel.ErrChannelNotFound
	}
	if channelstore.IsTransient(err) {
		return nil, ErrStoreUnavailable
	}
	return nil, err
}
