// Package issuer implements the certificate authority of the system: it
// registers client accounts and mints the short-lived certificates the
// vendor consumes at channel open. The vendor side of the package is the
// cached issuer public key (KeyCache) and the HTTP client.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

var (
	// ErrUnknownAccount indicates a certificate request for an
	// unregistered client key.
	ErrUnknownAccount = errors.New("unknown account")
)

// Service is the issuer application service.
type Service struct {
	provider   crypto.SignatureProvider
	privateKey []byte
	publicKey  []byte
	certTTL    time.Duration
	accounts   *settlement.DB

	now func() time.Time
}

// NewService creates the issuer service. certTTL bounds the validity window
// of every minted certificate.
func NewService(provider crypto.SignatureProvider, privateKey []byte, certTTL time.Duration, accounts *settlement.DB) (*Service, error) {
	pub, err := provider.PublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("issuer private key unreadable: %w", err)
	}
	return &Service{
		provider:   provider,
		privateKey: privateKey,
		publicKey:  pub,
		certTTL:    certTTL,
		accounts:   accounts,
		now:        time.Now,
	}, nil
}

// PublicKeyDER returns the issuer's DER-encoded public key.
func (s *Service) PublicKeyDER() []byte {
	return append([]byte(nil), s.publicKey...)
}

// RegisterAccount persists a new client account and returns its
// registration certificate.
func (s *Service) RegisterAccount(ctx context.Context, clientPublicKeyDER []byte, initialBalance uint64) (*channel.Certificate, error) {
	if _, err := crypto.ParseSPKI(clientPublicKeyDER); err != nil {
		return nil, err
	}

	fp := crypto.CalcFingerprint(clientPublicKeyDER)
	err := s.accounts.CreateAccount(ctx, &settlement.Account{
		Fingerprint:  fp.String(),
		PublicKeyDER: clientPublicKeyDER,
		Balance:      initialBalance,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return s.issueCertificate(clientPublicKeyDER, initialBalance)
}

// IssueCertificate mints a certificate for a registered account, using the
// account's current balance as the certified initial balance.
func (s *Service) IssueCertificate(ctx context.Context, clientPublicKeyDER []byte) (*channel.Certificate, error) {
	fp := crypto.CalcFingerprint(clientPublicKeyDER)
	acct, err := s.accounts.GetAccount(ctx, fp.String())
	if err != nil {
		if errors.Is(err, settlement.ErrAccountNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}
	return s.issueCertificate(clientPublicKeyDER, acct.Balance)
}

func (s *Service) issueCertificate(clientPublicKeyDER []byte, balance uint64) (*channel.Certificate, error) {
	now := s.now().UTC()
	body := channel.CertificateBody{
		ClientPublicKeyB64: crypto.PublicKeyToBase64(clientPublicKeyDER),
		ExpiresAt:          now.Add(s.certTTL).Unix(),
		InitialBalance:     balance,
		IssuedAt:           now.Unix(),
	}

	payload, err := body.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sig, err := s.provider.Sign(s.privateKey, crypto.Digest(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	return &channel.Certificate{Body: body, Signature: sig}, nil
}
