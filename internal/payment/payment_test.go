package payment

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/crypto/algorithms/p256"
	"github.com/otaviootavio/nanomoni/internal/crypto/payword"
	"github.com/otaviootavio/nanomoni/internal/crypto/paytree"
	"github.com/otaviootavio/nanomoni/internal/issuer"
	"github.com/otaviootavio/nanomoni/internal/storage/channelstore"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

type testEnv struct {
	svc      *Service
	registry *crypto.Registry

	issuerPriv []byte
	issuerPub  []byte

	clientPriv []byte
	clientPub  []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := p256.New()
	registry := crypto.NewRegistry(provider)

	issuerPriv, issuerPub, err := provider.GenerateKeypair()
	require.NoError(t, err)
	clientPriv, clientPub, err := provider.GenerateKeypair()
	require.NoError(t, err)

	keys := issuer.NewKeyCache(func(context.Context) ([]byte, error) {
		return issuerPub, nil
	})

	settle, err := settlement.Open(context.Background(), settlement.Config{
		Driver: settlement.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "settle.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { settle.Close() })

	svc, err := NewService(channelstore.NewMemoryStore(), registry, keys, settle)
	require.NoError(t, err)

	return &testEnv{
		svc:        svc,
		registry:   registry,
		issuerPriv: issuerPriv,
		issuerPub:  issuerPub,
		clientPriv: clientPriv,
		clientPub:  clientPub,
	}
}

func (e *testEnv) sign(t *testing.T, priv, payload []byte) []byte {
	t.Helper()
	sig, err := p256.New().Sign(priv, crypto.Digest(payload))
	require.NoError(t, err)
	return sig
}

func (e *testEnv) certificate(t *testing.T) channel.Certificate {
	t.Helper()
	now := time.Now().UTC()
	body := channel.CertificateBody{
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		ExpiresAt:          now.Add(time.Hour).Unix(),
		InitialBalance:     1000,
		IssuedAt:           now.Add(-time.Minute).Unix(),
	}
	payload, err := body.CanonicalBytes()
	require.NoError(t, err)
	return channel.Certificate{Body: body, Signature: e.sign(t, e.issuerPriv, payload)}
}

func (e *testEnv) openInput(t *testing.T, req channel.OpenChannelRequest) *OpenChannelInput {
	t.Helper()
	payload, err := req.CanonicalBytes()
	require.NoError(t, err)
	return &OpenChannelInput{
		Request:         req,
		ClientSignature: e.sign(t, e.clientPriv, payload),
		Certificate:     e.certificate(t),
	}
}

func (e *testEnv) openSignatureChannel(t *testing.T, amount uint64) string {
	t.Helper()
	req := channel.OpenChannelRequest{
		ChannelAmount:      amount,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		Mode:               string(channel.ModeSignature),
		UnitValue:          1,
	}
	ch, err := e.svc.OpenChannel(context.Background(), e.openInput(t, req))
	require.NoError(t, err)
	return ch.ID
}

func (e *testEnv) paySignature(t *testing.T, channelID string, owed uint64) (*channel.Channel, error) {
	t.Helper()
	update := channel.SignatureModeUpdate{ChannelID: channelID, CumulativeOwedAmount: owed}
	payload, err := update.CanonicalBytes()
	require.NoError(t, err)
	return e.svc.PaySignature(context.Background(), &SignaturePaymentInput{
		ChannelID:            channelID,
		CumulativeOwedAmount: owed,
		ClientSignature:      e.sign(t, e.clientPriv, payload),
	})
}

func (e *testEnv) closeChannel(t *testing.T, channelID string, final uint64, closedAt int64) (*ClosedChannel, error) {
	t.Helper()
	stmt := channel.ClosingStatement{
		ChannelID:                 channelID,
		ClosedAt:                  closedAt,
		FinalCumulativeOwedAmount: final,
	}
	payload, err := stmt.CanonicalBytes()
	require.NoError(t, err)
	return e.svc.CloseChannel(context.Background(), &CloseChannelInput{
		Statement:       stmt,
		ClientSignature: e.sign(t, e.clientPriv, payload),
	})
}

// Scenario: signature happy path. Open with amount 100, pay 10, 25, 40,
// close at 40.
func TestSignatureHappyPath(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	for _, owed := range []uint64{10, 25, 40} {
		ch, err := e.paySignature(t, id, owed)
		require.NoError(t, err)
		assert.Equal(t, owed, ch.CumulativeOwed())
	}

	closed, err := e.closeChannel(t, id, 40, time.Now().Unix())
	require.NoError(t, err)
	assert.Equal(t, uint64(40), closed.Statement.FinalCumulativeOwedAmount)
}

// Scenario: signature monotonicity. owed=25 then owed=20; the second is
// rejected and state stays at 25.
func TestSignatureMonotonicity(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	_, err := e.paySignature(t, id, 25)
	require.NoError(t, err)

	_, err = e.paySignature(t, id, 20)
	assert.ErrorIs(t, err, channel.ErrNonMonotonicIndex)

	ch, err := e.svc.loadChannel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), ch.CumulativeOwed())
}

func TestSignatureExceedsChannelAmount(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	_, err := e.paySignature(t, id, 101)
	assert.ErrorIs(t, err, channel.ErrExceedsChannelAmount)
}

func TestSignatureDuplicateIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	update := channel.SignatureModeUpdate{ChannelID: id, CumulativeOwedAmount: 30}
	payload, err := update.CanonicalBytes()
	require.NoError(t, err)
	sig := e.sign(t, e.clientPriv, payload)

	in := &SignaturePaymentInput{ChannelID: id, CumulativeOwedAmount: 30, ClientSignature: sig}
	first, err := e.svc.PaySignature(context.Background(), in)
	require.NoError(t, err)

	// The exact same update again: accepted as a duplicate, not rejected.
	again, err := e.svc.PaySignature(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.CumulativeOwed(), again.CumulativeOwed())
}

func TestSignatureRejectsBadSignature(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	_, err := e.svc.PaySignature(context.Background(), &SignaturePaymentInput{
		ChannelID:            id,
		CumulativeOwedAmount: 10,
		ClientSignature:      []byte("not a signature"),
	})
	assert.ErrorIs(t, err, channel.ErrInvalidSignature)
}

// Scenario: payword cap. max_k=3, unit=10, amount=30; k=1..3 accepted,
// k=4 rejected with exceeds_index_cap.
func TestPaywordCap(t *testing.T) {
	e := newTestEnv(t)

	seed := make([]byte, 32)
	seed[0] = 0x55
	chain, err := payword.BuildChain(seed, 4)
	require.NoError(t, err)
	commitment, err := payword.NewCommitment(seed, 3)
	require.NoError(t, err)

	req := channel.OpenChannelRequest{
		ChannelAmount:      30,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		CommitmentRootB64:  base64.StdEncoding.EncodeToString(commitment.Root),
		IndexCap:           3,
		Mode:               string(channel.ModePayword),
		UnitValue:          10,
	}
	ch, err := e.svc.OpenChannel(context.Background(), e.openInput(t, req))
	require.NoError(t, err)

	for k := uint64(1); k <= 3; k++ {
		applied, err := e.svc.PayPayword(context.Background(), &PaywordPaymentInput{
			ChannelID: ch.ID,
			K:         k,
			Token:     chain[3-k],
		})
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, k, applied.State.Index())
	}

	_, err = e.svc.PayPayword(context.Background(), &PaywordPaymentInput{
		ChannelID: ch.ID,
		K:         4,
		Token:     chain[0],
	})
	assert.ErrorIs(t, err, channel.ErrExceedsIndexCap)
}

// Scenario: tampered payword token. A random 32-byte token is rejected and
// state stays at the initial zero.
func TestPaywordTamperedToken(t *testing.T) {
	e := newTestEnv(t)

	seed := make([]byte, 32)
	seed[0] = 0x66
	commitment, err := payword.NewCommitment(seed, 5)
	require.NoError(t, err)

	req := channel.OpenChannelRequest{
		ChannelAmount:      50,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		CommitmentRootB64:  base64.StdEncoding.EncodeToString(commitment.Root),
		IndexCap:           5,
		Mode:               string(channel.ModePayword),
		UnitValue:          10,
	}
	ch, err := e.svc.OpenChannel(context.Background(), e.openInput(t, req))
	require.NoError(t, err)

	random := make([]byte, payword.TokenSize)
	random[7] = 0x99
	_, err = e.svc.PayPayword(context.Background(), &PaywordPaymentInput{
		ChannelID: ch.ID,
		K:         1,
		Token:     random,
	})
	assert.ErrorIs(t, err, channel.ErrInvalidToken)

	cur, err := e.svc.loadChannel(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cur.State.Index())
}

// Scenario: paytree first-payment regression. i=0 must be rejected as
// non-monotonic, never accepted against a prev of -1.
func TestPaytreeRejectsIndexZero(t *testing.T) {
	e := newTestEnv(t)

	secret := make([]byte, 32)
	secret[0] = 0x77
	channelID := uuid.NewString()
	tree, err := paytree.NewTree(secret, channelID, 8)
	require.NoError(t, err)
	cm := tree.Commitment()

	req := channel.OpenChannelRequest{
		ChannelAmount:      80,
		ChannelID:          channelID,
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		CommitmentRootB64:  base64.StdEncoding.EncodeToString(cm.Root),
		IndexCap:           8,
		Mode:               string(channel.ModePaytree),
		UnitValue:          10,
	}
	ch, err := e.svc.OpenChannel(context.Background(), e.openInput(t, req))
	require.NoError(t, err)

	leaf, proof, err := tree.Proof(1)
	require.NoError(t, err)

	_, err = e.svc.PayPaytree(context.Background(), &PaytreePaymentInput{
		ChannelID: ch.ID,
		I:         0,
		Leaf:      leaf,
		Proof:     proof,
	})
	assert.ErrorIs(t, err, channel.ErrNonMonotonicIndex)

	// i=1 with the proper proof goes through.
	applied, err := e.svc.PayPaytree(context.Background(), &PaytreePaymentInput{
		ChannelID: ch.ID,
		I:         1,
		Leaf:      leaf,
		Proof:     proof,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), applied.State.Index())

	// Replaying the accepted leaf is non-monotonic.
	_, err = e.svc.PayPaytree(context.Background(), &PaytreePaymentInput{
		ChannelID: ch.ID,
		I:         1,
		Leaf:      leaf,
		Proof:     proof,
	})
	assert.ErrorIs(t, err, channel.ErrNonMonotonicIndex)
}

// Scenario: concurrent race on one channel. Final owed is the max of the
// two candidates; the lower one either lost the race or was rejected.
func TestConcurrentSignaturePayments(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	_, err := e.paySignature(t, id, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, owed := range []uint64{20, 25} {
		wg.Add(1)
		go func(i int, owed uint64) {
			defer wg.Done()
			_, errs[i] = e.paySignature(t, id, owed)
		}(i, owed)
	}
	wg.Wait()

	final, err := e.svc.loadChannel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), final.CumulativeOwed())
	assert.NoError(t, errs[1])
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	_, err := e.paySignature(t, id, 40)
	require.NoError(t, err)

	closedAt := time.Now().Unix()
	first, err := e.closeChannel(t, id, 40, closedAt)
	require.NoError(t, err)

	// A second close returns bytewise identical statement bytes.
	second, err := e.closeChannel(t, id, 40, closedAt+100)
	require.NoError(t, err)
	assert.Equal(t, first.StatementBytes, second.StatementBytes)
	assert.Equal(t, first.ClientSignature, second.ClientSignature)

	// And payments after close are rejected.
	_, err = e.paySignature(t, id, 50)
	assert.ErrorIs(t, err, channel.ErrChannelClosed)
}

func TestCloseRejectsWrongFinalAmount(t *testing.T) {
	e := newTestEnv(t)
	id := e.openSignatureChannel(t, 100)

	_, err := e.paySignature(t, id, 40)
	require.NoError(t, err)

	_, err = e.closeChannel(t, id, 30, time.Now().Unix())
	assert.ErrorIs(t, err, channel.ErrMalformedRequest)
}

func TestOpenRejectsExpiredCertificate(t *testing.T) {
	e := newTestEnv(t)

	req := channel.OpenChannelRequest{
		ChannelAmount:      100,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		Mode:               string(channel.ModeSignature),
		UnitValue:          1,
	}
	in := e.openInput(t, req)

	now := time.Now().UTC()
	in.Certificate.Body.IssuedAt = now.Add(-2 * time.Hour).Unix()
	in.Certificate.Body.ExpiresAt = now.Add(-time.Hour).Unix()
	payload, err := in.Certificate.Body.CanonicalBytes()
	require.NoError(t, err)
	in.Certificate.Signature = e.sign(t, e.issuerPriv, payload)

	_, err = e.svc.OpenChannel(context.Background(), in)
	assert.ErrorIs(t, err, channel.ErrInvalidCertificate)
}

func TestOpenRejectsCertificateForOtherKey(t *testing.T) {
	e := newTestEnv(t)

	_, otherPub, err := p256.New().GenerateKeypair()
	require.NoError(t, err)

	req := channel.OpenChannelRequest{
		ChannelAmount:      100,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(otherPub),
		Mode:               string(channel.ModeSignature),
		UnitValue:          1,
	}
	payload, err := req.CanonicalBytes()
	require.NoError(t, err)
	in := &OpenChannelInput{
		Request:         req,
		ClientSignature: e.sign(t, e.clientPriv, payload),
		Certificate:     e.certificate(t), // certifies e.clientPub, not otherPub
	}

	_, err = e.svc.OpenChannel(context.Background(), in)
	assert.ErrorIs(t, err, channel.ErrInvalidCertificate)
}

func TestOpenRejectsSecondChannelSameClient(t *testing.T) {
	e := newTestEnv(t)
	e.openSignatureChannel(t, 100)

	req := channel.OpenChannelRequest{
		ChannelAmount:      100,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(e.clientPub),
		Mode:               string(channel.ModeSignature),
		UnitValue:          1,
	}
	_, err := e.svc.OpenChannel(context.Background(), e.openInput(t, req))
	assert.ErrorIs(t, err, channel.ErrChannelAlreadyOpen)
}

func TestOpenRecoversFromRotatedIssuerKey(t *testing.T) {
	provider := p256.New()
	registry := crypto.NewRegistry(provider)

	_, oldPub, err := provider.GenerateKeypair()
	require.NoError(t, err)
	newPriv, newPub, err := provider.GenerateKeypair()
	require.NoError(t, err)
	clientPriv, clientPub, err := provider.GenerateKeypair()
	require.NoError(t, err)

	// First fetch hands out the stale key; the forced refresh after the
	// verify failure returns the rotated one.
	fetches := 0
	keys := issuer.NewKeyCache(func(context.Context) ([]byte, error) {
		fetches++
		if fetches == 1 {
			return oldPub, nil
		}
		return newPub, nil
	})

	settle, err := settlement.Open(context.Background(), settlement.Config{
		Driver: settlement.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "settle.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { settle.Close() })

	svc, err := NewService(channelstore.NewMemoryStore(), registry, keys, settle)
	require.NoError(t, err)

	e := &testEnv{
		svc:        svc,
		registry:   registry,
		issuerPriv: newPriv,
		issuerPub:  newPub,
		clientPriv: clientPriv,
		clientPub:  clientPub,
	}
	req := channel.OpenChannelRequest{
		ChannelAmount:      100,
		ChannelID:          uuid.NewString(),
		ClientPublicKeyB64: crypto.PublicKeyToBase64(clientPub),
		Mode:               string(channel.ModeSignature),
		UnitValue:          1,
	}

	_, err = svc.OpenChannel(context.Background(), e.openInput(t, req))
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestPaymentOnUnknownChannel(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.paySignature(t, uuid.NewString(), 10)
	assert.ErrorIs(t, err, channel.ErrChannelNotFound)
}
