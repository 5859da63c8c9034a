package channelstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
)

func testChannel(id string, mode channel.Mode) *channel.Channel {
	key := []byte("client key " + id)
	ch := &channel.Channel{
		ID:                id,
		ClientPublicKey:   key,
		ClientFingerprint: crypto.CalcFingerprint(key),
		Mode:              mode,
		Amount:            100,
		UnitValue:         1,
		OpenedAt:          time.Unix(1700000000, 0).UTC(),
		Status:            channel.StatusOpen,
	}
	if mode != channel.ModeSignature {
		ch.UnitValue = 10
		ch.Commitment = channel.Commitment{Root: make([]byte, 32), IndexCap: 10}
	}
	ch.State = channel.InitialState(mode, ch.Commitment)
	return ch
}

func TestMemoryCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ch := testChannel("c1", channel.ModeSignature)

	require.NoError(t, s.Create(ctx, ch))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ID)
	assert.Equal(t, channel.StatusOpen, got.Status)

	byClient, err := s.GetByClient(ctx, ch.ClientFingerprint)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, byClient.ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testChannel("c1", channel.ModeSignature)))
	assert.ErrorIs(t, s.Create(ctx, testChannel("c1", channel.ModeSignature)), ErrAlreadyExists)

	// Same client, new channel ID: single-open invariant.
	dup := testChannel("c1", channel.ModeSignature)
	dup.ID = "c2"
	assert.ErrorIs(t, s.Create(ctx, dup), ErrClientHasOpen)
}

func TestMemorySnapshotIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testChannel("c1", channel.ModeSignature)))

	snap, err := s.Get(ctx, "c1")
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store.
	snap.State = &channel.SignatureState{OwedAmount: 999}
	fresh, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fresh.State.Index())
}

func TestMemoryApplyPayment(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ch := testChannel("c1", channel.ModeSignature)
	require.NoError(t, s.Create(ctx, ch))
	guard := channel.GuardFor(ch)

	applied, err := s.ApplyPayment(ctx, "c1", channel.ModeSignature, &channel.SignatureState{OwedAmount: 10}, guard)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), applied.State.Index())

	// Non-monotonic candidate leaves state unchanged.
	_, err = s.ApplyPayment(ctx, "c1", channel.ModeSignature, &channel.SignatureState{OwedAmount: 5}, guard)
	assert.ErrorIs(t, err, channel.ErrNonMonotonicIndex)

	cur, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cur.State.Index())

	// Mode mismatch at the store level.
	_, err = s.ApplyPayment(ctx, "c1", channel.ModePayword, &channel.PaywordState{K: 1}, guard)
	assert.ErrorIs(t, err, channel.ErrModeMismatch)
}

func TestMemoryFirstPaymentRequiresIndexOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, tc := range []struct {
		mode channel.Mode
		zero channel.State
		one  channel.State
	}{
		{channel.ModeSignature, &channel.SignatureState{OwedAmount: 0}, &channel.SignatureState{OwedAmount: 1}},
		{channel.ModePayword, &channel.PaywordState{K: 0}, &channel.PaywordState{K: 1}},
		{channel.ModePaytree, &channel.PaytreeState{I: 0}, &channel.PaytreeState{I: 1}},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			ch := testChannel("ch-"+string(tc.mode), tc.mode)
			require.NoError(t, s.Create(ctx, ch))
			guard := channel.GuardFor(ch)

			_, err := s.ApplyPayment(ctx, ch.ID, tc.mode, tc.zero, guard)
			assert.ErrorIs(t, err, channel.ErrNonMonotonicIndex)

			_, err = s.ApplyPayment(ctx, ch.ID, tc.mode, tc.one, guard)
			assert.NoError(t, err)
		})
	}
}

func TestMemoryCloseLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ch := testChannel("c1", channel.ModeSignature)
	require.NoError(t, s.Create(ctx, ch))
	guard := channel.GuardFor(ch)

	_, err := s.ApplyPayment(ctx, "c1", channel.ModeSignature, &channel.SignatureState{OwedAmount: 40}, guard)
	require.NoError(t, err)

	closedAt := time.Unix(1700001000, 0).UTC()
	closed, err := s.Close(ctx, "c1", closedAt)
	require.NoError(t, err)
	assert.Equal(t, channel.StatusClosed, closed.Status)
	assert.Equal(t, closedAt, closed.ClosedAt)
	assert.Equal(t, uint64(40), closed.State.Index())

	// Closed means frozen: payments rejected, state untouched.
	_, err = s.ApplyPayment(ctx, "c1", channel.ModeSignature, &channel.SignatureState{OwedAmount: 50}, guard)
	assert.ErrorIs(t, err, channel.ErrChannelClosed)

	// Second close reports already-closed with the same frozen snapshot.
	again, err := s.Close(ctx, "c1", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.Equal(t, closedAt, again.ClosedAt)
	assert.Equal(t, uint64(40), again.State.Index())

	// The client may open a fresh channel after closing.
	next := testChannel("c1", channel.ModeSignature)
	next.ID = "c2"
	assert.NoError(t, s.Create(ctx, next))
}

func TestMemoryListOpen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := testChannel("a", channel.ModeSignature)
	a.OpenedAt = time.Unix(1700000002, 0)
	b := testChannel("b", channel.ModeSignature)
	b.OpenedAt = time.Unix(1700000001, 0)
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))

	ids, err := s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	_, err = s.Close(ctx, "b", time.Now())
	require.NoError(t, err)
	ids, err = s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

// TestMemoryConcurrentSameChannel is the lost-update scenario: two
// payments race on one channel. Exactly one with the higher index must
// win, and the final state must be the maximum accepted index — never the
// lower write landing last.
func TestMemoryConcurrentSameChannel(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := NewMemoryStore()
		ctx := context.Background()
		ch := testChannel("c1", channel.ModeSignature)
		require.NoError(t, s.Create(ctx, ch))
		guard := channel.GuardFor(ch)

		_, err := s.ApplyPayment(ctx, "c1", channel.ModeSignature, &channel.SignatureState{OwedAmount: 10}, guard)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		amounts := []uint64{20, 25}
		for i := range amounts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.ApplyPayment(ctx, "c1", channel.ModeSignature,
					&channel.SignatureState{OwedAmount: amounts[i]}, guard)
			}(i)
		}
		wg.Wait()

		final, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, uint64(25), final.State.Index())

		// owed=25 is accepted in every interleaving; owed=20 only when it
		// got there first. Never both rejected, never a final of 20.
		assert.NoError(t, results[1])
		if results[0] != nil {
			assert.ErrorIs(t, results[0], channel.ErrNonMonotonicIndex)
		}
	}
}

// TestMemoryConcurrentDistinctIndices hammers one channel from many
// goroutines; accepted indices must be strictly increasing, so the final
// index equals the maximum accepted value.
func TestMemoryConcurrentDistinctIndices(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ch := testChannel("c1", channel.ModePayword)
	require.NoError(t, s.Create(ctx, ch))
	guard := channel.GuardFor(ch)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := make(map[uint64]int)

	for k := uint64(1); k <= workers; k++ {
		wg.Add(1)
		go func(k uint64) {
			defer wg.Done()
			_, err := s.ApplyPayment(ctx, "c1", channel.ModePayword, &channel.PaywordState{K: k}, guard)
			if err == nil {
				mu.Lock()
				accepted[k]++
				mu.Unlock()
			}
		}(k)
	}
	wg.Wait()

	final, err := s.Get(ctx, "c1")
	require.NoError(t, err)

	var maxAccepted uint64
	for k, count := range accepted {
		assert.Equal(t, 1, count, "index %d accepted more than once", k)
		if k > maxAccepted {
			maxAccepted = k
		}
	}
	assert.Equal(t, maxAccepted, final.State.Index())
}
