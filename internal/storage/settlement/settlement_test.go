package settlement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	acct := &Account{
		Fingerprint:  "abcd1234",
		PublicKeyDER: []byte{1, 2, 3},
		Balance:      500,
		CreatedAt:    time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, db.CreateAccount(ctx, acct))

	got, err := db.GetAccount(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, acct.Fingerprint, got.Fingerprint)
	assert.Equal(t, acct.PublicKeyDER, got.PublicKeyDER)
	assert.Equal(t, acct.Balance, got.Balance)

	// Re-registration is a conflict.
	assert.ErrorIs(t, db.CreateAccount(ctx, acct), ErrAccountExists)

	_, err = db.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSettlementLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	st := &Settlement{
		ChannelID:         "chan-1",
		ClientFingerprint: "abcd1234",
		Mode:              "signature",
		FinalOwedAmount:   40,
		ClosedAt:          time.Unix(1700001000, 0).UTC(),
		StatementJSON:     []byte(`{"channel_id":"chan-1"}`),
		ClientSignature:   []byte{9, 9, 9},
	}
	require.NoError(t, db.RecordSettlement(ctx, st))

	// Recording the same channel again is a no-op, not an error; the
	// idempotent close path depends on this.
	require.NoError(t, db.RecordSettlement(ctx, st))

	got, err := db.GetSettlement(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, st.FinalOwedAmount, got.FinalOwedAmount)
	assert.Equal(t, st.StatementJSON, got.StatementJSON)
	assert.Equal(t, st.ClientSignature, got.ClientSignature)

	_, err = db.GetSettlement(ctx, "missing")
	assert.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestListSettlementsOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, ts := range []int64{1700000100, 1700000300, 1700000200} {
		require.NoError(t, db.RecordSettlement(ctx, &Settlement{
			ChannelID:         string(rune('a' + i)),
			ClientFingerprint: "client",
			Mode:              "payword",
			FinalOwedAmount:   uint64(i),
			ClosedAt:          time.Unix(ts, 0).UTC(),
			StatementJSON:     []byte("{}"),
			ClientSignature:   []byte{1},
		}))
	}

	got, err := db.ListSettlements(ctx, "client")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ChannelID) // newest first
	assert.Equal(t, "c", got[1].ChannelID)
	assert.Equal(t, "a", got[2].ChannelID)

	none, err := db.ListSettlements(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
