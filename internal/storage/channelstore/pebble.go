package channelstore

import (
	"context"
	"encoding/binary"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// Key layout:
//
//	ch/<id>       -> encoded channel record
//	client/<fp>   -> channel ID (present only while the channel is open)
//	open/<id>     -> 8-byte big-endian open timestamp (unix nanos)
const (
	prefixChannel = "ch/"
	prefixClient  = "client/"
	prefixOpen    = "open/"
)

// PebbleStore is the pebble-backed channel store. Atomicity of
// ApplyPayment comes from the per-channel latch (see channelLatches)
// combined with batched writes: within a channel there is exactly one
// load-guard-overwrite in flight, and index updates commit in the same
// batch as the record.
type PebbleStore struct {
	db      *pebble.DB
	latches channelLatches
}

// OpenPebble opens (or creates) a pebble-backed store at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, wrapErr("open", "pebble", "", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) get(channelID string) (*channel.Channel, error) {
	val, closer, err := s.db.Get([]byte(prefixChannel + channelID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get", "pebble", channelID, ErrUnavailable)
	}
	defer closer.Close()
	return decodeRecord(val)
}

func (s *PebbleStore) put(b *pebble.Batch, ch *channel.Channel) error {
	val, err := encodeRecord(ch)
	if err != nil {
		return err
	}
	return b.Set([]byte(prefixChannel+ch.ID), val, nil)
}

// Get implements Store.
func (s *PebbleStore) Get(ctx context.Context, channelID string) (*channel.Channel, error) {
	mu := s.latches.forChannel(channelID)
	mu.Lock()
	defer mu.Unlock()
	return s.get(channelID)
}

// GetByClient implements Store.
func (s *PebbleStore) GetByClient(ctx context.Context, fp crypto.Fingerprint) (*channel.Channel, error) {
	val, closer, err := s.db.Get([]byte(prefixClient + fp.String()))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get_by_client", "pebble", "", ErrUnavailable)
	}
	id := string(val)
	closer.Close()
	return s.Get(ctx, id)
}

// Create implements Store.
func (s *PebbleStore) Create(ctx context.Context, ch *channel.Channel) error {
	mu := s.latches.forChannel(ch.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.get(ch.ID); err == nil {
		return ErrAlreadyExists
	} else if !IsNotFound(err) {
		return err
	}

	clientKey := []byte(prefixClient + ch.ClientFingerprint.String())
	if _, closer, err := s.db.Get(clientKey); err == nil {
		closer.Close()
		return ErrClientHasOpen
	} else if err != pebble.ErrNotFound {
		return wrapErr("create", "pebble", ch.ID, ErrUnavailable)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.put(b, ch); err != nil {
		return wrapErr("create", "pebble", ch.ID, err)
	}
	if err := b.Set(clientKey, []byte(ch.ID), nil); err != nil {
		return wrapErr("create", "pebble", ch.ID, err)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ch.OpenedAt.UnixNano()))
	if err := b.Set([]byte(prefixOpen+ch.ID), ts[:], nil); err != nil {
		return wrapErr("create", "pebble", ch.ID, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return wrapErr("create", "pebble", ch.ID, ErrUnavailable)
	}
	return nil
}

// ApplyPayment implements Store. The whole load-guard-overwrite runs under
// the channel latch.
func (s *PebbleStore) ApplyPayment(ctx context.Context, channelID string, mode channel.Mode, candidate channel.State, guard channel.Guard) (*channel.Channel, error) {
	mu := s.latches.forChannel(channelID)
	mu.Lock()
	defer mu.Unlock()

	ch, err := s.get(channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status == channel.StatusClosed {
		return nil, channel.ErrChannelClosed
	}
	if ch.Mode != mode {
		return nil, channel.ErrModeMismatch
	}
	if err := guard.Check(ch.State, candidate); err != nil {
		return nil, err
	}

	ch.State = candidate
	val, err := encodeRecord(ch)
	if err != nil {
		return nil, wrapErr("apply_payment", "pebble", channelID, err)
	}
	if err := s.db.Set([]byte(prefixChannel+channelID), val, pebble.Sync); err != nil {
		return nil, wrapErr("apply_payment", "pebble", channelID, ErrUnavailable)
	}
	return ch, nil
}

// Close implements Store.
func (s *PebbleStore) Close(ctx context.Context, channelID string, closedAt time.Time) (*channel.Channel, error) {
	mu := s.latches.forChannel(channelID)
	mu.Lock()
	defer mu.Unlock()

	ch, err := s.get(channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status == channel.StatusClosed {
		return ch, ErrAlreadyClosed
	}

	ch.Status = channel.StatusClosed
	ch.ClosedAt = closedAt

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.put(b, ch); err != nil {
		return nil, wrapErr("close", "pebble", channelID, err)
	}
	if err := b.Delete([]byte(prefixClient+ch.ClientFingerprint.String()), nil); err != nil {
		return nil, wrapErr("close", "pebble", channelID, err)
	}
	if err := b.Delete([]byte(prefixOpen+channelID), nil); err != nil {
		return nil, wrapErr("close", "pebble", channelID, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, wrapErr("close", "pebble", channelID, ErrUnavailable)
	}
	return ch, nil
}

// ListOpen implements Store.
func (s *PebbleStore) ListOpen(ctx context.Context) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixOpen),
		UpperBound: []byte(prefixOpen + "\xff"),
	})
	if err != nil {
		return nil, wrapErr("list_open", "pebble", "", ErrUnavailable)
	}
	defer iter.Close()

	type opened struct {
		id string
		ts uint64
	}
	var out []opened
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(prefixOpen):])
		val := iter.Value()
		if len(val) != 8 {
			continue
		}
		out = append(out, opened{id: id, ts: binary.BigEndian.Uint64(val)})
	}
	if err := iter.Error(); err != nil {
		return nil, wrapErr("list_open", "pebble", "", ErrUnavailable)
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].ts == out[b].ts {
			return out[a].id < out[b].id
		}
		return out[a].ts < out[b].ts
	})
	ids := make([]string, len(out))
	for i, o := range out {
		ids[i] = o.id
	}
	return ids, nil
}

// CloseStore implements Store.
func (s *PebbleStore) CloseStore() error {
	return s.db.Close()
}
