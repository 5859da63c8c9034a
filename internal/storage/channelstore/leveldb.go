package channelstore

import (
	"context"
	"encoding/binary"
	"sort"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// LevelDBStore is the goleveldb-backed channel store. Same key layout and
// same latch-based atomicity as the pebble backend.
type LevelDBStore struct {
	db      *leveldb.DB
	latches channelLatches
}

// OpenLevelDB opens (or creates) a leveldb-backed store at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, wrapErr("open", "leveldb", "", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) get(channelID string) (*channel.Channel, error) {
	val, err := s.db.Get([]byte(prefixChannel+channelID), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get", "leveldb", channelID, ErrUnavailable)
	}
	return decodeRecord(val)
}

// Get implements Store.
func (s *LevelDBStore) Get(ctx context.Context, channelID string) (*channel.Channel, error) {
	mu := s.latches.forChannel(channelID)
	mu.Lock()
	defer mu.Unlock()
	return s.get(channelID)
}

// GetByClient implements Store.
func (s *LevelDBStore) GetByClient(ctx context.Context, fp crypto.Fingerprint) (*channel.Channel, error) {
	val, err := s.db.Get([]byte(prefixClient+fp.String()), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get_by_client", "leveldb", "", ErrUnavailable)
	}
	return s.Get(ctx, string(val))
}

// Create implements Store.
func (s *LevelDBStore) Create(ctx context.Context, ch *channel.Channel) error {
	mu := s.latches.forChannel(ch.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.get(ch.ID); err == nil {
		return ErrAlreadyExists
	} else if !IsNotFound(err) {
		return err
	}

	clientKey := []byte(prefixClient + ch.ClientFingerprint.String())
	if has, err := s.db.Has(clientKey, nil); err != nil {
		return wrapErr("create", "leveldb", ch.ID, ErrUnavailable)
	} else if has {
		return ErrClientHasOpen
	}

	val, err := encodeRecord(ch)
	if err != nil {
		return wrapErr("create", "leveldb", ch.ID, err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixChannel+ch.ID), val)
	batch.Put(clientKey, []byte(ch.ID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ch.OpenedAt.UnixNano()))
	batch.Put([]byte(prefixOpen+ch.ID), ts[:])

	if err := s.db.Write(batch, nil); err != nil {
		return wrapErr("create", "leveldb", ch.ID, ErrUnavailable)
	}
	return nil
}

// ApplyPayment implements Store.
func (s *LevelDBStore) ApplyPayment(ctx context.Context, channelID string, mode channel.Mode, candidate channel.State, guard channel.Guard) (*channel.Channel, error) {
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
		return nil, wrapErr("apply_payment", "leveldb", channelID, err)
	}
	if err := s.db.Put([]byte(prefixChannel+channelID), val, nil); err != nil {
		return nil, wrapErr("apply_payment", "leveldb", channelID, ErrUnavailable)
	}
	return ch, nil
}

// Close implements Store.
func (s *LevelDBStore) Close(ctx context.Context, channelID string, closedAt time.Time) (*channel.Channel, error) {
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

	val, err := encodeRecord(ch)
	if err != nil {
		return nil, wrapErr("close", "leveldb", channelID, err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixChannel+channelID), val)
	batch.Delete([]byte(prefixClient + ch.ClientFingerprint.String()))
	batch.Delete([]byte(prefixOpen + channelID))

	if err := s.db.Write(batch, nil); err != nil {
		return nil, wrapErr("close", "leveldb", channelID, ErrUnavailable)
	}
	return ch, nil
}

// ListOpen implements Store.
func (s *LevelDBStore) ListOpen(ctx context.Context) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixOpen)), nil)
	defer iter.Release()

	type opened struct {
		id string
		ts uint64
	}
	var out []opened
	for iter.Next() {
		id := string(iter.Key()[len(prefixOpen):])
		val := iter.Value()
		if len(val) != 8 {
			continue
		}
		out = append(out, opened{id: id, ts: binary.BigEndian.Uint64(val)})
	}
	if err := iter.Error(); err != nil {
		return nil, wrapErr("list_open", "leveldb", "", ErrUnavailable)
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
func (s *LevelDBStore) CloseStore() error {
	return s.db.Close()
}
