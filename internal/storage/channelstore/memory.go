package channelstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// MemoryStore is the in-process backend. Each channel record carries its
// own mutex; ApplyPayment and Close take it for the whole
// load-guard-overwrite sequence, which is exactly the atomicity the
// contract demands.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*memoryRecord
	byClient map[string]string // client fingerprint -> open channel ID
	closed   bool
}

type memoryRecord struct {
	mu sync.Mutex
	ch *channel.Channel
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]*memoryRecord),
		byClient: make(map[string]string),
	}
}

func (s *MemoryStore) record(channelID string) (*memoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, channelID string) (*channel.Channel, error) {
	rec, err := s.record(channelID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.ch.Clone(), nil
}

// GetByClient implements Store.
func (s *MemoryStore) GetByClient(ctx context.Context, fp crypto.Fingerprint) (*channel.Channel, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	id, ok := s.byClient[fp.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, ch *channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.channels[ch.ID]; exists {
		return ErrAlreadyExists
	}
	fp := ch.ClientFingerprint.String()
	if _, open := s.byClient[fp]; open {
		return ErrClientHasOpen
	}
	s.channels[ch.ID] = &memoryRecord{ch: ch.Clone()}
	s.byClient[fp] = ch.ID
	return nil
}

// ApplyPayment implements Store. The guard runs under the record mutex.
func (s *MemoryStore) ApplyPayment(ctx context.Context, channelID string, mode channel.Mode, candidate channel.State, guard channel.Guard) (*channel.Channel, error) {
	rec, err := s.record(channelID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.ch.Status == channel.StatusClosed {
		return nil, channel.ErrChannelClosed
	}
	if rec.ch.Mode != mode {
		return nil, channel.ErrModeMismatch
	}
	if err := guard.Check(rec.ch.State, candidate); err != nil {
		return nil, err
	}

	rec.ch.State = candidate
	return rec.ch.Clone(), nil
}

// Close implements Store.
func (s *MemoryStore) Close(ctx context.Context, channelID string, closedAt time.Time) (*channel.Channel, error) {
	rec, err := s.record(channelID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.ch.Status == channel.StatusClosed {
		snap := rec.ch.Clone()
		rec.mu.Unlock()
		return snap, ErrAlreadyClosed
	}
	rec.ch.Status = channel.StatusClosed
	rec.ch.ClosedAt = closedAt
	snap := rec.ch.Clone()
	fp := rec.ch.ClientFingerprint.String()
	rec.mu.Unlock()

	// Drop the single-open index entry outside the record lock; ListOpen
	// takes the locks in the opposite order.
	s.mu.Lock()
	if s.byClient[fp] == channelID {
		delete(s.byClient, fp)
	}
	s.mu.Unlock()

	return snap, nil
}

// ListOpen implements Store.
func (s *MemoryStore) ListOpen(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	type opened struct {
		id string
		at time.Time
	}
	var out []opened
	for id, rec := range s.channels {
		rec.mu.Lock()
		if rec.ch.Status == channel.StatusOpen {
			out = append(out, opened{id: id, at: rec.ch.OpenedAt})
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].at.Equal(out[b].at) {
			return out[a].id < out[b].id
		}
		return out[a].at.Before(out[b].at)
	})

	ids := make([]string, len(out))
	for i, o := range out {
		ids[i] = o.id
	}
	return ids, nil
}

// CloseStore implements Store.
func (s *MemoryStore) CloseStore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
