// Package channelstore provides the per-channel atomic state store. The
// store is the single owner of channel records; every read hands out a
// snapshot, and the only mutation paths are Create, ApplyPayment and Close.
//
// ApplyPayment is the atomic primitive the whole system leans on: it runs
// load -> guard -> overwrite as one unit inside the backend's per-channel
// critical section, never as separate round-trips. Two concurrent payments
// on the same channel therefore serialize, and the guard sees the freshest
// state — the "lost update" interleaving cannot happen.
package channelstore

import (
	"context"
	"time"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// Store is the channel state store contract.
type Store interface {
	// Get returns a snapshot of the channel, or ErrNotFound.
	Get(ctx context.Context, channelID string) (*channel.Channel, error)

	// GetByClient returns the open channel of a client, or ErrNotFound.
	// Used to enforce the one-open-channel-per-client invariant.
	GetByClient(ctx context.Context, fp crypto.Fingerprint) (*channel.Channel, error)

	// Create stores a new channel record with its initial state. Returns
	// ErrAlreadyExists when the channel ID is taken and ErrClientHasOpen
	// when the client already has an open channel.
	Create(ctx context.Context, ch *channel.Channel) error

	// ApplyPayment atomically loads the channel, evaluates guard against
	// the current state and the candidate, and overwrites the latest state
	// iff the guard accepts. On acceptance the updated snapshot is
	// returned; on rejection the guard's reason is returned and state is
	// unchanged.
	ApplyPayment(ctx context.Context, channelID string, mode channel.Mode, candidate channel.State, guard channel.Guard) (*channel.Channel, error)

	// Close transitions the channel open -> closed and freezes its state.
	// Returns the closed snapshot; closing an already-closed channel
	// returns ErrAlreadyClosed with the frozen snapshot semantics left to
	// the caller (close use-case handles idempotency).
	Close(ctx context.Context, channelID string, closedAt time.Time) (*channel.Channel, error)

	// ListOpen returns the IDs of all open channels, oldest first.
	ListOpen(ctx context.Context) ([]string, error)

	// CloseStore releases backend resources.
	CloseStore() error
}
