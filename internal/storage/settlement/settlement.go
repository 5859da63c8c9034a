// Package settlement is the relational ledger behind the issuer and the
// vendor: registered accounts with their balances, and the final closing
// statements emitted when channels close. Channels settle downstream from
// this table; the hot payment path never touches it.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Driver names accepted in configuration.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrAccountExists indicates a registration for a known fingerprint.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound indicates an unknown account fingerprint.
	ErrAccountNotFound = errors.New("account not found")
	// ErrSettlementNotFound indicates no settlement for the channel.
	ErrSettlementNotFound = errors.New("settlement not found")
)

// Config selects the SQL driver and DSN.
type Config struct {
	Driver string
	DSN    string
}

// Account is one registered client.
type Account struct {
	Fingerprint  string
	PublicKeyDER []byte
	Balance      uint64
	CreatedAt    time.Time
}

// Settlement is one recorded channel closing statement.
type Settlement struct {
	ChannelID         string
	ClientFingerprint string
	Mode              string
	FinalOwedAmount   uint64
	ClosedAt          time.Time
	StatementJSON     []byte
	ClientSignature   []byte
}

// DB is the settlement ledger handle.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and ensures the schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	case "":
		cfg.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("unsupported settlement driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping settlement database: %w", err)
	}

	s := &DB{db: db, driver: cfg.Driver}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			fingerprint     TEXT PRIMARY KEY,
			public_key_der  BYTEA_OR_BLOB NOT NULL,
			balance         BIGINT NOT NULL,
			created_at      BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			channel_id          TEXT PRIMARY KEY,
			client_fingerprint  TEXT NOT NULL,
			mode                TEXT NOT NULL,
			final_owed_amount   BIGINT NOT NULL,
			closed_at           BIGINT NOT NULL,
			statement_json      BYTEA_OR_BLOB NOT NULL,
			client_signature    BYTEA_OR_BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS settlements_by_client
			ON settlements (client_fingerprint)`,
	}
	blob := "BLOB"
	if s.driver == DriverPostgres {
		blob = "BYTEA"
	}
	for _, stmt := range stmts {
		stmt = strings.ReplaceAll(stmt, "BYTEA_OR_BLOB", blob)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize settlement schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (s *DB) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateAccount inserts a new account row.
func (s *DB) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO accounts (fingerprint, public_key_der, balance, created_at)
		 VALUES (?, ?, ?, ?)`),
		a.Fingerprint, a.PublicKeyDER, int64(a.Balance), a.CreatedAt.Unix())
	if err != nil {
		if isDuplicateKey(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount loads an account by fingerprint.
func (s *DB) GetAccount(ctx context.Context, fingerprint string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT fingerprint, public_key_der, balance, created_at
		 FROM accounts WHERE fingerprint = ?`), fingerprint)

	var a Account
	var balance, createdAt int64
	if err := row.Scan(&a.Fingerprint, &a.PublicKeyDER, &balance, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	a.Balance = uint64(balance)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

// RecordSettlement inserts a closing statement. Re-recording the same
// channel is a no-op so the idempotent close path can call it safely.
func (s *DB) RecordSettlement(ctx context.Context, st *Settlement) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO settlements
		 (channel_id, client_fingerprint, mode, final_owed_amount, closed_at, statement_json, client_signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		st.ChannelID, st.ClientFingerprint, st.Mode, int64(st.FinalOwedAmount),
		st.ClosedAt.Unix(), st.StatementJSON, st.ClientSignature)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("failed to record settlement: %w", err)
	}
	return nil
}

// GetSettlement loads the recorded statement for a channel.
func (s *DB) GetSettlement(ctx context.Context, channelID string) (*Settlement, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT channel_id, client_fingerprint, mode, final_owed_amount, closed_at, statement_json, client_signature
		 FROM settlements WHERE channel_id = ?`), channelID)
	return scanSettlement(row)
}

// ListSettlements returns all settlements for a client, newest first.
func (s *DB) ListSettlements(ctx context.Context, clientFingerprint string) ([]*Settlement, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT channel_id, client_fingerprint, mode, final_owed_amount, closed_at, statement_json, client_signature
		 FROM settlements WHERE client_fingerprint = ? ORDER BY closed_at DESC`), clientFingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row rowScanner) (*Settlement, error) {
	var st Settlement
	var owed, closedAt int64
	err := row.Scan(&st.ChannelID, &st.ClientFingerprint, &st.Mode, &owed,
		&closedAt, &st.StatementJSON, &st.ClientSignature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	st.FinalOwedAmount = uint64(owed)
	st.ClosedAt = time.Unix(closedAt, 0).UTC()
	return &st, nil
}

// isDuplicateKey detects primary-key violations across both drivers
// without importing driver-specific error types.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
