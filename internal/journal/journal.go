// Package journal records wager attempts by idempotency key in SQLite so a
// repeated request replays its settled result instead of paying twice.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// State is the terminal-or-not status of an attempt.
type State string

const (
	StatePending State = "pending"
	StateSettled State = "settled"
	StateFailed  State = "failed"
	// StateUnknown marks an attempt whose ledger call may or may not have landed.
	StateUnknown State = "unknown"
)

var ErrNotFound = errors.New("journal: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS wagers (
	key            TEXT PRIMARY KEY,
	family         TEXT NOT NULL,
	player         TEXT NOT NULL,
	round_id       INTEGER,
	stake          TEXT NOT NULL,
	selector       TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	stage          TEXT NOT NULL,
	classification TEXT NOT NULL DEFAULT '',
	payout         TEXT NOT NULL DEFAULT '0',
	tx_ref         TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS wagers_player ON wagers (player, created_at);
`

// Entry is one wager attempt.
type Entry struct {
	Key            string
	Family         string
	Player         string
	RoundID        *int64
	Stake          decimal.Decimal
	Selector       string
	State          State
	Stage          string
	Classification string
	Payout         decimal.Decimal
	TxRef          string
	Error          string
	Result         json.RawMessage
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScopedKey is the journal key for a client idempotency key. Keys are scoped
// to the player so two players can never share an attempt.
func ScopedKey(player, key string) string {
	return strings.ToLower(player) + "/" + key
}

// Store is the SQLite-backed journal.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	// one writer; Begin relies on its upsert and read running back to back
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Begin claims e.Key for a new attempt. A key whose earlier attempt failed
// definitively is reclaimed. When the key is held by another attempt, Begin
// returns that entry and false; callers compare it with e before replaying.
func (s *Store) Begin(ctx context.Context, e Entry) (Entry, bool, error) {
	if strings.TrimSpace(e.Key) == "" {
		return Entry{}, false, fmt.Errorf("journal key is required")
	}
	now := s.now().Format(timeFormat)
	stage := e.Stage
	if stage == "" {
		stage = "received"
	}
	var round sql.NullInt64
	if e.RoundID != nil {
		round = sql.NullInt64{Int64: *e.RoundID, Valid: true}
	}
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO wagers (key, family, player, round_id, stake, selector, state, stage, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	family = excluded.family,
	player = excluded.player,
	round_id = excluded.round_id,
	stake = excluded.stake,
	selector = excluded.selector,
	state = excluded.state,
	stage = excluded.stage,
	classification = '',
	payout = '0',
	tx_ref = '',
	error = '',
	result = '',
	attempts = wagers.attempts + 1,
	updated_at = excluded.updated_at
WHERE wagers.state = 'failed'`,
		e.Key, e.Family, strings.ToLower(e.Player), round, e.Stake.String(), e.Selector,
		string(StatePending), stage, now, now)
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "begin %s", e.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "rows affected")
	}
	stored, err := s.Lookup(ctx, e.Key)
	if err != nil {
		return Entry{}, false, err
	}
	return stored, n > 0, nil
}

// Advance records the attempt's current stage.
func (s *Store) Advance(ctx context.Context, key, stage string) error {
	return s.update(ctx, key, `UPDATE wagers SET stage = ?, updated_at = ? WHERE key = ?`,
		stage, s.now().Format(timeFormat), key)
}

// Settle marks the attempt settled with its result.
func (s *Store) Settle(ctx context.Context, key, classification string, payout decimal.Decimal, txRef string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	return s.update(ctx, key, `
UPDATE wagers SET state = ?, stage = 'settled', classification = ?, payout = ?, tx_ref = ?,
	result = ?, error = '', updated_at = ? WHERE key = ?`,
		string(StateSettled), classification, payout.String(), txRef, string(raw),
		s.now().Format(timeFormat), key)
}

// Fail marks the attempt failed. A failed key may be retried.
func (s *Store) Fail(ctx context.Context, key string, cause error) error {
	return s.update(ctx, key, `UPDATE wagers SET state = ?, stage = 'failed', error = ?, updated_at = ? WHERE key = ?`,
		string(StateFailed), errString(cause), s.now().Format(timeFormat), key)
}

// MarkUnknown marks an attempt whose ledger outcome is ambiguous. Such keys
// stay blocked until reconciled by an operator.
func (s *Store) MarkUnknown(ctx context.Context, key, txRef string, cause error) error {
	return s.update(ctx, key, `UPDATE wagers SET state = ?, stage = 'failed', tx_ref = ?, error = ?, updated_at = ? WHERE key = ?`,
		string(StateUnknown), txRef, errString(cause), s.now().Format(timeFormat), key)
}

func (s *Store) update(ctx context.Context, key, query string, args ...any) error {
	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update %s", key)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Lookup reads the entry for key.
func (s *Store) Lookup(ctx context.Context, key string) (Entry, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT key, family, player, round_id, stake, selector, state, stage, classification, payout,
	tx_ref, error, result, attempts, created_at, updated_at
FROM wagers WHERE key = ?`, key)
	return scanEntry(row)
}

// Recent lists a player's latest attempts, newest first.
func (s *Store) Recent(ctx context.Context, player string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT key, family, player, round_id, stake, selector, state, stage, classification, payout,
	tx_ref, error, result, attempts, created_at, updated_at
FROM wagers WHERE player = ? ORDER BY created_at DESC LIMIT ?`, strings.ToLower(player), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                         Entry
		round                     sql.NullInt64
		state, stake, payout, res string
		created, updated          string
	)
	err := row.Scan(&e.Key, &e.Family, &e.Player, &round, &stake, &e.Selector, &state, &e.Stage,
		&e.Classification, &payout, &e.TxRef, &e.Error, &res, &e.Attempts, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, errors.Wrap(err, "scan entry")
	}
	e.State = State(state)
	if round.Valid {
		id := round.Int64
		e.RoundID = &id
	}
	if e.Stake, err = decimal.NewFromString(stake); err != nil {
		return Entry{}, errors.Wrap(err, "stake")
	}
	if e.Payout, err = decimal.NewFromString(payout); err != nil {
		return Entry{}, errors.Wrap(err, "payout")
	}
	if res != "" {
		e.Result = json.RawMessage(res)
	}
	e.CreatedAt, _ = time.Parse(timeFormat, created)
	e.UpdatedAt, _ = time.Parse(timeFormat, updated)
	return e, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
