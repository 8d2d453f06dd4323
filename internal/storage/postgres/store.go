package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weightedVault/internal/model"
)

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_events (
	seq        BIGINT PRIMARY KEY,
	ts         BIGINT NOT NULL,
	event_name TEXT NOT NULL,
	pool       TEXT NOT NULL DEFAULT '',
	decoded    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS vault_events_pool_idx ON vault_events (pool, seq);

CREATE TABLE IF NOT EXISTS pool_states (
	pool_address TEXT PRIMARY KEY,
	assets       JSONB NOT NULL,
	weights      JSONB NOT NULL,
	decimals     JSONB NOT NULL,
	balances     JSONB NOT NULL,
	total_supply NUMERIC NOT NULL,
	swap_fee     NUMERIC NOT NULL,
	last_seq     BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
	name       TEXT PRIMARY KEY,
	seq        BIGINT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for the event log, pool states and
// ledger snapshots.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, timeout: 10 * time.Second}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// PutEventBatch satisfies storage.Storage with a bounded background
// context.
func (s *Store) PutEventBatch(events []model.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.InsertEvents(ctx, events)
}

// InsertEvents writes events keyed by seq. Re-inserting a seq overwrites it.
func (s *Store) InsertEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		rec, err := ev.Record()
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO vault_events (seq, ts, event_name, pool, decoded, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (seq)
			DO UPDATE SET
				ts = EXCLUDED.ts,
				event_name = EXCLUDED.event_name,
				pool = EXCLUDED.pool,
				decoded = EXCLUDED.decoded
		`,
			int64(rec.Seq),
			int64(rec.Timestamp),
			rec.EventName,
			rec.Pool,
			[]byte(rec.Decoded),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadEvents returns events with seq > after in seq order.
func (s *Store) LoadEvents(ctx context.Context, after uint64) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, ts, event_name, pool, decoded
		FROM vault_events WHERE seq > $1 ORDER BY seq
	`, int64(after))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var (
			seq, ts int64
			rec     model.EventRecord
			decoded []byte
		)
		if err := rows.Scan(&seq, &ts, &rec.EventName, &rec.Pool, &decoded); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		rec.Timestamp = uint64(ts)
		rec.Decoded = json.RawMessage(decoded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertPoolStates inserts or updates the latest state of each pool. A row
// only moves forward in seq.
func (s *Store) UpsertPoolStates(ctx context.Context, states []model.PoolState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range states {
		assets, _ := json.Marshal(st.Assets)
		weights, _ := json.Marshal(st.Weights)
		decimals, _ := json.Marshal(st.Decimals)
		balances, _ := json.Marshal(st.Balances)
		batch.Queue(`
			INSERT INTO pool_states (
				pool_address, assets, weights, decimals, balances, total_supply, swap_fee, last_seq, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, now())
			ON CONFLICT (pool_address)
			DO UPDATE SET
				balances = EXCLUDED.balances,
				total_supply = EXCLUDED.total_supply,
				swap_fee = EXCLUDED.swap_fee,
				last_seq = EXCLUDED.last_seq,
				updated_at = now()
			WHERE pool_states.last_seq <= EXCLUDED.last_seq
		`,
			st.Pool,
			assets,
			weights,
			decimals,
			balances,
			st.TotalSupply,
			st.SwapFee,
			int64(st.LastSeq),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range states {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores a ledger snapshot under name.
func (s *Store) SaveSnapshot(ctx context.Context, name string, snap model.LedgerSnapshot) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledger_snapshots (name, seq, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET seq = EXCLUDED.seq, body = EXCLUDED.body, updated_at = now()
	`, name, int64(snap.Seq), body)
	return err
}

// LoadSnapshot returns the snapshot stored under name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (model.LedgerSnapshot, bool, error) {
	if name == "" {
		return model.LedgerSnapshot{}, false, fmt.Errorf("snapshot name required")
	}
	var body []byte
	row := s.pool.QueryRow(ctx, `SELECT body FROM ledger_snapshots WHERE name=$1`, name)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerSnapshot{}, false, nil
		}
		return model.LedgerSnapshot{}, false, err
	}
	var snap model.LedgerSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}
