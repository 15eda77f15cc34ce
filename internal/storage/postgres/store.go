package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokenScope/internal/model"
	"tokenScope/internal/storage"
)

var (
	_ storage.EventSink = (*Store)(nil)
	_ storage.ViewSink  = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS token_events (
	tx_hash         TEXT    NOT NULL,
	log_index       BIGINT  NOT NULL,
	block_number    BIGINT  NOT NULL,
	block_hash      TEXT    NOT NULL,
	block_timestamp BIGINT  NOT NULL,
	creator_address TEXT    NOT NULL,
	token_address   TEXT    NOT NULL,
	token_name      TEXT    NOT NULL,
	token_symbol    TEXT    NOT NULL,
	supply_raw      NUMERIC NOT NULL,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE TABLE IF NOT EXISTS creator_leaderboard (
	rank            INT     PRIMARY KEY,
	creator_address TEXT    NOT NULL,
	total_supply    NUMERIC NOT NULL,
	tokens_created  INT     NOT NULL,
	badge_tier      TEXT    NOT NULL,
	store_version   BIGINT  NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS creation_activity (
	day           DATE   PRIMARY KEY,
	count         INT    NOT NULL,
	store_version BIGINT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
`

// Store mirrors events and derived views into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the mirror tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutEvents inserts events, ignoring ones already mirrored.
func (s *Store) PutEvents(ctx context.Context, events []model.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO token_events (
				tx_hash, log_index, block_number, block_hash, block_timestamp,
				creator_address, token_address, token_name, token_symbol, supply_raw
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			ev.TxHash,
			int64(ev.LogIndex),
			int64(ev.BlockNumber),
			ev.BlockHash,
			int64(ev.BlockTimestamp),
			ev.CreatorAddress,
			ev.TokenAddress,
			ev.TokenName,
			ev.TokenSymbol,
			ev.SupplyRaw,
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

// RemoveEvents deletes mirrored events that were retracted by a reorg.
func (s *Store) RemoveEvents(ctx context.Context, keys []model.EventKey) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, key := range keys {
		batch.Queue(`DELETE FROM token_events WHERE tx_hash = $1 AND log_index = $2`, key.TxHash, int64(key.LogIndex))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range keys {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PutViews replaces the leaderboard and upserts the activity buckets in one
// transaction. Older store versions never overwrite newer ones.
func (s *Store) PutViews(ctx context.Context, views model.Views) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(store_version), -1) FROM creator_leaderboard`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read mirrored version: %w", err)
	}
	if current > int64(views.StoreVersion) {
		return nil
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM creator_leaderboard`)
	for _, entry := range views.Leaderboard {
		batch.Queue(`
			INSERT INTO creator_leaderboard (
				rank, creator_address, total_supply, tokens_created, badge_tier, store_version, updated_at
			) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		`,
			entry.Rank,
			entry.CreatorAddress,
			entry.TotalSupply,
			entry.TokensCreated,
			string(entry.BadgeTier),
			int64(views.StoreVersion),
			views.ComputedAt,
		)
	}
	for _, bucket := range views.Activity {
		batch.Queue(`
			INSERT INTO creation_activity (day, count, store_version, updated_at)
			VALUES ($1::date, $2, $3, $4)
			ON CONFLICT (day) DO UPDATE SET
				count = EXCLUDED.count,
				store_version = EXCLUDED.store_version,
				updated_at = EXCLUDED.updated_at
			WHERE creation_activity.store_version <= EXCLUDED.store_version
		`,
			bucket.DateKey,
			bucket.Count,
			int64(views.StoreVersion),
			views.ComputedAt,
		)
	}

	queued := batch.Len()
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
