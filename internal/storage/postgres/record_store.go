// Package postgres provides a Postgres-backed RecordStore for shared deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS podcasts (
	id TEXT PRIMARY KEY,
	name TEXT,
	description TEXT,
	publisher TEXT,
	total_episodes INTEGER,
	explicit BOOLEAN,
	media_type TEXT,
	available_markets TEXT,
	languages TEXT,
	image_url TEXT,
	external_url TEXT,
	href TEXT,
	market TEXT
)`,
	`CREATE TABLE IF NOT EXISTS query_progress (
	query TEXT PRIMARY KEY,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	resume_offset INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

const upsertRecordSQL = `
INSERT INTO podcasts (
	id, name, description, publisher, total_episodes, explicit, media_type,
	available_markets, languages, image_url, external_url, href, market
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	publisher = EXCLUDED.publisher,
	total_episodes = EXCLUDED.total_episodes,
	explicit = EXCLUDED.explicit,
	media_type = EXCLUDED.media_type,
	available_markets = EXCLUDED.available_markets,
	languages = EXCLUDED.languages,
	image_url = EXCLUDED.image_url,
	external_url = EXCLUDED.external_url,
	href = EXCLUDED.href,
	market = EXCLUDED.market`

const upsertLedgerSQL = `
INSERT INTO query_progress (query, completed, resume_offset, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (query) DO UPDATE SET
	completed = EXCLUDED.completed,
	resume_offset = EXCLUDED.resume_offset,
	updated_at = EXCLUDED.updated_at`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore writes catalog records and the completion ledger into Postgres.
type RecordStore struct {
	pool pool
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: p}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Initialize creates both tables if they do not exist.
func (s *RecordStore) Initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertRecord inserts a record or overwrites the row with the same ID.
func (s *RecordStore) UpsertRecord(ctx context.Context, rec crawler.CatalogRecord) error {
	args := []any{
		rec.ID,
		textArg(rec.Name),
		textArg(rec.Description),
		textArg(rec.Publisher),
		intArg(rec.TotalEpisodes),
		boolArg(rec.Explicit),
		textArg(rec.MediaType),
		textArg(crawler.JoinList(rec.Markets)),
		textArg(crawler.JoinList(rec.Languages)),
		textArg(rec.ImageURL),
		textArg(rec.ExternalURL),
		textArg(rec.Href),
		textArg(rec.Market),
	}
	if _, err := s.pool.Exec(ctx, upsertRecordSQL, args...); err != nil {
		return fmt.Errorf("upsert podcast %q: %w", rec.ID, err)
	}
	return nil
}

// IsComplete reports whether the ledger holds a completed entry for query.
func (s *RecordStore) IsComplete(ctx context.Context, query crawler.Query) (bool, error) {
	var completed bool
	err := s.pool.QueryRow(ctx,
		`SELECT completed FROM query_progress WHERE query = $1`, query.String(),
	).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check query %q: %w", query, err)
	}
	return completed, nil
}

// MarkComplete records query as finished.
func (s *RecordStore) MarkComplete(ctx context.Context, query crawler.Query) error {
	if _, err := s.pool.Exec(ctx, upsertLedgerSQL, query.String(), true, 0); err != nil {
		return fmt.Errorf("mark query %q complete: %w", query, err)
	}
	return nil
}

// MarkPartial records query as unfinished, to be resumed at offset.
func (s *RecordStore) MarkPartial(ctx context.Context, query crawler.Query, offset int) error {
	if _, err := s.pool.Exec(ctx, upsertLedgerSQL, query.String(), false, offset); err != nil {
		return fmt.Errorf("mark query %q partial: %w", query, err)
	}
	return nil
}

// ResumeOffset returns the resume offset of an unfinished query, or 0.
func (s *RecordStore) ResumeOffset(ctx context.Context, query crawler.Query) (int, error) {
	var offset int
	err := s.pool.QueryRow(ctx,
		`SELECT resume_offset FROM query_progress WHERE query = $1 AND NOT completed`, query.String(),
	).Scan(&offset)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resume offset for %q: %w", query, err)
	}
	return offset, nil
}

// GetRecord loads one record by ID.
func (s *RecordStore) GetRecord(ctx context.Context, id string) (crawler.CatalogRecord, error) {
	var (
		rec                                     crawler.CatalogRecord
		name, description, publisher, mediaType pgtype.Text
		imageURL, externalURL, href, market     pgtype.Text
		markets, languages                      pgtype.Text
		totalEpisodes                           pgtype.Int4
		explicit                                pgtype.Bool
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, name, description, publisher, total_episodes, explicit, media_type,
	available_markets, languages, image_url, external_url, href, market
FROM podcasts WHERE id = $1`, id,
	).Scan(
		&rec.ID, &name, &description, &publisher, &totalEpisodes, &explicit, &mediaType,
		&markets, &languages, &imageURL, &externalURL, &href, &market,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CatalogRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.CatalogRecord{}, fmt.Errorf("get podcast %q: %w", id, err)
	}
	rec.Name = name.String
	rec.Description = description.String
	rec.Publisher = publisher.String
	rec.MediaType = mediaType.String
	rec.ImageURL = imageURL.String
	rec.ExternalURL = externalURL.String
	rec.Href = href.String
	rec.Market = market.String
	rec.Markets = crawler.SplitList(markets.String)
	rec.Languages = crawler.SplitList(languages.String)
	if totalEpisodes.Valid {
		v := int(totalEpisodes.Int32)
		rec.TotalEpisodes = &v
	}
	if explicit.Valid {
		v := explicit.Bool
		rec.Explicit = &v
	}
	return rec, nil
}

// CountRecords returns the number of persisted records.
func (s *RecordStore) CountRecords(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM podcasts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count podcasts: %w", err)
	}
	return int(n), nil
}

func textArg(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

func intArg(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true} //nolint:gosec // episode counts fit in int32
}

func boolArg(v *bool) pgtype.Bool {
	if v == nil {
		return pgtype.Bool{}
	}
	return pgtype.Bool{Bool: *v, Valid: true}
}
