package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
	"github.com/osvatech/bus-telemetry/services/ingest/pipeline"
)

// Store wraps database access helpers. It implements pipeline.Gateway.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping probes the backend with a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const lastLocationSQL = `
    SELECT latitude, longitude, timestamp_location
    FROM bus_location
    WHERE bus_line = $1
    ORDER BY timestamp_location DESC
    LIMIT 1
`

// LastLocation returns the most recent stored position for a line, or
// nil when the line has never reported.
func (s *Store) LastLocation(ctx context.Context, line string) (*models.LastFix, error) {
	var fix models.LastFix
	err := s.pool.QueryRow(ctx, lastLocationSQL, line).Scan(
		&fix.Latitude,
		&fix.Longitude,
		&fix.ObservedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fix, nil
}

// WithTx runs fn inside a transaction. Commit on nil, rollback on error;
// the transaction is released on every exit path, including panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx pipeline.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// txStore scopes the insert helpers to one open transaction.
type txStore struct {
	tx pgx.Tx
}

const insertLocationSQL = `
    INSERT INTO bus_location (bus_line, timestamp_location, latitude, longitude)
    VALUES ($1, $2, $3, $4)
    RETURNING id
`

func (t *txStore) InsertLocation(ctx context.Context, line string, observedAt time.Time, lat, lon float64) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, insertLocationSQL, line, observedAt, lat, lon).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const insertImageSQL = `
    INSERT INTO bus_image (location_id, image_data, timestamp_image)
    VALUES ($1, $2, $3)
`

func (t *txStore) InsertImage(ctx context.Context, locationID int64, data []byte, observedAt time.Time) error {
	_, err := t.tx.Exec(ctx, insertImageSQL, locationID, data, observedAt)
	return err
}

const statsCountsSQL = `
    SELECT
      (SELECT COUNT(*) FROM bus_location) AS total_locations,
      (SELECT COUNT(*) FROM bus_image) AS total_images
`

const activeLinesSQL = `
    SELECT DISTINCT bus_line
    FROM bus_location
    ORDER BY bus_line
`

// Stats returns aggregate telemetry counts and the set of lines that
// have reported at least once.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	if err := s.pool.QueryRow(ctx, statsCountsSQL).Scan(&stats.TotalLocations, &stats.TotalImages); err != nil {
		return models.Stats{}, err
	}

	rows, err := s.pool.Query(ctx, activeLinesSQL)
	if err != nil {
		return models.Stats{}, err
	}
	defer rows.Close()

	stats.ActiveLines = make([]string, 0)
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return models.Stats{}, err
		}
		stats.ActiveLines = append(stats.ActiveLines, line)
	}
	return stats, rows.Err()
}
