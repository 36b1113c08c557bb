package source

import (
	"context"
	"database/sql"
	"time"

	"github.com/opspulse/opspulse/internal/models"
)

// Store is the sqlite-backed metric store holding raw facts and persisted
// predictions.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertObservation(ctx context.Context, obs models.Observation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (vm, metric, timestamp, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(vm, metric, timestamp) DO UPDATE SET
			value = excluded.value
	`, obs.VM, obs.Metric, obs.Timestamp.UTC(), obs.Value)
	return err
}

func (s *Store) Observations(ctx context.Context, vm, metric string, since, until time.Time) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vm, metric, timestamp, value
		FROM facts
		WHERE vm = ? AND metric = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, vm, metric, since.UTC(), until.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		var obs models.Observation
		if err := rows.Scan(&obs.VM, &obs.Metric, &obs.Timestamp, &obs.Value); err != nil {
			return nil, err
		}
		obs.Timestamp = obs.Timestamp.UTC()
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// SavePredictions upserts forecast rows. Re-running the same forecast
// overwrites rather than duplicates: (vm, metric, timestamp) is unique.
func (s *Store) SavePredictions(ctx context.Context, vm, metric string, points []models.ForecastPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO predictions (vm, metric, timestamp, value_predicted, lower_bound, upper_bound, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vm, metric, timestamp) DO UPDATE SET
			value_predicted = excluded.value_predicted,
			lower_bound = excluded.lower_bound,
			upper_bound = excluded.upper_bound,
			created_at = excluded.created_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, vm, metric, p.Timestamp.UTC(), p.Value, p.Lower, p.Upper, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Predictions(ctx context.Context, vm, metric string, since, until time.Time) ([]models.ForecastPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, value_predicted, lower_bound, upper_bound
		FROM predictions
		WHERE vm = ? AND metric = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, vm, metric, since.UTC(), until.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.ForecastPoint
	for rows.Next() {
		var p models.ForecastPoint
		if err := rows.Scan(&p.Timestamp, &p.Value, &p.Lower, &p.Upper); err != nil {
			return nil, err
		}
		p.Timestamp = p.Timestamp.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Pairs lists every distinct (vm, metric) present in the facts table.
func (s *Store) Pairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT vm, metric FROM facts ORDER BY vm, metric
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.VM, &p.Metric); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
