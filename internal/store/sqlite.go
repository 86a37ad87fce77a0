package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Simplici0/launchpricing/internal/pricing"
)

const timeLayout = time.RFC3339Nano

// SQLite implements Store on a database/sql handle opened with the sqlite driver.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite wraps an open database whose schema is already migrated.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// CreateScenario inserts s, assigning an id when empty. An existing id is a
// data integrity error; scenarios are never rewritten in place.
func (s *SQLite) CreateScenario(ctx context.Context, sc *pricing.Scenario) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scenarios (id, name, development)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sc.ID, sc.Name, sc.Development)
	if err != nil {
		return fmt.Errorf("insert scenario: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert scenario: %w", err)
	}
	if n == 0 {
		return pricing.DataIntegrity("scenario", sc.ID, "already exists")
	}
	return nil
}

// GetScenario returns the scenario with id.
func (s *SQLite) GetScenario(ctx context.Context, id string) (*pricing.Scenario, error) {
	var sc pricing.Scenario
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, development
		FROM scenarios
		WHERE id = ?
	`, id).Scan(&sc.ID, &sc.Name, &sc.Development)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.NotFound("scenario", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query scenario: %w", err)
	}
	return &sc, nil
}

// ListScenarios returns all scenarios, or those of one development when given.
func (s *SQLite) ListScenarios(ctx context.Context, development string) ([]pricing.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, development
		FROM scenarios
		WHERE (? = '' OR development = ?)
		ORDER BY development, name, id
	`, development, development)
	if err != nil {
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := make([]pricing.Scenario, 0)
	for rows.Next() {
		var sc pricing.Scenario
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Development); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		scenarios = append(scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	return scenarios, nil
}

// GetStatus returns the last recompute outcome; a never-recomputed scenario
// yields a zero status.
func (s *SQLite) GetStatus(ctx context.Context, scenarioID string) (ScenarioStatus, error) {
	st := ScenarioStatus{ScenarioID: scenarioID}
	var recomputedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT stale, last_error, failed_unit_id, updated_count, recomputed_at
		FROM scenario_status
		WHERE scenario_id = ?
	`, scenarioID).Scan(&st.Stale, &st.LastError, &st.FailedUnitID, &st.UpdatedCount, &recomputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("query scenario status: %w", err)
	}
	st.RecomputedAt, err = parseTime(recomputedAt)
	if err != nil {
		return st, fmt.Errorf("parse recomputed_at: %w", err)
	}
	return st, nil
}

// SaveStatus upserts the recompute outcome of a scenario.
func (s *SQLite) SaveStatus(ctx context.Context, st ScenarioStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scenario_status (scenario_id, stale, last_error, failed_unit_id, updated_count, recomputed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scenario_id) DO UPDATE SET
			stale = excluded.stale,
			last_error = excluded.last_error,
			failed_unit_id = excluded.failed_unit_id,
			updated_count = excluded.updated_count,
			recomputed_at = excluded.recomputed_at,
			updated_at = CURRENT_TIMESTAMP
	`, st.ScenarioID, st.Stale, st.LastError, st.FailedUnitID, st.UpdatedCount, formatTime(st.RecomputedAt))
	if err != nil {
		return fmt.Errorf("upsert scenario status: %w", err)
	}
	return nil
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, raw)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
