package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/launchpricing/internal/pricing"
)

// GetRateTable returns the rate table of a scenario.
func (s *SQLite) GetRateTable(ctx context.Context, scenarioID string) (*pricing.RateTable, error) {
	return s.getRateTable(ctx, `scenario_id = ?`, scenarioID, "rate_table for scenario")
}

// GetRateTableByID returns the rate table with id.
func (s *SQLite) GetRateTableByID(ctx context.Context, id string) (*pricing.RateTable, error) {
	return s.getRateTable(ctx, `id = ?`, id, "rate_table")
}

func (s *SQLite) getRateTable(ctx context.Context, where, arg, entity string) (*pricing.RateTable, error) {
	rt := pricing.RateTable{
		RatePerArea:      make(map[string]decimal.Decimal),
		RatePerAncillary: make(map[pricing.AncillaryKind]decimal.Decimal),
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, rate_garden_per_area
		FROM rate_tables
		WHERE `+where, arg).Scan(&rt.ID, &rt.ScenarioID, &rt.RateGardenPerArea)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.NotFound(entity, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("query rate table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT typology, rate FROM rate_table_area_rates WHERE rate_table_id = ?
	`, rt.ID)
	if err != nil {
		return nil, fmt.Errorf("query area rates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typology string
		var rate decimal.Decimal
		if err := rows.Scan(&typology, &rate); err != nil {
			return nil, fmt.Errorf("scan area rate: %w", err)
		}
		rt.RatePerArea[typology] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate area rates: %w", err)
	}

	anc, err := s.db.QueryContext(ctx, `
		SELECT kind, rate FROM rate_table_ancillary_rates WHERE rate_table_id = ?
	`, rt.ID)
	if err != nil {
		return nil, fmt.Errorf("query ancillary rates: %w", err)
	}
	defer anc.Close()
	for anc.Next() {
		var kind string
		var rate decimal.Decimal
		if err := anc.Scan(&kind, &rate); err != nil {
			return nil, fmt.Errorf("scan ancillary rate: %w", err)
		}
		rt.RatePerAncillary[pricing.AncillaryKind(kind)] = rate
	}
	if err := anc.Err(); err != nil {
		return nil, fmt.Errorf("iterate ancillary rates: %w", err)
	}

	return &rt, nil
}

// UpsertRateTable creates the scenario's rate table or replaces its rates.
// The table keeps its id across updates.
func (s *SQLite) UpsertRateTable(ctx context.Context, scenarioID string, rt *pricing.RateTable) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM rate_tables WHERE scenario_id = ?`, scenarioID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if rt.ID == "" {
				rt.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rate_tables (id, scenario_id, rate_garden_per_area)
				VALUES (?, ?, ?)
			`, rt.ID, scenarioID, rt.RateGardenPerArea); err != nil {
				return fmt.Errorf("insert rate table: %w", err)
			}
		case err != nil:
			return fmt.Errorf("query rate table id: %w", err)
		default:
			rt.ID = existingID
			if _, err := tx.ExecContext(ctx, `
				UPDATE rate_tables
				SET rate_garden_per_area = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, rt.RateGardenPerArea, rt.ID); err != nil {
				return fmt.Errorf("update rate table: %w", err)
			}
		}
		rt.ScenarioID = scenarioID

		if _, err := tx.ExecContext(ctx, `DELETE FROM rate_table_area_rates WHERE rate_table_id = ?`, rt.ID); err != nil {
			return fmt.Errorf("clear area rates: %w", err)
		}
		for typology, rate := range rt.RatePerArea {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rate_table_area_rates (rate_table_id, typology, rate) VALUES (?, ?, ?)
			`, rt.ID, typology, rate); err != nil {
				return fmt.Errorf("insert area rate %q: %w", typology, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM rate_table_ancillary_rates WHERE rate_table_id = ?`, rt.ID); err != nil {
			return fmt.Errorf("clear ancillary rates: %w", err)
		}
		for kind, rate := range rt.RatePerAncillary {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rate_table_ancillary_rates (rate_table_id, kind, rate) VALUES (?, ?, ?)
			`, rt.ID, string(kind), rate); err != nil {
				return fmt.Errorf("insert ancillary rate %q: %w", kind, err)
			}
		}
		return nil
	})
}

// ListFactors returns the factors of a rate table ordered by category and reference.
func (s *SQLite) ListFactors(ctx context.Context, rateTableID string) ([]pricing.Factor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rate_table_id, category, reference_value, percentage
		FROM valorization_factors
		WHERE rate_table_id = ?
		ORDER BY category, reference_value
	`, rateTableID)
	if err != nil {
		return nil, fmt.Errorf("query factors: %w", err)
	}
	defer rows.Close()

	factors := make([]pricing.Factor, 0)
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factors: %w", err)
	}
	return factors, nil
}

// GetFactor returns the factor with id.
func (s *SQLite) GetFactor(ctx context.Context, id string) (*pricing.Factor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rate_table_id, category, reference_value, percentage
		FROM valorization_factors
		WHERE id = ?
	`, id)
	f, err := scanFactor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.NotFound("factor", id)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFactor writes f. A factor with the same (rate table, category,
// reference value) is overwritten in place and f takes its id.
func (s *SQLite) UpsertFactor(ctx context.Context, f *pricing.Factor) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO valorization_factors (id, rate_table_id, category, reference_value, percentage)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(rate_table_id, category, reference_value) DO UPDATE SET
			percentage = excluded.percentage,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, f.ID, f.RateTableID, string(f.Category), f.ReferenceValue, f.Percentage).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("upsert factor: %w", err)
	}
	return nil
}

// DeleteFactor removes the factor with id.
func (s *SQLite) DeleteFactor(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM valorization_factors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete factor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete factor: %w", err)
	}
	if affected == 0 {
		return pricing.NotFound("factor", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFactor(row rowScanner) (pricing.Factor, error) {
	var f pricing.Factor
	var category string
	if err := row.Scan(&f.ID, &f.RateTableID, &category, &f.ReferenceValue, &f.Percentage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return f, err
		}
		return f, fmt.Errorf("scan factor: %w", err)
	}
	f.Category = pricing.Category(category)
	return f, nil
}
