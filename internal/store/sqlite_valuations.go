package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/launchpricing/internal/pricing"
)

const valuationColumns = `
	scenario_id, unit_id, unit_code, typology,
	privative_value, garden_value, base_value, ancillary_value,
	category_percentages_json, category_values_json, initial_value, phase_values_json,
	allocated_phase_id, sale_value, computed_at`

// GetValuation returns the valuation of one unit in a scenario.
func (s *SQLite) GetValuation(ctx context.Context, scenarioID, unitID string) (*pricing.Valuation, error) {
	v, err := scanValuation(s.db.QueryRowContext(ctx, `
		SELECT `+valuationColumns+`
		FROM unit_valuations
		WHERE scenario_id = ? AND unit_id = ?
	`, scenarioID, unitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.NotFound("valuation", unitID)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListValuations returns a scenario's valuations ordered by unit code, limited
// to unitIDs when any are given.
func (s *SQLite) ListValuations(ctx context.Context, scenarioID string, unitIDs ...string) ([]pricing.Valuation, error) {
	query := `SELECT ` + valuationColumns + ` FROM unit_valuations WHERE scenario_id = ?`
	args := []any{scenarioID}
	if len(unitIDs) > 0 {
		query += ` AND unit_id IN (` + placeholders(len(unitIDs)) + `)`
		args = append(args, stringArgs(unitIDs)...)
	}
	query += ` ORDER BY unit_code, unit_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query valuations: %w", err)
	}
	defer rows.Close()

	vals := make([]pricing.Valuation, 0)
	for rows.Next() {
		v, err := scanValuation(rows)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valuations: %w", err)
	}
	return vals, nil
}

// BatchUpsertValuations writes vals in one transaction.
func (s *SQLite) BatchUpsertValuations(ctx context.Context, scenarioID string, vals []pricing.Valuation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertValuations(ctx, tx, scenarioID, vals)
	})
}

// ReplaceValuations swaps the scenario's whole valuation set for vals in one
// transaction; rows of units not in vals are removed.
func (s *SQLite) ReplaceValuations(ctx context.Context, scenarioID string, vals []pricing.Valuation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unit_valuations WHERE scenario_id = ?`, scenarioID); err != nil {
			return fmt.Errorf("clear valuations: %w", err)
		}
		return upsertValuations(ctx, tx, scenarioID, vals)
	})
}

func upsertValuations(ctx context.Context, tx *sql.Tx, scenarioID string, vals []pricing.Valuation) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unit_valuations (`+valuationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scenario_id, unit_id) DO UPDATE SET
			unit_code = excluded.unit_code,
			typology = excluded.typology,
			privative_value = excluded.privative_value,
			garden_value = excluded.garden_value,
			base_value = excluded.base_value,
			ancillary_value = excluded.ancillary_value,
			category_percentages_json = excluded.category_percentages_json,
			category_values_json = excluded.category_values_json,
			initial_value = excluded.initial_value,
			phase_values_json = excluded.phase_values_json,
			allocated_phase_id = excluded.allocated_phase_id,
			sale_value = excluded.sale_value,
			computed_at = excluded.computed_at
	`)
	if err != nil {
		return fmt.Errorf("prepare valuation upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vals {
		if v.ScenarioID != scenarioID {
			return pricing.DataIntegrity("valuation", v.UnitID,
				fmt.Sprintf("belongs to scenario %s, not %s", v.ScenarioID, scenarioID))
		}
		percentages, err := json.Marshal(categoryMap(v.CategoryPercentages))
		if err != nil {
			return fmt.Errorf("encode category percentages: %w", err)
		}
		values, err := json.Marshal(categoryMap(v.CategoryValues))
		if err != nil {
			return fmt.Errorf("encode category values: %w", err)
		}
		phases := v.PhaseValues
		if phases == nil {
			phases = []pricing.PhaseValue{}
		}
		phaseJSON, err := json.Marshal(phases)
		if err != nil {
			return fmt.Errorf("encode phase values: %w", err)
		}

		var allocated sql.NullString
		if v.Allocated() {
			allocated = sql.NullString{String: v.AllocatedPhaseID, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			scenarioID, v.UnitID, v.UnitCode, v.Typology,
			v.PrivativeValue, v.GardenValue, v.BaseValue, v.AncillaryValue,
			string(percentages), string(values), v.InitialValue, string(phaseJSON),
			allocated, v.SaleValue, formatTime(v.ComputedAt),
		); err != nil {
			return fmt.Errorf("upsert valuation for unit %s: %w", v.UnitID, err)
		}
	}
	return nil
}

func scanValuation(row rowScanner) (pricing.Valuation, error) {
	var v pricing.Valuation
	var percentagesJSON, valuesJSON, phasesJSON, computedAt string
	var allocated sql.NullString
	err := row.Scan(
		&v.ScenarioID, &v.UnitID, &v.UnitCode, &v.Typology,
		&v.PrivativeValue, &v.GardenValue, &v.BaseValue, &v.AncillaryValue,
		&percentagesJSON, &valuesJSON, &v.InitialValue, &phasesJSON,
		&allocated, &v.SaleValue, &computedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v, err
		}
		return v, fmt.Errorf("scan valuation: %w", err)
	}

	if err := json.Unmarshal([]byte(percentagesJSON), &v.CategoryPercentages); err != nil {
		return v, fmt.Errorf("decode category percentages of unit %s: %w", v.UnitID, err)
	}
	if err := json.Unmarshal([]byte(valuesJSON), &v.CategoryValues); err != nil {
		return v, fmt.Errorf("decode category values of unit %s: %w", v.UnitID, err)
	}
	if err := json.Unmarshal([]byte(phasesJSON), &v.PhaseValues); err != nil {
		return v, fmt.Errorf("decode phase values of unit %s: %w", v.UnitID, err)
	}
	v.AllocatedPhaseID = allocated.String
	if v.ComputedAt, err = parseTime(computedAt); err != nil {
		return v, fmt.Errorf("parse computed_at of unit %s: %w", v.UnitID, err)
	}
	return v, nil
}

func categoryMap(m map[pricing.Category]decimal.Decimal) map[pricing.Category]decimal.Decimal {
	if m == nil {
		return map[pricing.Category]decimal.Decimal{}
	}
	return m
}
