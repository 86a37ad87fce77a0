package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Simplici0/launchpricing/internal/pricing"
)

const unitColumns = `
	id, development, code, typology, area_privative, area_garden, floor, block,
	orientation, view, differential,
	simple_parking, double_parking, moto_parking, hobby_box, suite`

// ListUnits returns units matching filter ordered by development, code and id.
func (s *SQLite) ListUnits(ctx context.Context, filter UnitFilter) ([]pricing.Unit, error) {
	var where []string
	var args []any
	if filter.Development != "" {
		where = append(where, "development = ?")
		args = append(args, filter.Development)
	}
	if filter.Code != "" {
		where = append(where, "code = ?")
		args = append(args, filter.Code)
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		args = append(args, stringArgs(filter.IDs)...)
	}

	query := `SELECT ` + unitColumns + ` FROM units`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY development, code, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	units := make([]pricing.Unit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

// GetUnit returns the unit with id.
func (s *SQLite) GetUnit(ctx context.Context, id string) (*pricing.Unit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.NotFound("unit", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUnit inserts u or overwrites the unit with the same id.
func (s *SQLite) UpsertUnit(ctx context.Context, u *pricing.Unit) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (`+unitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			development = excluded.development,
			code = excluded.code,
			typology = excluded.typology,
			area_privative = excluded.area_privative,
			area_garden = excluded.area_garden,
			floor = excluded.floor,
			block = excluded.block,
			orientation = excluded.orientation,
			view = excluded.view,
			differential = excluded.differential,
			simple_parking = excluded.simple_parking,
			double_parking = excluded.double_parking,
			moto_parking = excluded.moto_parking,
			hobby_box = excluded.hobby_box,
			suite = excluded.suite,
			updated_at = CURRENT_TIMESTAMP
	`,
		u.ID, u.Development, u.Code, u.Typology, u.AreaPrivative, u.AreaGarden, u.Floor, u.Block,
		u.Orientation, u.View, u.Differential,
		u.Ancillary.SimpleParking, u.Ancillary.DoubleParking, u.Ancillary.MotoParking, u.Ancillary.HobbyBox, u.Ancillary.Suite,
	)
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}
	return nil
}

func scanUnit(row rowScanner) (pricing.Unit, error) {
	var u pricing.Unit
	err := row.Scan(
		&u.ID, &u.Development, &u.Code, &u.Typology, &u.AreaPrivative, &u.AreaGarden, &u.Floor, &u.Block,
		&u.Orientation, &u.View, &u.Differential,
		&u.Ancillary.SimpleParking, &u.Ancillary.DoubleParking, &u.Ancillary.MotoParking, &u.Ancillary.HobbyBox, &u.Ancillary.Suite,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("scan unit: %w", err)
	}
	return u, nil
}

// ListPhases returns a scenario's phases ordered by order.
func (s *SQLite) ListPhases(ctx context.Context, scenarioID string) ([]pricing.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario_id, order_index, name, readjustment
		FROM sales_phases
		WHERE scenario_id = ?
		ORDER BY order_index
	`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	phases := make([]pricing.Phase, 0)
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return phases, nil
}

// GetPhase returns the phase with id.
func (s *SQLite) GetPhase(ctx context.Context, id string) (*pricing.Phase, error) {
	p, err := scanPhase(s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, order_index, name, readjustment
		FROM sales_phases
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.NotFound("phase", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPhase inserts p or overwrites the phase with the same id. An order
// already taken by another phase of the scenario is a configuration error.
func (s *SQLite) UpsertPhase(ctx context.Context, p *pricing.Phase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var other string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM sales_phases WHERE scenario_id = ? AND order_index = ? AND id <> ?
		`, p.ScenarioID, p.Order, p.ID).Scan(&other)
		if err == nil {
			return pricing.Configuration("phase", p.ID, "order",
				fmt.Sprintf("order %d already used by phase %s", p.Order, other))
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check phase order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales_phases (id, scenario_id, order_index, name, readjustment)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				order_index = excluded.order_index,
				name = excluded.name,
				readjustment = excluded.readjustment,
				updated_at = CURRENT_TIMESTAMP
		`, p.ID, p.ScenarioID, p.Order, p.Name, p.Readjustment); err != nil {
			return fmt.Errorf("upsert phase: %w", err)
		}
		return nil
	})
}

// DeletePhase removes a phase and moves every later phase of its scenario one
// order down, keeping the ladder contiguous.
func (s *SQLite) DeletePhase(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var scenarioID string
		var order int
		err := tx.QueryRowContext(ctx, `SELECT scenario_id, order_index FROM sales_phases WHERE id = ?`, id).Scan(&scenarioID, &order)
		if errors.Is(err, sql.ErrNoRows) {
			return pricing.NotFound("phase", id)
		}
		if err != nil {
			return fmt.Errorf("query phase: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sales_phases WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete phase: %w", err)
		}

		// Two passes through negative orders so the unique (scenario, order)
		// index never sees a transient collision.
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales_phases SET order_index = -order_index WHERE scenario_id = ? AND order_index > ?
		`, scenarioID, order); err != nil {
			return fmt.Errorf("park phase orders: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales_phases
			SET order_index = -order_index - 1, updated_at = CURRENT_TIMESTAMP
			WHERE scenario_id = ? AND order_index < 0
		`, scenarioID); err != nil {
			return fmt.Errorf("compact phase orders: %w", err)
		}
		return nil
	})
}

func scanPhase(row rowScanner) (pricing.Phase, error) {
	var p pricing.Phase
	if err := row.Scan(&p.ID, &p.ScenarioID, &p.Order, &p.Name, &p.Readjustment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan phase: %w", err)
	}
	return p, nil
}
