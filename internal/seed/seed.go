package seed

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	DemoScenarioID  = "demo-base"
	DemoDevelopment = "Residencial Aurora"

	demoScenarioName = "Base de lanzamiento"
	demoRateTableID  = "demo-rate-table"
	demoGardenRate   = "2000"
)

type areaRate struct {
	typology string
	rate     string
}

type ancillaryRate struct {
	kind string
	rate string
}

type factor struct {
	id         string
	category   string
	reference  string
	percentage string
}

type phase struct {
	id           string
	order        int
	name         string
	readjustment string
}

type unit struct {
	id            string
	code          string
	typology      string
	areaPrivative string
	areaGarden    string
	floor         int
	block         string
	orientation   string
	view          string
	simpleParking int
	suite         int
}

var (
	demoAreaRates = []areaRate{
		{typology: "apartment", rate: "10000"},
		{typology: "garden_apartment", rate: "9500"},
	}
	demoAncillaryRates = []ancillaryRate{
		{kind: "simple_parking", rate: "35000"},
		{kind: "suite", rate: "50000"},
	}
	demoFactors = []factor{
		{id: "demo-factor-north", category: "orientation", reference: "North", percentage: "5"},
		{id: "demo-factor-floor-5", category: "floor", reference: "5", percentage: "3"},
		{id: "demo-factor-sea", category: "view", reference: "Sea", percentage: "4"},
	}
	demoPhases = []phase{
		{id: "demo-phase-launch", order: 0, name: "Lançamento", readjustment: "10"},
		{id: "demo-phase-presale", order: 1, name: "Pré-venda", readjustment: "5"},
		{id: "demo-phase-stock", order: 2, name: "Estoque", readjustment: "3"},
	}
	demoUnits = []unit{
		{id: "demo-unit-a101", code: "A-101", typology: "apartment", areaPrivative: "70", areaGarden: "10", floor: 1, block: "A", orientation: "North", suite: 1},
		{id: "demo-unit-a102", code: "A-102", typology: "apartment", areaPrivative: "65", areaGarden: "0", floor: 1, block: "A", orientation: "South", simpleParking: 1},
		{id: "demo-unit-a501", code: "A-501", typology: "apartment", areaPrivative: "82.5", areaGarden: "0", floor: 5, block: "A", orientation: "North", view: "Sea", simpleParking: 2},
		{id: "demo-unit-g001", code: "G-001", typology: "garden_apartment", areaPrivative: "90", areaGarden: "45", floor: 0, block: "G", orientation: "East", simpleParking: 1, suite: 1},
	}
)

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run seeds a demo launch in an idempotent way: one scenario with its rate
// table, factors, sales phases and units. Rows that already exist are left
// as they are. Valuations are not written here; the caller recomputes.
func Run(ctx context.Context, db *sql.DB) (Stats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := ensureScenario(ctx, tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureRateTable(ctx, tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureFactors(ctx, tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensurePhases(ctx, tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureUnits(ctx, tx, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var found bool
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func ensureScenario(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	found, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM scenarios WHERE id = ?)`, DemoScenarioID)
	if err != nil {
		return fmt.Errorf("check demo scenario existence: %w", err)
	}
	if found {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scenarios (id, name, development)
		VALUES (?, ?, ?)
	`, DemoScenarioID, demoScenarioName, DemoDevelopment); err != nil {
		return fmt.Errorf("insert demo scenario: %w", err)
	}
	stats.Inserts++
	return nil
}

func ensureRateTable(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	found, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM rate_tables WHERE scenario_id = ?)`, DemoScenarioID)
	if err != nil {
		return fmt.Errorf("check demo rate table existence: %w", err)
	}
	if found {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rate_tables (id, scenario_id, rate_garden_per_area)
		VALUES (?, ?, ?)
	`, demoRateTableID, DemoScenarioID, demoGardenRate); err != nil {
		return fmt.Errorf("insert demo rate table: %w", err)
	}
	stats.Inserts++

	for _, r := range demoAreaRates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_table_area_rates (rate_table_id, typology, rate)
			VALUES (?, ?, ?)
		`, demoRateTableID, r.typology, r.rate); err != nil {
			return fmt.Errorf("insert demo area rate %s: %w", r.typology, err)
		}
	}
	for _, r := range demoAncillaryRates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_table_ancillary_rates (rate_table_id, kind, rate)
			VALUES (?, ?, ?)
		`, demoRateTableID, r.kind, r.rate); err != nil {
			return fmt.Errorf("insert demo ancillary rate %s: %w", r.kind, err)
		}
	}
	return nil
}

func ensureFactors(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	for _, f := range demoFactors {
		found, err := exists(ctx, tx, `
			SELECT EXISTS(
				SELECT 1
				FROM valorization_factors
				WHERE rate_table_id = ? AND category = ? AND reference_value = ?
			)
		`, demoRateTableID, f.category, f.reference)
		if err != nil {
			return fmt.Errorf("check demo factor existence: %w", err)
		}
		if found {
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO valorization_factors (id, rate_table_id, category, reference_value, percentage)
			VALUES (?, ?, ?, ?, ?)
		`, f.id, demoRateTableID, f.category, f.reference, f.percentage); err != nil {
			return fmt.Errorf("insert demo factor %s: %w", f.id, err)
		}
		stats.Inserts++
	}
	return nil
}

func ensurePhases(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	for _, p := range demoPhases {
		found, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM sales_phases WHERE scenario_id = ? AND order_index = ?)`, DemoScenarioID, p.order)
		if err != nil {
			return fmt.Errorf("check demo phase existence: %w", err)
		}
		if found {
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales_phases (id, scenario_id, order_index, name, readjustment)
			VALUES (?, ?, ?, ?, ?)
		`, p.id, DemoScenarioID, p.order, p.name, p.readjustment); err != nil {
			return fmt.Errorf("insert demo phase %s: %w", p.id, err)
		}
		stats.Inserts++
	}
	return nil
}

func ensureUnits(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	for _, u := range demoUnits {
		found, err := exists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM units WHERE id = ?)`, u.id)
		if err != nil {
			return fmt.Errorf("check demo unit existence: %w", err)
		}
		if found {
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO units (
				id,
				development,
				code,
				typology,
				area_privative,
				area_garden,
				floor,
				block,
				orientation,
				view,
				simple_parking,
				suite
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, u.id, DemoDevelopment, u.code, u.typology, u.areaPrivative, u.areaGarden, u.floor, u.block, u.orientation, u.view, u.simpleParking, u.suite); err != nil {
			return fmt.Errorf("insert demo unit %s: %w", u.code, err)
		}
		stats.Inserts++
	}
	return nil
}
