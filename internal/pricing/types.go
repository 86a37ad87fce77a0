package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Category identifies which unit attribute a valorization factor adjusts.
type Category string

const (
	CategoryOrientation  Category = "orientation"
	CategoryFloor        Category = "floor"
	CategoryView         Category = "view"
	CategoryBlock        Category = "block"
	CategoryDifferential Category = "differential"
)

// Categories lists every category in the order the engine applies them.
var Categories = []Category{
	CategoryOrientation,
	CategoryFloor,
	CategoryView,
	CategoryBlock,
	CategoryDifferential,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// AncillaryKind identifies a priced ancillary item (parking spaces, storage, suites).
type AncillaryKind string

const (
	AncillarySimpleParking AncillaryKind = "simple_parking"
	AncillaryDoubleParking AncillaryKind = "double_parking"
	AncillaryMotoParking   AncillaryKind = "moto_parking"
	AncillaryHobbyBox      AncillaryKind = "hobby_box"
	AncillarySuite         AncillaryKind = "suite"
)

// AncillaryKinds lists the ancillary kinds in summation order.
var AncillaryKinds = []AncillaryKind{
	AncillarySimpleParking,
	AncillaryDoubleParking,
	AncillaryMotoParking,
	AncillaryHobbyBox,
	AncillarySuite,
}

// Scenario prices the units of one development.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Development string `json:"development"`
}

// Validate checks the scenario's required fields.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return Invalid("scenario", s.ID, "name", "name is required")
	}
	if strings.TrimSpace(s.Development) == "" {
		return Invalid("scenario", s.ID, "development", "development is required")
	}
	return nil
}

// RateTable holds the base rates of one scenario.
type RateTable struct {
	ID                string                            `json:"id"`
	ScenarioID        string                            `json:"scenario_id"`
	RatePerArea       map[string]decimal.Decimal        `json:"rate_per_area"`
	RatePerAncillary  map[AncillaryKind]decimal.Decimal `json:"rate_per_ancillary"`
	RateGardenPerArea decimal.Decimal                   `json:"rate_garden_per_area"`
}

// Validate rejects negative rates and unknown ancillary kinds.
func (rt RateTable) Validate() error {
	for typology, rate := range rt.RatePerArea {
		if strings.TrimSpace(typology) == "" {
			return Invalid("rate_table", rt.ID, "rate_per_area", "typology must not be empty")
		}
		if rate.IsNegative() {
			return Invalid("rate_table", rt.ID, "rate_per_area", fmt.Sprintf("rate for %q must be >= 0", typology))
		}
	}
	for kind, rate := range rt.RatePerAncillary {
		if !kind.valid() {
			return Invalid("rate_table", rt.ID, "rate_per_ancillary", fmt.Sprintf("unknown ancillary kind %q", kind))
		}
		if rate.IsNegative() {
			return Invalid("rate_table", rt.ID, "rate_per_ancillary", fmt.Sprintf("rate for %q must be >= 0", kind))
		}
	}
	if rt.RateGardenPerArea.IsNegative() {
		return Invalid("rate_table", rt.ID, "rate_garden_per_area", "must be >= 0")
	}
	return nil
}

func (k AncillaryKind) valid() bool {
	for _, known := range AncillaryKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Factor is a percentage adjustment for one (category, reference value) pair of a rate table.
type Factor struct {
	ID             string          `json:"id"`
	RateTableID    string          `json:"rate_table_id"`
	Category       Category        `json:"category"`
	ReferenceValue string          `json:"reference_value"`
	Percentage     decimal.Decimal `json:"percentage"`
}

// Validate checks the category and the [-100, 100] percentage range.
func (f Factor) Validate() error {
	if !f.Category.Valid() {
		return Invalid("factor", f.ID, "category", fmt.Sprintf("unknown category %q", f.Category))
	}
	if strings.TrimSpace(f.ReferenceValue) == "" {
		return Invalid("factor", f.ID, "reference_value", "reference_value is required")
	}
	if f.Percentage.LessThan(hundred.Neg()) || f.Percentage.GreaterThan(hundred) {
		return Invalid("factor", f.ID, "percentage", "must be between -100 and 100")
	}
	return nil
}

// AncillaryCounts holds how many of each ancillary item a unit includes.
type AncillaryCounts struct {
	SimpleParking int `json:"simple_parking"`
	DoubleParking int `json:"double_parking"`
	MotoParking   int `json:"moto_parking"`
	HobbyBox      int `json:"hobby_box"`
	Suite         int `json:"suite"`
}

// Count returns the count for kind.
func (c AncillaryCounts) Count(kind AncillaryKind) int {
	switch kind {
	case AncillarySimpleParking:
		return c.SimpleParking
	case AncillaryDoubleParking:
		return c.DoubleParking
	case AncillaryMotoParking:
		return c.MotoParking
	case AncillaryHobbyBox:
		return c.HobbyBox
	case AncillarySuite:
		return c.Suite
	}
	return 0
}

// Unit is a sellable unit of a development.
type Unit struct {
	ID            string          `json:"id"`
	Development   string          `json:"development"`
	Code          string          `json:"code"`
	Typology      string          `json:"typology"`
	AreaPrivative decimal.Decimal `json:"area_privative"`
	AreaGarden    decimal.Decimal `json:"area_garden"`
	Floor         int             `json:"floor"`
	Block         string          `json:"block"`
	Orientation   string          `json:"orientation"`
	View          string          `json:"view,omitempty"`
	Differential  string          `json:"differential,omitempty"`
	Ancillary     AncillaryCounts `json:"ancillary"`
}

// Validate checks areas, counts and required attributes.
func (u Unit) Validate() error {
	if strings.TrimSpace(u.Development) == "" {
		return Invalid("unit", u.ID, "development", "development is required")
	}
	if strings.TrimSpace(u.Typology) == "" {
		return Invalid("unit", u.ID, "typology", "typology is required")
	}
	if !u.AreaPrivative.IsPositive() {
		return Invalid("unit", u.ID, "area_privative", "must be > 0")
	}
	if u.AreaGarden.IsNegative() {
		return Invalid("unit", u.ID, "area_garden", "must be >= 0")
	}
	for _, kind := range AncillaryKinds {
		if u.Ancillary.Count(kind) < 0 {
			return Invalid("unit", u.ID, string(kind), "must be >= 0")
		}
	}
	return nil
}

// Attribute returns the unit's reference value for category c.
// ok is false when the unit has no defined attribute for c.
func (u Unit) Attribute(c Category) (value string, ok bool) {
	switch c {
	case CategoryOrientation:
		value = u.Orientation
	case CategoryFloor:
		return strconv.Itoa(u.Floor), true
	case CategoryView:
		value = u.View
	case CategoryBlock:
		value = u.Block
	case CategoryDifferential:
		value = u.Differential
	default:
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Phase is one step of a scenario's sales timeline.
type Phase struct {
	ID           string          `json:"id"`
	ScenarioID   string          `json:"scenario_id"`
	Order        int             `json:"order"`
	Name         string          `json:"name"`
	Readjustment decimal.Decimal `json:"readjustment_percentage"`
}

// Validate checks the order and readjustment bounds.
func (p Phase) Validate() error {
	if p.Order < 0 {
		return Invalid("phase", p.ID, "order", "must be >= 0")
	}
	if strings.TrimSpace(p.Name) == "" {
		return Invalid("phase", p.ID, "name", "name is required")
	}
	if p.Readjustment.LessThan(hundred.Neg()) {
		return Invalid("phase", p.ID, "readjustment_percentage", "must be >= -100")
	}
	return nil
}

// PhaseValue is the computed price of a unit at one phase.
type PhaseValue struct {
	PhaseID      string          `json:"phase_id"`
	Order        int             `json:"order"`
	Name         string          `json:"name"`
	Readjustment decimal.Decimal `json:"readjustment_percentage"`
	Value        decimal.Decimal `json:"value"`
}

// Valuation is the full derived pricing record of one unit in one scenario.
// CategoryPercentages and CategoryValues only carry keys for categories that
// matched a configured factor.
type Valuation struct {
	ScenarioID          string                       `json:"scenario_id"`
	UnitID              string                       `json:"unit_id"`
	UnitCode            string                       `json:"unit_code"`
	Typology            string                       `json:"typology"`
	PrivativeValue      decimal.Decimal              `json:"privative_value"`
	GardenValue         decimal.Decimal              `json:"garden_value"`
	BaseValue           decimal.Decimal              `json:"base_value"`
	AncillaryValue      decimal.Decimal              `json:"ancillary_value"`
	CategoryPercentages map[Category]decimal.Decimal `json:"category_percentages"`
	CategoryValues      map[Category]decimal.Decimal `json:"category_values"`
	InitialValue        decimal.Decimal              `json:"initial_value"`
	PhaseValues         []PhaseValue                 `json:"phase_values"`
	AllocatedPhaseID    string                       `json:"allocated_phase_id,omitempty"`
	SaleValue           decimal.NullDecimal          `json:"sale_value"`
	ComputedAt          time.Time                    `json:"computed_at"`
}

// Subtotal is base plus ancillary, the amount category percentages apply to.
func (v Valuation) Subtotal() decimal.Decimal {
	return v.BaseValue.Add(v.AncillaryValue)
}

// CategoryTotal sums all category adjustments.
func (v Valuation) CategoryTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range Categories {
		if value, ok := v.CategoryValues[c]; ok {
			total = total.Add(value)
		}
	}
	return total
}

// PhaseValue returns the computed value at phaseID.
func (v Valuation) PhaseValue(phaseID string) (decimal.Decimal, bool) {
	for _, pv := range v.PhaseValues {
		if pv.PhaseID == phaseID {
			return pv.Value, true
		}
	}
	return decimal.Zero, false
}

// Allocated reports whether the unit is committed to a phase.
func (v Valuation) Allocated() bool {
	return v.AllocatedPhaseID != ""
}

// Clone returns a deep copy so callers can mutate it freely.
func (v Valuation) Clone() Valuation {
	out := v
	if v.CategoryPercentages != nil {
		out.CategoryPercentages = make(map[Category]decimal.Decimal, len(v.CategoryPercentages))
		for k, p := range v.CategoryPercentages {
			out.CategoryPercentages[k] = p
		}
	}
	if v.CategoryValues != nil {
		out.CategoryValues = make(map[Category]decimal.Decimal, len(v.CategoryValues))
		for k, val := range v.CategoryValues {
			out.CategoryValues[k] = val
		}
	}
	if v.PhaseValues != nil {
		out.PhaseValues = append([]PhaseValue(nil), v.PhaseValues...)
	}
	return out
}
