package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrDataIntegrity    = errors.New("data integrity error")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyAllocated = errors.New("unit already allocated elsewhere")
	ErrInvalidInput     = errors.New("invalid input")
)

// Error carries the kind of failure plus the entity that caused it.
type Error struct {
	Kind    error
	Entity  string
	ID      string
	Field   string
	Message string
	Cause   error
}

// Error formats as "<kind>: <entity> <id> <field>: <message>: <cause>", omitting empty parts.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Entity != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Entity)
		if e.ID != "" {
			sb.WriteString(" ")
			sb.WriteString(e.ID)
		}
	}
	if e.Field != "" {
		sb.WriteString(" field ")
		sb.WriteString(e.Field)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Configuration reports a configuration problem on an entity.
func Configuration(entity, id, field, msg string) *Error {
	return &Error{Kind: ErrConfiguration, Entity: entity, ID: id, Field: field, Message: msg}
}

// DataIntegrity reports rows that violate an identity assumption.
func DataIntegrity(entity, id, msg string) *Error {
	return &Error{Kind: ErrDataIntegrity, Entity: entity, ID: id, Message: msg}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

// Invalid reports a rejected input field.
func Invalid(entity, id, field, msg string) *Error {
	return &Error{Kind: ErrInvalidInput, Entity: entity, ID: id, Field: field, Message: msg}
}

// UnitFailure wraps err with the unit that caused a batch to abort.
func UnitFailure(unitID string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) && pe.Entity == "unit" && pe.ID == unitID {
		return pe
	}
	kind := ErrConfiguration
	if errors.As(err, &pe) {
		kind = pe.Kind
	}
	return &Error{Kind: kind, Entity: "unit", ID: unitID, Cause: err}
}

// KindOf returns the kind sentinel of err, or nil when err is not a pricing error.
func KindOf(err error) error {
	for _, kind := range []error{ErrConfiguration, ErrDataIntegrity, ErrNotFound, ErrAlreadyAllocated, ErrInvalidInput} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func alreadyAllocated(unitID, phaseID string) *Error {
	return &Error{
		Kind:    ErrAlreadyAllocated,
		Entity:  "unit",
		ID:      unitID,
		Message: fmt.Sprintf("allocated to phase %s", phaseID),
	}
}
