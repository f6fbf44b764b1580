package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
)

// Shape classifies a stored field before it is used.
type Shape int

const (
	// Absent means the field was never written (or holds JSON null).
	Absent Shape = iota
	// Valid means the field decoded into its expected type.
	Valid
	// Malformed means the field exists but has the wrong structure.
	Malformed
)

func (s Shape) String() string {
	switch s {
	case Absent:
		return "absent"
	case Valid:
		return "valid"
	case Malformed:
		return "malformed"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Field is a decoded stored value tagged with its shape. Value is only
// meaningful when Shape is Valid.
type Field[T any] struct {
	Shape Shape
	Value T
	Err   error
}

// decodeField classifies raw as Absent, Valid or Malformed for type T.
func decodeField[T any](raw []byte, present bool) Field[T] {
	trimmed := bytes.TrimSpace(raw)
	if !present || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Field[T]{Shape: Absent}
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Field[T]{Shape: Malformed, Err: fmt.Errorf("%w: %v", errx.ErrShapeCorrupted, err)}
	}
	return Field[T]{Shape: Valid, Value: v}
}

// costTrackingRecord decodes the ledger envelope first so a malformed entries
// list can be replaced without losing the running total.
type costTrackingRecord struct {
	TotalCost json.RawMessage `json:"totalCost"`
	Entries   json.RawMessage `json:"entries"`
}

// ledgerShape is the shape of the cost ledger envelope and of its two keys.
type ledgerShape struct {
	Envelope Shape
	Total    Shape
	Entries  Shape
}

// decodeCostTracking returns the ledger plus the shapes of its parts. A
// malformed envelope yields the default ledger; a malformed total reads as 0.
func decodeCostTracking(raw []byte, present bool) (CostTracking, ledgerShape) {
	rec := decodeField[costTrackingRecord](raw, present)
	if rec.Shape != Valid {
		return DefaultCostTracking(), ledgerShape{Envelope: rec.Shape}
	}

	ct := DefaultCostTracking()
	shape := ledgerShape{Envelope: Valid}

	total := decodeField[float64](rec.Value.TotalCost, true)
	shape.Total = total.Shape
	if total.Shape == Valid {
		ct.TotalCost = total.Value
	}

	list := decodeField[[]CostEntry](rec.Value.Entries, true)
	shape.Entries = list.Shape
	if list.Shape == Valid && list.Value != nil {
		ct.Entries = list.Value
	}
	return ct, shape
}
