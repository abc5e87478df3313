// Package pricing implements the cart pricing engine: per-line tax cascading
// under configurable price modes, cart-level price rules, and the derived
// totals computed from them. All monetary values are shopspring decimals and
// every derived amount is recomputed from current state, never cached.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned when a supplied field is out of domain.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the requested line is not in the cart.
	ErrNotFound = errors.New("line not found")
	// ErrRuleConflict indicates a price rule violates a cart invariant.
	ErrRuleConflict = errors.New("price rule conflict")
)

var hundred = decimal.NewFromInt(100)

// PriceMode controls how input unit prices are interpreted.
type PriceMode int

const (
	// PriceWithoutTax means unit prices are given tax-exclusive.
	PriceWithoutTax PriceMode = 1
	// PriceWithTax means unit prices are given tax-inclusive.
	PriceWithTax PriceMode = 2
)

// Valid reports whether the mode is one of the two known modes.
func (m PriceMode) Valid() bool {
	return m == PriceWithoutTax || m == PriceWithTax
}

// String implements fmt.Stringer.
func (m PriceMode) String() string {
	switch m {
	case PriceWithoutTax:
		return "without_tax"
	case PriceWithTax:
		return "with_tax"
	default:
		return "unknown"
	}
}

// ParsePriceMode converts the numeric configuration value (1 or 2) into a PriceMode.
func ParsePriceMode(v int) (PriceMode, error) {
	mode := PriceMode(v)
	if !mode.Valid() {
		return 0, fmt.Errorf("price mode must be 1 (without tax) or 2 (with tax): %w", ErrInvalidInput)
	}
	return mode, nil
}
