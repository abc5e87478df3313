package pricing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/keranjang-dev/keranjang/internal/common"
)

// DiscountType identifies how a price rule discounts the cart.
type DiscountType int

const (
	// DiscountSubtotalPercentage discounts a percentage of each line's subtotal.
	DiscountSubtotalPercentage DiscountType = 1
	// DiscountSubtotalFixed spends a fixed pool against line subtotals.
	DiscountSubtotalFixed DiscountType = 2
	// DiscountTotalPercentage discounts a percentage of each line's total.
	DiscountTotalPercentage DiscountType = 3
	// DiscountTotalFixed spends a fixed pool against line totals.
	DiscountTotalFixed DiscountType = 4
)

// Valid reports whether the discount type is known.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountSubtotalPercentage, DiscountSubtotalFixed, DiscountTotalPercentage, DiscountTotalFixed:
		return true
	default:
		return false
	}
}

func (t DiscountType) percentage() bool {
	return t == DiscountSubtotalPercentage || t == DiscountTotalPercentage
}

// String implements fmt.Stringer.
func (t DiscountType) String() string {
	switch t {
	case DiscountSubtotalPercentage:
		return "subtotal_percentage"
	case DiscountSubtotalFixed:
		return "subtotal_fixed"
	case DiscountTotalPercentage:
		return "total_percentage"
	case DiscountTotalFixed:
		return "total_fixed"
	default:
		return "unknown"
	}
}

// ParseDiscountType converts the wire representation into a DiscountType.
func ParseDiscountType(s string) (DiscountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subtotal_percentage":
		return DiscountSubtotalPercentage, nil
	case "subtotal_fixed":
		return DiscountSubtotalFixed, nil
	case "total_percentage":
		return DiscountTotalPercentage, nil
	case "total_fixed":
		return DiscountTotalFixed, nil
	default:
		return 0, fmt.Errorf("unknown discount type %q: %w", s, ErrInvalidInput)
	}
}

// PriceRule is a cart-level discount definition. The identity derives from
// (name, description, type, combinable), so registering the same semantic
// rule twice fails instead of duplicating. The Discount field is the
// read-only template cloned per line during application.
type PriceRule struct {
	ID           string
	Name         string
	Description  string
	DiscountType DiscountType
	Combinable   bool
	FreeShipping bool
	Discount     Discount

	// DiscountAmount is the cart-wide aggregate of this rule's per-line
	// effects, maintained by the cart on every re-aggregation.
	DiscountAmount decimal.Decimal
}

// NewPriceRule validates the definition and derives the rule identity.
func NewPriceRule(name, description string, discountType DiscountType, combinable, freeShipping bool, discount Discount) (*PriceRule, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("price rule name is required: %w", ErrInvalidInput)
	}
	if !discountType.Valid() {
		return nil, fmt.Errorf("unknown discount type: %w", ErrInvalidInput)
	}
	if discountType.percentage() {
		if discount.Percentage.Sign() <= 0 {
			return nil, fmt.Errorf("percentage rule requires a positive percentage: %w", ErrInvalidInput)
		}
		if discount.MaximumPercentageAmount.Valid && discount.MaximumPercentageAmount.Decimal.IsNegative() {
			return nil, fmt.Errorf("maximum percentage amount must not be negative: %w", ErrInvalidInput)
		}
	} else {
		if discount.Fixed.Sign() <= 0 {
			return nil, fmt.Errorf("fixed rule requires a positive amount: %w", ErrInvalidInput)
		}
	}

	rule := &PriceRule{
		Name:         name,
		Description:  description,
		DiscountType: discountType,
		Combinable:   combinable,
		FreeShipping: freeShipping,
		Discount:     discount,
	}
	rule.ID = priceRuleID(name, description, discountType, combinable)
	rule.Discount.RuleID = rule.ID
	rule.Discount.Amount = decimal.Zero
	return rule, nil
}

func priceRuleID(name, description string, discountType DiscountType, combinable bool) string {
	return common.Sha256Hex(name + description + strconv.Itoa(int(discountType)) + strconv.FormatBool(combinable))
}

func (r *PriceRule) clone() *PriceRule {
	cp := *r
	return &cp
}
