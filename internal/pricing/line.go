package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/keranjang-dev/keranjang/internal/common"
)

// Line is one product entry in the cart. It owns its quantity, tax rules and
// per-rule discount buckets, and derives subtotal, tax and total from them on
// every mutation. The row id is a content hash of the product id and its
// normalized options, so two adds of the same product merge into one line.
type Line struct {
	rowID         string
	productID     string
	name          string
	quantity      decimal.Decimal
	inputPrice    decimal.Decimal
	unitPrice     decimal.Decimal
	transportable bool
	weight        decimal.Decimal
	options       map[string]string
	mode          PriceMode

	taxRules *taxRuleSet

	discountsSubtotalPercentage *discountSet
	discountsTotalPercentage    *discountSet
	discountsSubtotalFixed      *discountSet
	discountsTotalFixed         *discountSet

	subtotal              decimal.Decimal
	subtotalWithDiscounts decimal.Decimal
	total                 decimal.Decimal
}

// NewLine builds a line and runs the first computation pass. The price mode
// is passed explicitly: it decides whether unitPrice is read tax-exclusive or
// tax-inclusive.
func NewLine(productID, name string, quantity, unitPrice, weight decimal.Decimal, transportable bool, mode PriceMode, taxRules []*TaxRule, options map[string]string) (*Line, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("line name is required: %w", ErrInvalidInput)
	}
	if quantity.Sign() <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if unitPrice.IsNegative() {
		return nil, fmt.Errorf("unit price must not be negative: %w", ErrInvalidInput)
	}
	if weight.IsNegative() {
		return nil, fmt.Errorf("weight must not be negative: %w", ErrInvalidInput)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown price mode: %w", ErrInvalidInput)
	}

	line := &Line{
		rowID:                       rowID(productID, options),
		productID:                   productID,
		name:                        name,
		quantity:                    quantity,
		inputPrice:                  unitPrice,
		transportable:               transportable,
		weight:                      weight,
		options:                     copyOptions(options),
		mode:                        mode,
		taxRules:                    newTaxRuleSet(),
		discountsSubtotalPercentage: newDiscountSet(),
		discountsTotalPercentage:    newDiscountSet(),
		discountsSubtotalFixed:      newDiscountSet(),
		discountsTotalFixed:         newDiscountSet(),
	}
	for _, rule := range taxRules {
		if rule == nil {
			return nil, fmt.Errorf("tax rule must not be nil: %w", ErrInvalidInput)
		}
		line.taxRules.add(rule)
	}
	line.recompute()
	return line, nil
}

// rowID hashes the product id together with its options sorted by key, so
// option order never produces distinct rows.
func rowID(productID string, options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(productID)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(options[k])
	}
	return common.Sha256Hex(b.String())
}

func copyOptions(options map[string]string) map[string]string {
	if len(options) == 0 {
		return nil
	}
	cp := make(map[string]string, len(options))
	for k, v := range options {
		cp[k] = v
	}
	return cp
}

// RowID returns the content-derived row identity.
func (l *Line) RowID() string { return l.rowID }

// ProductID returns the product identifier.
func (l *Line) ProductID() string { return l.productID }

// Name returns the display name.
func (l *Line) Name() string { return l.name }

// Quantity returns the current quantity.
func (l *Line) Quantity() decimal.Decimal { return l.quantity }

// UnitPrice returns the tax-exclusive unit price.
func (l *Line) UnitPrice() decimal.Decimal { return l.unitPrice }

// InputPrice returns the unit price as supplied, before mode interpretation.
func (l *Line) InputPrice() decimal.Decimal { return l.inputPrice }

// Transportable reports whether the product ships physically.
func (l *Line) Transportable() bool { return l.transportable }

// Weight returns the per-unit weight.
func (l *Line) Weight() decimal.Decimal { return l.weight }

// Options returns a copy of the line options.
func (l *Line) Options() map[string]string { return copyOptions(l.options) }

// Subtotal is quantity times unit price, before tax and discounts.
func (l *Line) Subtotal() decimal.Decimal { return l.subtotal }

// SubtotalWithDiscounts is the subtotal after all discounts.
func (l *Line) SubtotalWithDiscounts() decimal.Decimal { return l.subtotalWithDiscounts }

// Total is the tax-inclusive line amount after all discounts.
func (l *Line) Total() decimal.Decimal { return l.total }

// TotalWithoutDiscounts is the tax-inclusive line amount before discounts.
func (l *Line) TotalWithoutDiscounts() decimal.Decimal {
	return l.total.Add(l.DiscountAmount())
}

// TaxAmount is the sum of all tax rule amounts from the last pass.
func (l *Line) TaxAmount() decimal.Decimal { return l.taxRules.sumAmount() }

// TaxRateSum is the combined rate of all tax rules on the line.
func (l *Line) TaxRateSum() decimal.Decimal { return l.taxRules.sumRate() }

// TaxRules returns clones of the line's tax rules in insertion order.
func (l *Line) TaxRules() []*TaxRule {
	rules := l.taxRules.rules()
	out := make([]*TaxRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.clone())
	}
	return out
}

// DiscountAmount is the summed effect of every discount bucket.
func (l *Line) DiscountAmount() decimal.Decimal {
	return l.discountsSubtotalPercentage.sumAmount().
		Add(l.discountsTotalPercentage.sumAmount()).
		Add(l.discountsSubtotalFixed.sumAmount()).
		Add(l.discountsTotalFixed.sumAmount())
}

// DiscountSubtotalPercentageAmount sums the subtotal-percentage bucket.
func (l *Line) DiscountSubtotalPercentageAmount() decimal.Decimal {
	return l.discountsSubtotalPercentage.sumAmount()
}

// DiscountTotalPercentageAmount sums the total-percentage bucket.
func (l *Line) DiscountTotalPercentageAmount() decimal.Decimal {
	return l.discountsTotalPercentage.sumAmount()
}

// DiscountSubtotalFixedAmount sums the subtotal-fixed bucket.
func (l *Line) DiscountSubtotalFixedAmount() decimal.Decimal {
	return l.discountsSubtotalFixed.sumAmount()
}

// DiscountTotalFixedAmount sums the total-fixed bucket.
func (l *Line) DiscountTotalFixedAmount() decimal.Decimal {
	return l.discountsTotalFixed.sumAmount()
}

// DiscountSubtotalPercentage is the combined subtotal percentage applied.
func (l *Line) DiscountSubtotalPercentage() decimal.Decimal {
	return l.discountsSubtotalPercentage.sumPercentage()
}

// DiscountTotalPercentage is the combined total percentage applied.
func (l *Line) DiscountTotalPercentage() decimal.Decimal {
	return l.discountsTotalPercentage.sumPercentage()
}

// Discounts returns every discount applied to the line, all buckets merged.
func (l *Line) Discounts() []Discount {
	out := l.discountsSubtotalPercentage.values()
	out = append(out, l.discountsTotalPercentage.values()...)
	out = append(out, l.discountsSubtotalFixed.values()...)
	out = append(out, l.discountsTotalFixed.values()...)
	return out
}

// UnitPriceDisplayed renders the unit price under the given display mode.
// Display formatting only; the internal computation always works from the
// tax-exclusive unit price.
func (l *Line) UnitPriceDisplayed(display PriceMode) decimal.Decimal {
	if display == PriceWithTax {
		return l.taxRules.grossPrice(l.unitPrice)
	}
	return l.unitPrice
}

// SetQuantity replaces the quantity and recomputes. A non-positive quantity
// is accepted here; the cart removes such lines.
func (l *Line) SetQuantity(quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return fmt.Errorf("quantity must not be negative: %w", ErrInvalidInput)
	}
	l.quantity = quantity
	l.recompute()
	return nil
}

// AddTaxRule merges rules into the line's tax rule set and recomputes. A rule
// whose id already exists has its rate summed onto the existing rule.
func (l *Line) AddTaxRule(rules ...*TaxRule) error {
	for _, rule := range rules {
		if rule == nil {
			return fmt.Errorf("tax rule must not be nil: %w", ErrInvalidInput)
		}
	}
	for _, rule := range rules {
		l.taxRules.add(rule)
	}
	l.recompute()
	return nil
}

// SetDiscountSubtotalPercentage applies a percentage discount over the
// subtotal. Rejected while any total-percentage discount is present: the two
// bases are mutually exclusive per line.
func (l *Line) SetDiscountSubtotalPercentage(d Discount) error {
	if d.Percentage.Sign() <= 0 {
		return fmt.Errorf("discount percentage must be positive: %w", ErrInvalidInput)
	}
	if l.discountsTotalPercentage.len() > 0 {
		return fmt.Errorf("subtotal discount excluded by an existing total discount: %w", ErrRuleConflict)
	}
	l.discountsSubtotalPercentage.put(d)
	l.recompute()
	return nil
}

// SetDiscountTotalPercentage applies a percentage discount over the total.
// Rejected while any subtotal-percentage discount is present.
func (l *Line) SetDiscountTotalPercentage(d Discount) error {
	if d.Percentage.Sign() <= 0 {
		return fmt.Errorf("discount percentage must be positive: %w", ErrInvalidInput)
	}
	if l.discountsSubtotalPercentage.len() > 0 {
		return fmt.Errorf("total discount excluded by an existing subtotal discount: %w", ErrRuleConflict)
	}
	l.discountsTotalPercentage.put(d)
	l.recompute()
	return nil
}

// SetDiscountSubtotalFixed applies a fixed amount against the subtotal.
func (l *Line) SetDiscountSubtotalFixed(d Discount) error {
	if d.Amount.IsNegative() {
		return fmt.Errorf("discount amount must not be negative: %w", ErrInvalidInput)
	}
	l.discountsSubtotalFixed.put(d)
	l.recompute()
	return nil
}

// SetDiscountTotalFixed applies a fixed amount against the total.
func (l *Line) SetDiscountTotalFixed(d Discount) error {
	if d.Amount.IsNegative() {
		return fmt.Errorf("discount amount must not be negative: %w", ErrInvalidInput)
	}
	l.discountsTotalFixed.put(d)
	l.recompute()
	return nil
}

func (l *Line) discountForRule(discountType DiscountType, ruleID string) (Discount, bool) {
	switch discountType {
	case DiscountSubtotalPercentage:
		return l.discountsSubtotalPercentage.get(ruleID)
	case DiscountTotalPercentage:
		return l.discountsTotalPercentage.get(ruleID)
	case DiscountSubtotalFixed:
		return l.discountsSubtotalFixed.get(ruleID)
	case DiscountTotalFixed:
		return l.discountsTotalFixed.get(ruleID)
	default:
		return Discount{}, false
	}
}

// recompute derives subtotal, subtotalWithDiscounts, tax and total from the
// current state. Pure recomputation: calling it twice without an intervening
// mutation yields identical values.
func (l *Line) recompute() {
	if l.mode == PriceWithTax && l.taxRules.len() > 0 {
		l.recomputeFromTotal()
		return
	}
	l.recomputeFromSubtotal()
}

// recomputeFromSubtotal handles tax-exclusive input prices (and the trivial
// no-tax-rules case in either mode).
func (l *Line) recomputeFromSubtotal() {
	l.unitPrice = l.inputPrice
	l.subtotal = l.quantity.Mul(l.unitPrice)
	l.subtotalWithDiscounts = l.subtotal

	if l.discountsSubtotalFixed.len() > 0 {
		l.subtotalWithDiscounts = l.subtotal.Sub(l.discountsSubtotalFixed.sumAmount())
	}

	tax := l.taxRules.applyForward(l.subtotalWithDiscounts)
	l.total = l.subtotalWithDiscounts.Add(tax)

	if l.discountsTotalFixed.len() > 0 {
		l.total = l.total.Sub(l.discountsTotalFixed.sumAmount())
		tax = l.taxRules.applyInverse(l.total)
		l.subtotalWithDiscounts = l.total.Sub(tax)
	}

	l.applyPercentageDiscounts()
}

// recomputeFromTotal handles tax-inclusive input prices: total comes first
// and the subtotal is derived through the inverse cascade.
func (l *Line) recomputeFromTotal() {
	l.unitPrice = l.taxRules.netPrice(l.inputPrice)
	l.total = l.quantity.Mul(l.inputPrice)
	l.subtotal = l.quantity.Mul(l.unitPrice)
	l.subtotalWithDiscounts = l.subtotal

	taxed := false
	if l.discountsTotalFixed.len() > 0 {
		l.total = l.total.Sub(l.discountsTotalFixed.sumAmount())
		tax := l.taxRules.applyInverse(l.total)
		l.subtotalWithDiscounts = l.total.Sub(tax)
		taxed = true
	}
	if l.discountsSubtotalFixed.len() > 0 {
		l.subtotalWithDiscounts = l.subtotalWithDiscounts.Sub(l.discountsSubtotalFixed.sumAmount())
		tax := l.taxRules.applyForward(l.subtotalWithDiscounts)
		l.total = l.subtotalWithDiscounts.Add(tax)
		taxed = true
	}
	if !taxed {
		l.taxRules.applyForward(l.subtotalWithDiscounts)
	}

	l.applyPercentageDiscounts()
}

// applyPercentageDiscounts recomputes every percentage discount's amount and
// re-derives the counterpart value through the matching cascade. Total-basis
// discounts run first, subtotal-basis second; only one of the two buckets can
// be populated at a time.
func (l *Line) applyPercentageDiscounts() {
	if l.discountsTotalPercentage.len() > 0 {
		l.discountsTotalPercentage.transform(func(d Discount) Discount {
			d.Amount = l.total.Mul(d.Percentage).Div(hundred)
			if d.MaximumPercentageAmount.Valid && d.Amount.GreaterThan(d.MaximumPercentageAmount.Decimal) {
				d.Amount = d.MaximumPercentageAmount.Decimal
			}
			return d
		})
		l.total = l.total.Sub(l.discountsTotalPercentage.sumAmount())
		tax := l.taxRules.applyInverse(l.total)
		l.subtotalWithDiscounts = l.total.Sub(tax)
	}

	if l.discountsSubtotalPercentage.len() > 0 {
		l.discountsSubtotalPercentage.transform(func(d Discount) Discount {
			d.Amount = l.subtotalWithDiscounts.Mul(d.Percentage).Div(hundred)
			if d.MaximumPercentageAmount.Valid && d.Amount.GreaterThan(d.MaximumPercentageAmount.Decimal) {
				d.Amount = d.MaximumPercentageAmount.Decimal
			}
			return d
		})
		l.subtotalWithDiscounts = l.subtotalWithDiscounts.Sub(l.discountsSubtotalPercentage.sumAmount())
		tax := l.taxRules.applyForward(l.subtotalWithDiscounts)
		l.total = l.subtotalWithDiscounts.Add(tax)
	}
}
