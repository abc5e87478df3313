package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Cart owns the line and price rule collections and distributes rule effects
// across lines. Cart totals are never stored: every read is a reduction over
// the current line set, which is the central design invariant.
type Cart struct {
	instanceID string
	mode       PriceMode

	lineOrder []string
	lines     map[string]*Line

	ruleOrder  []string
	priceRules map[string]*PriceRule

	shippingAmount decimal.Decimal
	shippingData   map[string]string
	invoice        map[string]string

	hasNotCombinableRule bool
	hasFreeShipping      bool
	hasTransportableLine bool
}

// NewCart creates an empty cart bound to an instance key and price mode.
func NewCart(instanceID string, mode PriceMode) (*Cart, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, fmt.Errorf("instance id is required: %w", ErrInvalidInput)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown price mode: %w", ErrInvalidInput)
	}
	return &Cart{
		instanceID: instanceID,
		mode:       mode,
		lines:      map[string]*Line{},
		priceRules: map[string]*PriceRule{},
	}, nil
}

// InstanceID returns the opaque instance key this cart is bound to.
func (c *Cart) InstanceID() string { return c.instanceID }

// Mode returns the price mode lines are computed under.
func (c *Cart) Mode() PriceMode { return c.mode }

// Empty reports whether the cart holds no lines.
func (c *Cart) Empty() bool { return len(c.lineOrder) == 0 }

// Len returns the number of distinct lines.
func (c *Cart) Len() int { return len(c.lineOrder) }

// Line returns the line with the given row id.
func (c *Cart) Line(rowID string) (*Line, error) {
	line, ok := c.lines[rowID]
	if !ok {
		return nil, fmt.Errorf("row %s: %w", rowID, ErrNotFound)
	}
	return line, nil
}

// Lines returns the lines in insertion order.
func (c *Cart) Lines() []*Line {
	out := make([]*Line, 0, len(c.lineOrder))
	for _, id := range c.lineOrder {
		out = append(out, c.lines[id])
	}
	return out
}

// Search returns the lines matching the predicate, in insertion order.
func (c *Cart) Search(match func(*Line) bool) []*Line {
	var out []*Line
	for _, id := range c.lineOrder {
		if match(c.lines[id]) {
			out = append(out, c.lines[id])
		}
	}
	return out
}

// Add inserts a line, merging by summed quantity when a line with the same
// row id already exists. A newly inserted line receives every active
// percentage rule so it reflects already-applied discounts. Returns the line
// stored in the cart.
func (c *Cart) Add(line *Line) (*Line, error) {
	if line == nil {
		return nil, fmt.Errorf("line is required: %w", ErrInvalidInput)
	}
	if line.mode != c.mode {
		return nil, fmt.Errorf("line price mode %s does not match cart mode %s: %w", line.mode, c.mode, ErrInvalidInput)
	}

	if existing, ok := c.lines[line.rowID]; ok {
		if err := existing.SetQuantity(existing.quantity.Add(line.quantity)); err != nil {
			return nil, err
		}
		c.updateCartDiscounts()
		c.refreshTransportable()
		return existing, nil
	}

	// Bring the line up to date before inserting it. If an active rule
	// conflicts with a discount already on the line, the cart stays as it
	// was and the rejected line never becomes part of it.
	if err := c.applyPercentageRulesToLine(line); err != nil {
		return nil, err
	}
	c.lines[line.rowID] = line
	c.lineOrder = append(c.lineOrder, line.rowID)

	c.updateCartDiscounts()
	c.refreshTransportable()
	return line, nil
}

// SetQuantity updates a line's quantity. A non-positive quantity removes the
// line; removed reports whether that happened.
func (c *Cart) SetQuantity(rowID string, quantity decimal.Decimal) (removed bool, err error) {
	line, ok := c.lines[rowID]
	if !ok {
		return false, fmt.Errorf("row %s: %w", rowID, ErrNotFound)
	}
	if quantity.Sign() <= 0 {
		if _, err := c.Remove(rowID); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := line.SetQuantity(quantity); err != nil {
		return false, err
	}
	c.updateCartDiscounts()
	return false, nil
}

// Remove deletes a line and returns it. The caller decides what an empty
// cart means (the service destroys it and clears persisted state).
func (c *Cart) Remove(rowID string) (*Line, error) {
	line, ok := c.lines[rowID]
	if !ok {
		return nil, fmt.Errorf("row %s: %w", rowID, ErrNotFound)
	}
	delete(c.lines, rowID)
	for i, id := range c.lineOrder {
		if id == rowID {
			c.lineOrder = append(c.lineOrder[:i], c.lineOrder[i+1:]...)
			break
		}
	}
	c.updateCartDiscounts()
	c.refreshTransportable()
	return line, nil
}

// AddPriceRule registers a rule and applies its effect to every line.
// Rejections (duplicate id, active non-combinable rule, conflicting
// percentage basis) leave the cart untouched.
func (c *Cart) AddPriceRule(rule *PriceRule) error {
	if rule == nil {
		return fmt.Errorf("price rule is required: %w", ErrInvalidInput)
	}
	if _, ok := c.priceRules[rule.ID]; ok {
		return fmt.Errorf("price rule %q already applied: %w", rule.Name, ErrRuleConflict)
	}
	if c.hasNotCombinableRule {
		return fmt.Errorf("a not combinable price rule is active: %w", ErrRuleConflict)
	}
	if rule.DiscountType == DiscountSubtotalPercentage && c.countRules(DiscountTotalPercentage) > 0 {
		return fmt.Errorf("subtotal discount excluded by an existing total discount: %w", ErrRuleConflict)
	}
	if rule.DiscountType == DiscountTotalPercentage && c.countRules(DiscountSubtotalPercentage) > 0 {
		return fmt.Errorf("total discount excluded by an existing subtotal discount: %w", ErrRuleConflict)
	}

	// Lines carry their own discount buckets, so a conflicting basis may
	// exist on a line without any cart rule backing it. Check every line
	// before registering; applying must never fail halfway through.
	switch rule.DiscountType {
	case DiscountSubtotalPercentage:
		for _, id := range c.lineOrder {
			if c.lines[id].discountsTotalPercentage.len() > 0 {
				return fmt.Errorf("row %s carries a total percentage discount: %w", id, ErrRuleConflict)
			}
		}
	case DiscountTotalPercentage:
		for _, id := range c.lineOrder {
			if c.lines[id].discountsSubtotalPercentage.len() > 0 {
				return fmt.Errorf("row %s carries a subtotal percentage discount: %w", id, ErrRuleConflict)
			}
		}
	}

	stored := rule.clone()
	c.priceRules[stored.ID] = stored
	c.ruleOrder = append(c.ruleOrder, stored.ID)

	switch stored.DiscountType {
	case DiscountSubtotalPercentage:
		for _, id := range c.lineOrder {
			if err := c.lines[id].SetDiscountSubtotalPercentage(stored.Discount); err != nil {
				return err
			}
		}
	case DiscountTotalPercentage:
		for _, id := range c.lineOrder {
			if err := c.lines[id].SetDiscountTotalPercentage(stored.Discount); err != nil {
				return err
			}
		}
	case DiscountSubtotalFixed, DiscountTotalFixed:
		if err := c.distributeFixed(stored); err != nil {
			return err
		}
	}

	c.updateCartDiscounts()
	return nil
}

// PriceRules returns the rules in application order.
func (c *Cart) PriceRules() []*PriceRule {
	out := make([]*PriceRule, 0, len(c.ruleOrder))
	for _, id := range c.ruleOrder {
		out = append(out, c.priceRules[id])
	}
	return out
}

func (c *Cart) countRules(discountType DiscountType) int {
	n := 0
	for _, id := range c.ruleOrder {
		if c.priceRules[id].DiscountType == discountType {
			n++
		}
	}
	return n
}

// applyPercentageRulesToLine brings a freshly inserted line up to date with
// the already active percentage rules. Fixed rules never apply retroactively.
func (c *Cart) applyPercentageRulesToLine(line *Line) error {
	for _, id := range c.ruleOrder {
		rule := c.priceRules[id]
		switch rule.DiscountType {
		case DiscountSubtotalPercentage:
			if err := line.SetDiscountSubtotalPercentage(rule.Discount); err != nil {
				return err
			}
		case DiscountTotalPercentage:
			if err := line.SetDiscountTotalPercentage(rule.Discount); err != nil {
				return err
			}
		}
	}
	return nil
}

// distributeFixed spends the rule's fixed pool across lines: highest combined
// tax rate first, and within equal rates the smallest basis amount first, so
// higher-taxed and smaller lines absorb discount before larger ones. The walk
// stops as soon as the pool is exhausted.
func (c *Cart) distributeFixed(rule *PriceRule) error {
	basis := func(l *Line) decimal.Decimal {
		if rule.DiscountType == DiscountSubtotalFixed {
			return l.SubtotalWithDiscounts()
		}
		return l.Total()
	}

	lines := c.Lines()
	sort.SliceStable(lines, func(i, j int) bool {
		ri, rj := lines[i].TaxRateSum(), lines[j].TaxRateSum()
		if !ri.Equal(rj) {
			return ri.GreaterThan(rj)
		}
		bi, bj := basis(lines[i]), basis(lines[j])
		if !bi.Equal(bj) {
			return bi.LessThan(bj)
		}
		return lines[i].rowID < lines[j].rowID
	})

	pool := rule.Discount.Fixed
	for _, line := range lines {
		if pool.IsZero() {
			break
		}
		d := rule.Discount
		b := basis(line)
		if b.GreaterThanOrEqual(pool) {
			d.Amount = pool
			pool = decimal.Zero
		} else {
			d.Amount = b
			pool = pool.Sub(b)
		}
		var err error
		if rule.DiscountType == DiscountSubtotalFixed {
			err = line.SetDiscountSubtotalFixed(d)
		} else {
			err = line.SetDiscountTotalFixed(d)
		}
		if err != nil {
			return err
		}
	}
	rule.DiscountAmount = rule.Discount.Fixed.Sub(pool)
	return nil
}

// updateCartDiscounts re-aggregates every rule's cart-wide discount amount
// and re-derives the combinability and free shipping flags. Runs after every
// mutation.
func (c *Cart) updateCartDiscounts() {
	c.hasNotCombinableRule = false
	c.hasFreeShipping = false

	for _, id := range c.ruleOrder {
		rule := c.priceRules[id]
		if rule.DiscountType.percentage() {
			sum := decimal.Zero
			for _, rowID := range c.lineOrder {
				if d, ok := c.lines[rowID].discountForRule(rule.DiscountType, rule.ID); ok {
					sum = sum.Add(d.Amount)
				}
			}
			rule.DiscountAmount = sum
		}
		if !rule.Combinable {
			c.hasNotCombinableRule = true
		}
		if rule.FreeShipping {
			c.hasFreeShipping = true
		}
	}
}

func (c *Cart) refreshTransportable() {
	for _, id := range c.lineOrder {
		if c.lines[id].transportable {
			c.hasTransportableLine = true
			return
		}
	}
	c.hasTransportableLine = false
}

// SetShippingAmount replaces the externally supplied shipping amount.
func (c *Cart) SetShippingAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("shipping amount must not be negative: %w", ErrInvalidInput)
	}
	c.shippingAmount = amount
	return nil
}

// SetShippingData stores opaque shipping details (address, courier, ...).
func (c *Cart) SetShippingData(data map[string]string) {
	c.shippingData = copyOptions(data)
}

// SetInvoice stores opaque invoice details.
func (c *Cart) SetInvoice(data map[string]string) {
	c.invoice = copyOptions(data)
}

// ShippingData returns a copy of the stored shipping details.
func (c *Cart) ShippingData() map[string]string { return copyOptions(c.shippingData) }

// Invoice returns a copy of the stored invoice details.
func (c *Cart) Invoice() map[string]string { return copyOptions(c.invoice) }

// HasShippingData reports whether shipping details were provided.
func (c *Cart) HasShippingData() bool { return len(c.shippingData) > 0 }

// HasInvoice reports whether invoice details were provided.
func (c *Cart) HasInvoice() bool { return len(c.invoice) > 0 }

// HasFreeShipping reports whether any active rule grants free shipping.
func (c *Cart) HasFreeShipping() bool { return c.hasFreeShipping }

// HasNotCombinableRule reports whether a non-combinable rule is active.
func (c *Cart) HasNotCombinableRule() bool { return c.hasNotCombinableRule }

// HasTransportableLine reports whether any line ships physically.
func (c *Cart) HasTransportableLine() bool { return c.hasTransportableLine }

// ShippingAmount returns the externally supplied shipping amount.
func (c *Cart) ShippingAmount() decimal.Decimal { return c.shippingAmount }

func (c *Cart) reduce(fn func(*Line) decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, id := range c.lineOrder {
		sum = sum.Add(fn(c.lines[id]))
	}
	return sum
}

// Subtotal sums the line subtotals before tax and discounts.
func (c *Cart) Subtotal() decimal.Decimal {
	return c.reduce((*Line).Subtotal)
}

// SubtotalWithDiscounts sums the line subtotals after discounts.
func (c *Cart) SubtotalWithDiscounts() decimal.Decimal {
	return c.reduce((*Line).SubtotalWithDiscounts)
}

// TaxAmount sums the line tax amounts.
func (c *Cart) TaxAmount() decimal.Decimal {
	return c.reduce((*Line).TaxAmount)
}

// CartItemsTotal sums the line totals without shipping.
func (c *Cart) CartItemsTotal() decimal.Decimal {
	return c.reduce((*Line).Total)
}

// CartItemsTotalWithoutDiscounts sums the line totals before discounts.
func (c *Cart) CartItemsTotalWithoutDiscounts() decimal.Decimal {
	return c.reduce((*Line).TotalWithoutDiscounts)
}

// Total is the line totals plus shipping, unless a rule grants free shipping.
func (c *Cart) Total() decimal.Decimal {
	total := c.CartItemsTotal()
	if c.hasFreeShipping {
		return total
	}
	return total.Add(c.shippingAmount)
}

// DiscountAmount sums every discount effect across all lines.
func (c *Cart) DiscountAmount() decimal.Decimal {
	return c.reduce((*Line).DiscountAmount)
}

// DiscountSubtotalAmount sums the subtotal-basis discounts across lines.
func (c *Cart) DiscountSubtotalAmount() decimal.Decimal {
	return c.reduce(func(l *Line) decimal.Decimal {
		return l.DiscountSubtotalPercentageAmount().Add(l.DiscountSubtotalFixedAmount())
	})
}

// DiscountTotalAmount sums the total-basis discounts across lines.
func (c *Cart) DiscountTotalAmount() decimal.Decimal {
	return c.reduce(func(l *Line) decimal.Decimal {
		return l.DiscountTotalPercentageAmount().Add(l.DiscountTotalFixedAmount())
	})
}

// Quantity is the total number of units across all lines.
func (c *Cart) Quantity() decimal.Decimal {
	return c.reduce((*Line).Quantity)
}

// Weight is the summed weight of all lines (per-unit weight times quantity).
func (c *Cart) Weight() decimal.Decimal {
	return c.reduce(func(l *Line) decimal.Decimal {
		return l.weight.Mul(l.quantity)
	})
}

// TransportableWeight is the summed weight of transportable lines only.
func (c *Cart) TransportableWeight() decimal.Decimal {
	return c.reduce(func(l *Line) decimal.Decimal {
		if !l.transportable {
			return decimal.Zero
		}
		return l.weight.Mul(l.quantity)
	})
}

// TaxRules returns a merged view of all tax rules across lines: rules with
// the same id are collapsed with their amounts summed. The returned rules are
// clones, so mutating them cannot reach back into any line.
func (c *Cart) TaxRules() []*TaxRule {
	merged := newTaxRuleSet()
	for _, rowID := range c.lineOrder {
		for _, rule := range c.lines[rowID].taxRules.rules() {
			if existing, ok := merged.byID[rule.ID]; ok {
				existing.taxAmount = existing.taxAmount.Add(rule.taxAmount)
				continue
			}
			merged.byID[rule.ID] = rule.clone()
			merged.order = append(merged.order, rule.ID)
		}
	}
	return merged.rules()
}
