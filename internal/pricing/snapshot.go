package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Snapshot is the persisted form of a cart. It records inputs only (line
// definitions, rule definitions, the fixed discounts already assigned to
// lines), never derived totals: restoring replays the computation, so
// persisted state can never go stale against the engine.
type Snapshot struct {
	InstanceID     string              `json:"instanceId"`
	Mode           PriceMode           `json:"mode"`
	ShippingAmount decimal.Decimal     `json:"shippingAmount"`
	ShippingData   map[string]string   `json:"shippingData,omitempty"`
	Invoice        map[string]string   `json:"invoice,omitempty"`
	Lines          []LineSnapshot      `json:"lines"`
	PriceRules     []PriceRuleSnapshot `json:"priceRules,omitempty"`
}

// LineSnapshot carries one line's inputs. Fixed discounts are part of the
// inputs: they were assigned by a distribution walk over a line set that may
// no longer exist, so they cannot be re-derived.
type LineSnapshot struct {
	ProductID      string            `json:"productId"`
	Name           string            `json:"name"`
	Quantity       decimal.Decimal   `json:"quantity"`
	UnitPrice      decimal.Decimal   `json:"unitPrice"`
	Weight         decimal.Decimal   `json:"weight"`
	Transportable  bool              `json:"transportable"`
	Options        map[string]string `json:"options,omitempty"`
	TaxRules       []TaxRuleSnapshot `json:"taxRules,omitempty"`
	SubtotalFixed  []Discount        `json:"subtotalFixedDiscounts,omitempty"`
	TotalFixed     []Discount        `json:"totalFixedDiscounts,omitempty"`
}

// TaxRuleSnapshot carries one tax rule's inputs.
type TaxRuleSnapshot struct {
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	Priority  int             `json:"priority"`
	SortOrder int             `json:"sortOrder"`
}

// PriceRuleSnapshot carries one price rule's definition plus the aggregate a
// fixed rule computed at distribution time.
type PriceRuleSnapshot struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	DiscountType   DiscountType    `json:"discountType"`
	Combinable     bool            `json:"combinable"`
	FreeShipping   bool            `json:"freeShipping"`
	Discount       Discount        `json:"discount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

// Snapshot captures the cart's inputs for persistence.
func (c *Cart) Snapshot() Snapshot {
	snap := Snapshot{
		InstanceID:     c.instanceID,
		Mode:           c.mode,
		ShippingAmount: c.shippingAmount,
		ShippingData:   copyOptions(c.shippingData),
		Invoice:        copyOptions(c.invoice),
		Lines:          make([]LineSnapshot, 0, len(c.lineOrder)),
	}
	for _, rowID := range c.lineOrder {
		line := c.lines[rowID]
		ls := LineSnapshot{
			ProductID:     line.productID,
			Name:          line.name,
			Quantity:      line.quantity,
			UnitPrice:     line.inputPrice,
			Weight:        line.weight,
			Transportable: line.transportable,
			Options:       copyOptions(line.options),
			SubtotalFixed: line.discountsSubtotalFixed.values(),
			TotalFixed:    line.discountsTotalFixed.values(),
		}
		for _, rule := range line.taxRules.rules() {
			ls.TaxRules = append(ls.TaxRules, TaxRuleSnapshot{
				Name:      rule.Name,
				Rate:      rule.Rate,
				Priority:  rule.Priority,
				SortOrder: rule.SortOrder,
			})
		}
		snap.Lines = append(snap.Lines, ls)
	}
	for _, id := range c.ruleOrder {
		rule := c.priceRules[id]
		snap.PriceRules = append(snap.PriceRules, PriceRuleSnapshot{
			Name:           rule.Name,
			Description:    rule.Description,
			DiscountType:   rule.DiscountType,
			Combinable:     rule.Combinable,
			FreeShipping:   rule.FreeShipping,
			Discount:       rule.Discount,
			DiscountAmount: rule.DiscountAmount,
		})
	}
	return snap
}

// RestoreCart rebuilds a cart from a snapshot. Lines and fixed discounts are
// reinstated as recorded; percentage rules are re-applied to every line, and
// all derived values come out of a fresh computation pass.
func RestoreCart(snap Snapshot) (*Cart, error) {
	cart, err := NewCart(snap.InstanceID, snap.Mode)
	if err != nil {
		return nil, fmt.Errorf("restore cart: %w", err)
	}
	if err := cart.SetShippingAmount(snap.ShippingAmount); err != nil {
		return nil, fmt.Errorf("restore cart: %w", err)
	}
	cart.SetShippingData(snap.ShippingData)
	cart.SetInvoice(snap.Invoice)

	for _, ls := range snap.Lines {
		rules := make([]*TaxRule, 0, len(ls.TaxRules))
		for _, ts := range ls.TaxRules {
			rule, err := NewTaxRule(ts.Name, ts.Rate, ts.Priority, ts.SortOrder)
			if err != nil {
				return nil, fmt.Errorf("restore cart: %w", err)
			}
			rules = append(rules, rule)
		}
		line, err := NewLine(ls.ProductID, ls.Name, ls.Quantity, ls.UnitPrice, ls.Weight, ls.Transportable, snap.Mode, rules, ls.Options)
		if err != nil {
			return nil, fmt.Errorf("restore cart: %w", err)
		}
		for _, d := range ls.SubtotalFixed {
			if err := line.SetDiscountSubtotalFixed(d); err != nil {
				return nil, fmt.Errorf("restore cart: %w", err)
			}
		}
		for _, d := range ls.TotalFixed {
			if err := line.SetDiscountTotalFixed(d); err != nil {
				return nil, fmt.Errorf("restore cart: %w", err)
			}
		}
		cart.lines[line.rowID] = line
		cart.lineOrder = append(cart.lineOrder, line.rowID)
	}

	for _, rs := range snap.PriceRules {
		rule, err := NewPriceRule(rs.Name, rs.Description, rs.DiscountType, rs.Combinable, rs.FreeShipping, rs.Discount)
		if err != nil {
			return nil, fmt.Errorf("restore cart: %w", err)
		}
		rule.DiscountAmount = rs.DiscountAmount
		cart.priceRules[rule.ID] = rule
		cart.ruleOrder = append(cart.ruleOrder, rule.ID)

		switch rule.DiscountType {
		case DiscountSubtotalPercentage:
			for _, rowID := range cart.lineOrder {
				if err := cart.lines[rowID].SetDiscountSubtotalPercentage(rule.Discount); err != nil {
					return nil, fmt.Errorf("restore cart: %w", err)
				}
			}
		case DiscountTotalPercentage:
			for _, rowID := range cart.lineOrder {
				if err := cart.lines[rowID].SetDiscountTotalPercentage(rule.Discount); err != nil {
					return nil, fmt.Errorf("restore cart: %w", err)
				}
			}
		}
	}

	cart.updateCartDiscounts()
	cart.refreshTransportable()
	return cart, nil
}
