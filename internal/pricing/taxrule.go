package pricing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/keranjang-dev/keranjang/internal/common"
)

// TaxRule is one tax component applied to a line. Rules sharing a priority
// form a tier computed on the same base; higher priorities are levied on top
// of the tax computed by lower ones. The identity is derived from name and
// priority, so adding the "same" rule twice sums rates instead of duplicating.
type TaxRule struct {
	ID        string
	Name      string
	Priority  int
	SortOrder int
	Rate      decimal.Decimal

	// taxAmount is transient per-computation state, reset at the start of
	// every cascade pass.
	taxAmount decimal.Decimal
}

// NewTaxRule validates the fields and derives the rule identity.
func NewTaxRule(name string, rate decimal.Decimal, priority, sortOrder int) (*TaxRule, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tax rule name is required: %w", ErrInvalidInput)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative: %w", ErrInvalidInput)
	}
	if priority < 0 {
		return nil, fmt.Errorf("tax rule priority must not be negative: %w", ErrInvalidInput)
	}
	if sortOrder < 0 {
		return nil, fmt.Errorf("tax rule sort order must not be negative: %w", ErrInvalidInput)
	}
	return &TaxRule{
		ID:        taxRuleID(name, priority),
		Name:      name,
		Priority:  priority,
		SortOrder: sortOrder,
		Rate:      rate,
	}, nil
}

func taxRuleID(name string, priority int) string {
	return common.Sha256Hex(name + strconv.Itoa(priority))
}

// TaxAmount returns the tax computed for this rule during the last pass.
func (t *TaxRule) TaxAmount() decimal.Decimal {
	return t.taxAmount
}

func (t *TaxRule) clone() *TaxRule {
	cp := *t
	return &cp
}

// taxRuleSet is an ordered set of tax rules keyed by rule id. Insertion order
// is kept so that reductions over the set stay deterministic.
type taxRuleSet struct {
	order []string
	byID  map[string]*TaxRule
}

func newTaxRuleSet() *taxRuleSet {
	return &taxRuleSet{byID: map[string]*TaxRule{}}
}

// add merges the rule into the set. A rule with an id already present has its
// rate summed onto the existing rule. The set stores its own copy.
func (s *taxRuleSet) add(rule *TaxRule) {
	if existing, ok := s.byID[rule.ID]; ok {
		existing.Rate = existing.Rate.Add(rule.Rate)
		return
	}
	cp := rule.clone()
	cp.taxAmount = decimal.Zero
	s.byID[cp.ID] = cp
	s.order = append(s.order, cp.ID)
}

func (s *taxRuleSet) len() int { return len(s.order) }

func (s *taxRuleSet) rules() []*TaxRule {
	out := make([]*TaxRule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *taxRuleSet) sumRate() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range s.order {
		sum = sum.Add(s.byID[id].Rate)
	}
	return sum
}

func (s *taxRuleSet) sumAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range s.order {
		sum = sum.Add(s.byID[id].taxAmount)
	}
	return sum
}

func (s *taxRuleSet) resetAmounts() {
	for _, id := range s.order {
		s.byID[id].taxAmount = decimal.Zero
	}
}

func (s *taxRuleSet) sorted(desc bool) []*TaxRule {
	rules := s.rules()
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			if desc {
				return a.Priority > b.Priority
			}
			return a.Priority < b.Priority
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
	return rules
}

// applyForward runs the forward cascade over a tax-exclusive base: rules in a
// priority tier share the same running base, and each tier's base is the
// original base plus the tax computed by all prior tiers. Returns total tax.
func (s *taxRuleSet) applyForward(base decimal.Decimal) decimal.Decimal {
	s.resetAmounts()
	rules := s.sorted(false)
	taxTotal := decimal.Zero
	for i := 0; i < len(rules); {
		j := i
		for j < len(rules) && rules[j].Priority == rules[i].Priority {
			j++
		}
		tierBase := base.Add(taxTotal)
		tierTax := decimal.Zero
		for _, r := range rules[i:j] {
			r.taxAmount = tierBase.Mul(r.Rate).Div(hundred)
			tierTax = tierTax.Add(r.taxAmount)
		}
		taxTotal = taxTotal.Add(tierTax)
		i = j
	}
	return taxTotal
}

// applyInverse peels tax out of a tax-inclusive total, visiting priority
// tiers in descending order. Within a tier the tax is distributed pro-rata by
// each rule's own rate. Returns total tax. Exact algebraic inverse of
// applyForward for any rule set.
func (s *taxRuleSet) applyInverse(total decimal.Decimal) decimal.Decimal {
	s.resetAmounts()
	rules := s.sorted(true)
	running := total
	taxTotal := decimal.Zero
	for i := 0; i < len(rules); {
		j := i
		for j < len(rules) && rules[j].Priority == rules[i].Priority {
			j++
		}
		tierRate := decimal.Zero
		for _, r := range rules[i:j] {
			tierRate = tierRate.Add(r.Rate)
		}
		divisor := tierRate.Add(hundred)
		tierTax := decimal.Zero
		for _, r := range rules[i:j] {
			r.taxAmount = running.Mul(r.Rate).Div(divisor)
			tierTax = tierTax.Add(r.taxAmount)
		}
		running = running.Sub(tierTax)
		taxTotal = taxTotal.Add(tierTax)
		i = j
	}
	return taxTotal
}

// grossPrice converts a tax-exclusive amount to tax-inclusive without
// touching the stored per-rule amounts.
func (s *taxRuleSet) grossPrice(net decimal.Decimal) decimal.Decimal {
	rules := s.sorted(false)
	taxTotal := decimal.Zero
	for i := 0; i < len(rules); {
		j := i
		for j < len(rules) && rules[j].Priority == rules[i].Priority {
			j++
		}
		tierBase := net.Add(taxTotal)
		for _, r := range rules[i:j] {
			taxTotal = taxTotal.Add(tierBase.Mul(r.Rate).Div(hundred))
		}
		i = j
	}
	return net.Add(taxTotal)
}

// netPrice converts a tax-inclusive amount to tax-exclusive without touching
// the stored per-rule amounts.
func (s *taxRuleSet) netPrice(gross decimal.Decimal) decimal.Decimal {
	rules := s.sorted(true)
	running := gross
	taxTotal := decimal.Zero
	for i := 0; i < len(rules); {
		j := i
		for j < len(rules) && rules[j].Priority == rules[i].Priority {
			j++
		}
		tierRate := decimal.Zero
		for _, r := range rules[i:j] {
			tierRate = tierRate.Add(r.Rate)
		}
		tierTax := running.Mul(tierRate).Div(tierRate.Add(hundred))
		running = running.Sub(tierTax)
		taxTotal = taxTotal.Add(tierTax)
		i = j
	}
	return gross.Sub(taxTotal)
}
