package pricing

import "github.com/shopspring/decimal"

// Discount is the computed effect of one price rule on one line. Each line
// owns its own value copy; the rule's template is never shared by reference,
// so adjusting Amount on one line cannot leak into another line or back into
// the template.
type Discount struct {
	RuleID                  string              `json:"ruleId"`
	Fixed                   decimal.Decimal     `json:"fixed"`
	Percentage              decimal.Decimal     `json:"percentage"`
	MaximumPercentageAmount decimal.NullDecimal `json:"maximumPercentageAmount"`
	AppliesToShipping       bool                `json:"appliesToShipping"`

	// Amount is the effect of this discount on the owning line for the
	// current state. Always recomputed, never incrementally updated.
	Amount decimal.Decimal `json:"amount"`
}

// discountSet is an ordered collection of per-line discounts keyed by the
// originating rule id.
type discountSet struct {
	order  []string
	byRule map[string]Discount
}

func newDiscountSet() *discountSet {
	return &discountSet{byRule: map[string]Discount{}}
}

func (s *discountSet) put(d Discount) {
	if _, ok := s.byRule[d.RuleID]; !ok {
		s.order = append(s.order, d.RuleID)
	}
	s.byRule[d.RuleID] = d
}

func (s *discountSet) get(ruleID string) (Discount, bool) {
	d, ok := s.byRule[ruleID]
	return d, ok
}

func (s *discountSet) len() int { return len(s.order) }

func (s *discountSet) values() []Discount {
	out := make([]Discount, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byRule[id])
	}
	return out
}

func (s *discountSet) sumAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range s.order {
		sum = sum.Add(s.byRule[id].Amount)
	}
	return sum
}

func (s *discountSet) sumPercentage() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range s.order {
		sum = sum.Add(s.byRule[id].Percentage)
	}
	return sum
}

// transform replaces every discount with the result of fn, in insertion order.
func (s *discountSet) transform(fn func(Discount) Discount) {
	for _, id := range s.order {
		s.byRule[id] = fn(s.byRule[id])
	}
}
