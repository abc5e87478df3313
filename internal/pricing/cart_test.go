package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustCart(t *testing.T, mode PriceMode) *Cart {
	t.Helper()
	cart, err := NewCart("session-1", mode)
	require.NoError(t, err)
	return cart
}

func addLine(t *testing.T, cart *Cart, productID, price string, rules ...*TaxRule) *Line {
	t.Helper()
	line, err := NewLine(productID, "Product "+productID, decimal.NewFromInt(1), dec(t, price), decimal.Zero, false, cart.Mode(), rules, nil)
	require.NoError(t, err)
	stored, err := cart.Add(line)
	require.NoError(t, err)
	return stored
}

func mustRule(t *testing.T, name string, discountType DiscountType, d Discount) *PriceRule {
	t.Helper()
	rule, err := NewPriceRule(name, "", discountType, true, false, d)
	require.NoError(t, err)
	return rule
}

func TestNewCartValidation(t *testing.T) {
	_, err := NewCart("", PriceWithoutTax)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewCart("session-1", PriceMode(0))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddMergesByRowID(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	first := addLine(t, cart, "sku-1", "100")
	second := addLine(t, cart, "sku-1", "100")

	require.Equal(t, 1, cart.Len())
	require.Same(t, first, second)
	requireDecimalEqual(t, dec(t, "2"), cart.Quantity())
	requireDecimalEqual(t, dec(t, "200"), cart.Subtotal())
}

func TestAddRejectsModeMismatch(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	line, err := NewLine("sku-1", "Product", decimal.NewFromInt(1), dec(t, "100"), decimal.Zero, false, PriceWithTax, nil, nil)
	require.NoError(t, err)

	_, err = cart.Add(line)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.True(t, cart.Empty())
}

func TestSetQuantityRemovesAtZero(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	line := addLine(t, cart, "sku-1", "100")

	removed, err := cart.SetQuantity(line.RowID(), decimal.Zero)
	require.NoError(t, err)
	require.True(t, removed)
	require.True(t, cart.Empty())
}

func TestRemoveUnknownRow(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	_, err := cart.Remove("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchMatchesPredicate(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")
	addLine(t, cart, "sku-2", "50")

	found := cart.Search(func(l *Line) bool { return l.ProductID() == "sku-2" })
	require.Len(t, found, 1)
	require.Equal(t, "sku-2", found[0].ProductID())
}

func TestSubtotalPercentageRuleAppliesToAllLines(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "40")
	addLine(t, cart, "sku-2", "60")

	rule := mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")})
	require.NoError(t, cart.AddPriceRule(rule))

	requireDecimalEqual(t, dec(t, "10"), cart.DiscountAmount())
	requireDecimalEqual(t, dec(t, "90"), cart.SubtotalWithDiscounts())
	requireDecimalEqual(t, dec(t, "10"), cart.PriceRules()[0].DiscountAmount)
}

func TestLineAddedAfterPercentageRuleGetsDiscount(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")

	rule := mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")})
	require.NoError(t, cart.AddPriceRule(rule))

	late := addLine(t, cart, "sku-2", "50")
	requireDecimalEqual(t, dec(t, "5"), late.DiscountAmount())
	requireDecimalEqual(t, dec(t, "15"), cart.PriceRules()[0].DiscountAmount)
}

func TestDistributeFixedPool(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	small := addLine(t, cart, "sku-1", "40")
	large := addLine(t, cart, "sku-2", "60")

	rule := mustRule(t, "bulk", DiscountSubtotalFixed, Discount{Fixed: dec(t, "70")})
	require.NoError(t, cart.AddPriceRule(rule))

	// the smaller basis is consumed first, the rest spills over
	requireDecimalEqual(t, dec(t, "40"), small.DiscountAmount())
	requireDecimalEqual(t, dec(t, "30"), large.DiscountAmount())
	requireDecimalEqual(t, dec(t, "70"), cart.PriceRules()[0].DiscountAmount)
	requireDecimalEqual(t, dec(t, "30"), cart.SubtotalWithDiscounts())
}

func TestDistributeFixedPoolLargerThanCart(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "40")
	addLine(t, cart, "sku-2", "60")

	rule := mustRule(t, "bulk", DiscountSubtotalFixed, Discount{Fixed: dec(t, "150")})
	require.NoError(t, cart.AddPriceRule(rule))

	requireDecimalEqual(t, dec(t, "100"), cart.PriceRules()[0].DiscountAmount)
	requireDecimalEqual(t, decimal.Zero, cart.SubtotalWithDiscounts())
}

func TestDistributeFixedPrefersHigherTaxedLines(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	taxed := addLine(t, cart, "sku-1", "60", mustTaxRule(t, "IVA", "21", 0, 0))
	untaxed := addLine(t, cart, "sku-2", "40")

	rule := mustRule(t, "bulk", DiscountSubtotalFixed, Discount{Fixed: dec(t, "50")})
	require.NoError(t, cart.AddPriceRule(rule))

	requireDecimalEqual(t, dec(t, "50"), taxed.DiscountAmount())
	requireDecimalEqual(t, decimal.Zero, untaxed.DiscountAmount())
	requireDecimalEqual(t, dec(t, "50"), cart.PriceRules()[0].DiscountAmount)
}

func TestFixedRuleDoesNotApplyToLaterLines(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")

	rule := mustRule(t, "bulk", DiscountSubtotalFixed, Discount{Fixed: dec(t, "30")})
	require.NoError(t, cart.AddPriceRule(rule))

	late := addLine(t, cart, "sku-2", "50")
	requireDecimalEqual(t, decimal.Zero, late.DiscountAmount())
	requireDecimalEqual(t, dec(t, "30"), cart.DiscountAmount())
}

func TestPercentageBasisExclusionAcrossCart(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")

	require.NoError(t, cart.AddPriceRule(mustRule(t, "sub", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")})))
	err := cart.AddPriceRule(mustRule(t, "tot", DiscountTotalPercentage, Discount{Percentage: dec(t, "5")}))
	require.ErrorIs(t, err, ErrRuleConflict)

	require.Len(t, cart.PriceRules(), 1)
	requireDecimalEqual(t, dec(t, "10"), cart.DiscountAmount())
}

func TestDuplicateRuleRejected(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")

	require.NoError(t, cart.AddPriceRule(mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")})))
	err := cart.AddPriceRule(mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")}))
	require.ErrorIs(t, err, ErrRuleConflict)
}

func TestNotCombinableRuleBlocksFurtherRules(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")

	exclusive, err := NewPriceRule("exclusive", "", DiscountSubtotalPercentage, false, false, Discount{Percentage: dec(t, "10")})
	require.NoError(t, err)
	require.NoError(t, cart.AddPriceRule(exclusive))
	require.True(t, cart.HasNotCombinableRule())

	err = cart.AddPriceRule(mustRule(t, "another", DiscountSubtotalFixed, Discount{Fixed: dec(t, "5")}))
	require.ErrorIs(t, err, ErrRuleConflict)
}

func TestFreeShippingRuleExcludesShippingFromTotal(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")
	require.NoError(t, cart.SetShippingAmount(dec(t, "10")))
	requireDecimalEqual(t, dec(t, "110"), cart.Total())

	free, err := NewPriceRule("free shipping", "", DiscountSubtotalPercentage, true, true, Discount{Percentage: dec(t, "1")})
	require.NoError(t, err)
	require.NoError(t, cart.AddPriceRule(free))

	require.True(t, cart.HasFreeShipping())
	requireDecimalEqual(t, dec(t, "99"), cart.Total())
}

func TestWeightReductions(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)

	boxed, err := NewLine("sku-1", "Boxed", decimal.NewFromInt(2), dec(t, "10"), dec(t, "1.5"), true, PriceWithoutTax, nil, nil)
	require.NoError(t, err)
	_, err = cart.Add(boxed)
	require.NoError(t, err)

	digital, err := NewLine("sku-2", "Digital", decimal.NewFromInt(1), dec(t, "5"), dec(t, "0.1"), false, PriceWithoutTax, nil, nil)
	require.NoError(t, err)
	_, err = cart.Add(digital)
	require.NoError(t, err)

	requireDecimalEqual(t, dec(t, "3.1"), cart.Weight())
	requireDecimalEqual(t, dec(t, "3"), cart.TransportableWeight())
	require.True(t, cart.HasTransportableLine())
}

func TestCartTaxRulesMergedView(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100", mustTaxRule(t, "IVA", "21", 0, 0))
	addLine(t, cart, "sku-2", "50", mustTaxRule(t, "IVA", "21", 0, 0))

	rules := cart.TaxRules()
	require.Len(t, rules, 1)
	requireDecimalEqual(t, dec(t, "31.5"), rules[0].TaxAmount())
	requireDecimalEqual(t, dec(t, "31.5"), cart.TaxAmount())
}

func TestSnapshotRoundTrip(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100", mustTaxRule(t, "IVA", "21", 0, 0))

	fixed := mustRule(t, "bulk", DiscountSubtotalFixed, Discount{Fixed: dec(t, "30")})
	require.NoError(t, cart.AddPriceRule(fixed))

	// added after the fixed rule, so it carries no fixed discount
	addLine(t, cart, "sku-2", "50")

	percent := mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")})
	require.NoError(t, cart.AddPriceRule(percent))

	require.NoError(t, cart.SetShippingAmount(dec(t, "15")))
	cart.SetShippingData(map[string]string{"carrier": "jne"})
	cart.SetInvoice(map[string]string{"number": "INV-1"})

	restored, err := RestoreCart(cart.Snapshot())
	require.NoError(t, err)

	require.Equal(t, cart.Len(), restored.Len())
	require.Len(t, restored.PriceRules(), 2)
	requireDecimalEqual(t, cart.Subtotal(), restored.Subtotal())
	requireDecimalEqual(t, cart.SubtotalWithDiscounts(), restored.SubtotalWithDiscounts())
	requireDecimalEqual(t, cart.TaxAmount(), restored.TaxAmount())
	requireDecimalEqual(t, cart.DiscountAmount(), restored.DiscountAmount())
	requireDecimalEqual(t, cart.Total(), restored.Total())
	require.Equal(t, cart.ShippingData(), restored.ShippingData())
	require.Equal(t, cart.Invoice(), restored.Invoice())

	for _, line := range cart.Lines() {
		counterpart, err := restored.Line(line.RowID())
		require.NoError(t, err)
		requireDecimalEqual(t, line.DiscountAmount(), counterpart.DiscountAmount())
		requireDecimalEqual(t, line.Total(), counterpart.Total())
	}
}

func TestSnapshotOmitsDerivedValues(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100", mustTaxRule(t, "IVA", "21", 0, 0))

	snap := cart.Snapshot()
	require.Len(t, snap.Lines, 1)
	requireDecimalEqual(t, dec(t, "100"), snap.Lines[0].UnitPrice)
	require.Len(t, snap.Lines[0].TaxRules, 1)
	require.Empty(t, snap.Lines[0].SubtotalFixed)
	require.Empty(t, snap.Lines[0].TotalFixed)
}

func TestRejectedRuleLeavesCartUntouched(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	lineA := addLine(t, cart, "sku-1", "100")
	lineB := addLine(t, cart, "sku-2", "50")
	require.NoError(t, lineB.SetDiscountTotalPercentage(Discount{RuleID: "manual", Percentage: dec(t, "5")}))

	before := cart.Total()
	err := cart.AddPriceRule(mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")}))
	require.ErrorIs(t, err, ErrRuleConflict)

	require.Empty(t, cart.PriceRules())
	requireDecimalEqual(t, decimal.Zero, lineA.DiscountAmount())
	requireDecimalEqual(t, before, cart.Total())
}

func TestAddRejectsLineConflictingWithActiveRule(t *testing.T) {
	cart := mustCart(t, PriceWithoutTax)
	addLine(t, cart, "sku-1", "100")
	require.NoError(t, cart.AddPriceRule(mustRule(t, "sale", DiscountSubtotalPercentage, Discount{Percentage: dec(t, "10")})))

	line, err := NewLine("sku-2", "Product", decimal.NewFromInt(1), dec(t, "50"), decimal.Zero, false, PriceWithoutTax, nil, nil)
	require.NoError(t, err)
	require.NoError(t, line.SetDiscountTotalPercentage(Discount{RuleID: "manual", Percentage: dec(t, "5")}))

	_, err = cart.Add(line)
	require.ErrorIs(t, err, ErrRuleConflict)
	require.Equal(t, 1, cart.Len())
	requireDecimalEqual(t, dec(t, "10"), cart.DiscountAmount())
}
