package cart

import (
	"github.com/shopspring/decimal"

	"github.com/keranjang-dev/keranjang/internal/money"
	"github.com/keranjang-dev/keranjang/internal/pricing"
)

// MoneyFormat carries display settings for rendered amounts.
type MoneyFormat struct {
	Decimals     int32
	DecimalPoint string
	ThousandsSep string
}

func (f MoneyFormat) render(d decimal.Decimal) string {
	return money.Format(d, f.Decimals, f.DecimalPoint, f.ThousandsSep)
}

type taxRuleView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	Priority  int             `json:"priority"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
}

type discountView struct {
	RuleID     string          `json:"ruleId"`
	Percentage decimal.Decimal `json:"percentage"`
	Fixed      decimal.Decimal `json:"fixed"`
	Amount     decimal.Decimal `json:"amount"`
}

type lineView struct {
	RowID                  string            `json:"rowId"`
	ProductID              string            `json:"productId"`
	Name                   string            `json:"name"`
	Quantity               decimal.Decimal   `json:"quantity"`
	Options                map[string]string `json:"options,omitempty"`
	UnitPrice              decimal.Decimal   `json:"unitPrice"`
	UnitPriceFormatted     string            `json:"unitPriceFormatted"`
	Subtotal               decimal.Decimal   `json:"subtotal"`
	SubtotalWithDiscounts  decimal.Decimal   `json:"subtotalWithDiscounts"`
	TaxAmount              decimal.Decimal   `json:"taxAmount"`
	DiscountAmount         decimal.Decimal   `json:"discountAmount"`
	Total                  decimal.Decimal   `json:"total"`
	TotalFormatted         string            `json:"totalFormatted"`
	Weight                 decimal.Decimal   `json:"weight"`
	Transportable          bool              `json:"transportable"`
	TaxRules               []taxRuleView     `json:"taxRules,omitempty"`
	Discounts              []discountView    `json:"discounts,omitempty"`
}

type priceRuleView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	DiscountType   string          `json:"discountType"`
	Combinable     bool            `json:"combinable"`
	FreeShipping   bool            `json:"freeShipping"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type cartView struct {
	InstanceID              string            `json:"instanceId"`
	Mode                    string            `json:"mode"`
	Lines                   []lineView        `json:"lines"`
	PriceRules              []priceRuleView   `json:"priceRules,omitempty"`
	Quantity                decimal.Decimal   `json:"quantity"`
	Subtotal                decimal.Decimal   `json:"subtotal"`
	SubtotalWithDiscounts   decimal.Decimal   `json:"subtotalWithDiscounts"`
	TaxAmount               decimal.Decimal   `json:"taxAmount"`
	DiscountAmount          decimal.Decimal   `json:"discountAmount"`
	ShippingAmount          decimal.Decimal   `json:"shippingAmount"`
	ShippingData            map[string]string `json:"shippingData,omitempty"`
	Invoice                 map[string]string `json:"invoice,omitempty"`
	FreeShipping            bool              `json:"freeShipping"`
	Weight                  decimal.Decimal   `json:"weight"`
	TransportableWeight     decimal.Decimal   `json:"transportableWeight"`
	Total                   decimal.Decimal   `json:"total"`
	TotalFormatted          string            `json:"totalFormatted"`
	TotalWithoutDiscounts   decimal.Decimal   `json:"totalWithoutDiscounts"`
}

func renderCart(cart *pricing.Cart, display pricing.PriceMode, format MoneyFormat) cartView {
	lines := cart.Lines()
	view := cartView{
		InstanceID:            cart.InstanceID(),
		Mode:                  cart.Mode().String(),
		Lines:                 make([]lineView, 0, len(lines)),
		Quantity:              cart.Quantity(),
		Subtotal:              cart.Subtotal(),
		SubtotalWithDiscounts: cart.SubtotalWithDiscounts(),
		TaxAmount:             cart.TaxAmount(),
		DiscountAmount:        cart.DiscountAmount(),
		ShippingAmount:        cart.ShippingAmount(),
		ShippingData:          cart.ShippingData(),
		Invoice:               cart.Invoice(),
		FreeShipping:          cart.HasFreeShipping(),
		Weight:                cart.Weight(),
		TransportableWeight:   cart.TransportableWeight(),
		Total:                 cart.Total(),
		TotalFormatted:        format.render(cart.Total()),
		TotalWithoutDiscounts: cart.CartItemsTotalWithoutDiscounts(),
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, renderLine(line, display, format))
	}
	for _, rule := range cart.PriceRules() {
		view.PriceRules = append(view.PriceRules, priceRuleView{
			ID:             rule.ID,
			Name:           rule.Name,
			Description:    rule.Description,
			DiscountType:   rule.DiscountType.String(),
			Combinable:     rule.Combinable,
			FreeShipping:   rule.FreeShipping,
			DiscountAmount: rule.DiscountAmount,
		})
	}
	return view
}

func renderLine(line *pricing.Line, display pricing.PriceMode, format MoneyFormat) lineView {
	displayed := line.UnitPriceDisplayed(display)
	lv := lineView{
		RowID:                 line.RowID(),
		ProductID:             line.ProductID(),
		Name:                  line.Name(),
		Quantity:              line.Quantity(),
		Options:               line.Options(),
		UnitPrice:             displayed,
		UnitPriceFormatted:    format.render(displayed),
		Subtotal:              line.Subtotal(),
		SubtotalWithDiscounts: line.SubtotalWithDiscounts(),
		TaxAmount:             line.TaxAmount(),
		DiscountAmount:        line.DiscountAmount(),
		Total:                 line.Total(),
		TotalFormatted:        format.render(line.Total()),
		Weight:                line.Weight(),
		Transportable:         line.Transportable(),
	}
	for _, rule := range line.TaxRules() {
		lv.TaxRules = append(lv.TaxRules, taxRuleView{
			ID:        rule.ID,
			Name:      rule.Name,
			Rate:      rule.Rate,
			Priority:  rule.Priority,
			TaxAmount: rule.TaxAmount(),
		})
	}
	for _, d := range line.Discounts() {
		lv.Discounts = append(lv.Discounts, discountView{
			RuleID:     d.RuleID,
			Percentage: d.Percentage,
			Fixed:      d.Fixed,
			Amount:     d.Amount,
		})
	}
	return lv
}
