// Package cart exposes cart pricing as a stateless service over a snapshot
// store. Every operation is a load, mutate, persist cycle: the engine holds
// no state between requests, so concurrent instances stay interchangeable.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/keranjang-dev/keranjang/internal/events"
	"github.com/keranjang-dev/keranjang/internal/lock"
	"github.com/keranjang-dev/keranjang/internal/obs"
	"github.com/keranjang-dev/keranjang/internal/pricing"
)

// Store persists cart snapshots. Load returns (nil, nil) when no snapshot
// exists for the instance.
type Store interface {
	Load(ctx context.Context, instanceID string) (*pricing.Snapshot, error)
	Save(ctx context.Context, instanceID string, snap pricing.Snapshot) error
	Clear(ctx context.Context, instanceID string) error
}

// TaxRuleInput describes one tax rule attached to an incoming line.
type TaxRuleInput struct {
	Name      string          `json:"name" validate:"required"`
	Rate      decimal.Decimal `json:"rate"`
	Priority  int             `json:"priority"`
	SortOrder int             `json:"sortOrder"`
}

// LineInput describes one product line to add to a cart.
type LineInput struct {
	ProductID     string            `json:"productId" validate:"required"`
	Name          string            `json:"name" validate:"required"`
	Quantity      decimal.Decimal   `json:"quantity"`
	UnitPrice     decimal.Decimal   `json:"unitPrice"`
	Weight        decimal.Decimal   `json:"weight"`
	Transportable bool              `json:"transportable"`
	Options       map[string]string `json:"options"`
	TaxRules      []TaxRuleInput    `json:"taxRules"`
}

// RuleInput describes a cart-level price rule to register.
type RuleInput struct {
	Name                    string              `json:"name" validate:"required"`
	Description             string              `json:"description"`
	DiscountType            string              `json:"discountType" validate:"required"`
	Combinable              bool                `json:"combinable"`
	FreeShipping            bool                `json:"freeShipping"`
	Percentage              decimal.Decimal     `json:"percentage"`
	Fixed                   decimal.Decimal     `json:"fixed"`
	MaximumPercentageAmount decimal.NullDecimal `json:"maximumPercentageAmount"`
	AppliesToShipping       bool                `json:"appliesToShipping"`
}

// Service encapsulates cart domain operations.
type Service struct {
	Store   Store
	Bus     *events.Bus
	Logger  zerolog.Logger
	Metrics *obs.CartMetrics

	// Lock, when set, serializes the load-mutate-persist cycle per instance
	// so overlapping requests on one cart cannot drop each other's writes.
	Lock    *lock.Locker
	LockTTL time.Duration

	// Mode declares how incoming unit prices are interpreted, cart-wide.
	Mode pricing.PriceMode
}

func (s *Service) withGuard(ctx context.Context, instanceID string, fn func(context.Context) error) error {
	if s.Lock == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return s.Lock.WithLock(ctx, s.Lock.Key(instanceID), ttl, fn)
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// Get loads the cart for the given instance.
func (s *Service) Get(ctx context.Context, instanceID string) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.load(ctx, instanceID)
}

// Add inserts the given lines, merging quantities into lines that share a
// product and option set. A single added event is emitted per line plus one
// batch event when more than one line arrives together.
func (s *Service) Add(ctx context.Context, instanceID string, inputs []LineInput) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one line is required: %w", pricing.ErrInvalidInput)
	}
	var cart *pricing.Cart
	var added []*pricing.Line
	err := s.withGuard(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cart, err = s.loadOrCreate(ctx, instanceID)
		if err != nil {
			return err
		}
		start := time.Now()
		added = make([]*pricing.Line, 0, len(inputs))
		for _, in := range inputs {
			line, err := s.buildLine(in)
			if err != nil {
				return err
			}
			merged, err := cart.Add(line)
			if err != nil {
				return err
			}
			added = append(added, merged)
		}
		s.Metrics.ObserveCompute(time.Since(start))
		return s.persist(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	for _, line := range added {
		s.emit(ctx, events.TopicCartAdded, instanceID, map[string]any{
			"rowId":     line.RowID(),
			"productId": line.ProductID(),
			"quantity":  line.Quantity(),
		})
	}
	if len(added) > 1 {
		s.emit(ctx, events.TopicCartBatch, instanceID, map[string]any{"lines": len(added)})
	}
	s.Metrics.ObserveMutation("add")
	return cart, nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or less removes
// the line, and removing the last line destroys the cart.
func (s *Service) SetQuantity(ctx context.Context, instanceID, rowID string, quantity decimal.Decimal) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var cart *pricing.Cart
	var removed bool
	err := s.withGuard(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cart, err = s.load(ctx, instanceID)
		if err != nil {
			return err
		}
		removed, err = cart.SetQuantity(rowID, quantity)
		if err != nil {
			return err
		}
		return s.persist(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	if removed {
		s.emit(ctx, events.TopicCartRemoved, instanceID, map[string]any{"rowId": rowID})
	}
	s.Metrics.ObserveMutation("set_quantity")
	return cart, nil
}

// Remove deletes a line from the cart. Removing the last line destroys the
// cart entirely.
func (s *Service) Remove(ctx context.Context, instanceID, rowID string) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var cart *pricing.Cart
	var line *pricing.Line
	err := s.withGuard(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cart, err = s.load(ctx, instanceID)
		if err != nil {
			return err
		}
		line, err = cart.Remove(rowID)
		if err != nil {
			return err
		}
		return s.persist(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.TopicCartRemoved, instanceID, map[string]any{
		"rowId":     line.RowID(),
		"productId": line.ProductID(),
	})
	s.Metrics.ObserveMutation("remove")
	return cart, nil
}

// AddPriceRule registers a cart-level discount rule and applies it.
func (s *Service) AddPriceRule(ctx context.Context, instanceID string, in RuleInput) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	discountType, err := pricing.ParseDiscountType(in.DiscountType)
	if err != nil {
		return nil, err
	}
	rule, err := pricing.NewPriceRule(in.Name, in.Description, discountType, in.Combinable, in.FreeShipping, pricing.Discount{
		Percentage:              in.Percentage,
		Fixed:                   in.Fixed,
		MaximumPercentageAmount: in.MaximumPercentageAmount,
		AppliesToShipping:       in.AppliesToShipping,
	})
	if err != nil {
		return nil, err
	}

	var cart *pricing.Cart
	err = s.withGuard(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cart, err = s.load(ctx, instanceID)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := cart.AddPriceRule(rule); err != nil {
			return err
		}
		s.Metrics.ObserveCompute(time.Since(start))
		return s.persist(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveMutation("add_rule")
	return cart, nil
}

// SetShipping stores the shipping amount and optional shipping metadata.
func (s *Service) SetShipping(ctx context.Context, instanceID string, amount decimal.Decimal, data map[string]string) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var cart *pricing.Cart
	err := s.withGuard(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cart, err = s.load(ctx, instanceID)
		if err != nil {
			return err
		}
		if err := cart.SetShippingAmount(amount); err != nil {
			return err
		}
		if data != nil {
			cart.SetShippingData(data)
		}
		return s.persist(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveMutation("set_shipping")
	return cart, nil
}

// SetInvoice stores invoice metadata on the cart.
func (s *Service) SetInvoice(ctx context.Context, instanceID string, data map[string]string) (*pricing.Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var cart *pricing.Cart
	err := s.withGuard(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cart, err = s.load(ctx, instanceID)
		if err != nil {
			return err
		}
		cart.SetInvoice(data)
		return s.persist(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveMutation("set_invoice")
	return cart, nil
}

func (s *Service) buildLine(in LineInput) (*pricing.Line, error) {
	rules := make([]*pricing.TaxRule, 0, len(in.TaxRules))
	for _, tr := range in.TaxRules {
		rule, err := pricing.NewTaxRule(tr.Name, tr.Rate, tr.Priority, tr.SortOrder)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return pricing.NewLine(in.ProductID, in.Name, in.Quantity, in.UnitPrice, in.Weight, in.Transportable, s.Mode, rules, in.Options)
}

func (s *Service) load(ctx context.Context, instanceID string) (*pricing.Cart, error) {
	snap, err := s.Store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("cart %s: %w", instanceID, pricing.ErrNotFound)
	}
	return pricing.RestoreCart(*snap)
}

func (s *Service) loadOrCreate(ctx context.Context, instanceID string) (*pricing.Cart, error) {
	snap, err := s.Store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return pricing.NewCart(instanceID, s.Mode)
	}
	return pricing.RestoreCart(*snap)
}

// persist saves the cart, or clears it when the last line is gone. An empty
// cart leaves no trace in the store.
func (s *Service) persist(ctx context.Context, cart *pricing.Cart) error {
	if cart.Empty() {
		if err := s.Store.Clear(ctx, cart.InstanceID()); err != nil {
			return err
		}
		s.emit(ctx, events.TopicCartDestroyed, cart.InstanceID(), nil)
		s.Metrics.ObserveDestroy()
		return nil
	}
	return s.Store.Save(ctx, cart.InstanceID(), cart.Snapshot())
}

func (s *Service) emit(ctx context.Context, topic, instanceID string, payload any) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Emit(ctx, topic, instanceID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("instance_id", instanceID).Msg("emit cart event")
	}
}
