package models

import "github.com/shopspring/decimal"

// BillingCycle is the billing period a subscription is charged for.
type BillingCycle string

const (
	CycleMonthly  BillingCycle = "monthly"
	CycleAnnually BillingCycle = "annually"
)

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleAnnually
}

// Service is a third-party service included in a bundle.
type Service struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Description   string  `json:"description,omitempty" yaml:"description"`
	OriginalPrice float64 `json:"original_price" yaml:"original_price"`
}

// Bundle is an immutable catalog entry. BundlePrice is always the monthly
// reference price, whatever cycle the user ends up paying for.
type Bundle struct {
	ID                    string    `json:"id" yaml:"id"`
	Name                  string    `json:"name" yaml:"name"`
	Description           string    `json:"description,omitempty" yaml:"description"`
	Services              []Service `json:"services" yaml:"services"`
	BundlePrice           float64   `json:"bundle_price" yaml:"bundle_price"`
	AnnualPriceMultiplier *float64  `json:"annual_price_multiplier,omitempty" yaml:"annual_price_multiplier"`
	ProviderEmail         string    `json:"provider_email,omitempty" yaml:"provider_email"`
}

// AnnualPrice returns the yearly charge: twelve monthly prices scaled by the
// annual multiplier (1 when unset), rounded to cents.
func (b Bundle) AnnualPrice() float64 {
	multiplier := 1.0
	if b.AnnualPriceMultiplier != nil {
		multiplier = *b.AnnualPriceMultiplier
	}
	return decimal.NewFromFloat(b.BundlePrice).
		Mul(decimal.NewFromInt(12)).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2).
		InexactFloat64()
}

// PriceFor returns the amount charged for one billing period of the given cycle.
func (b Bundle) PriceFor(cycle BillingCycle) float64 {
	if cycle == CycleAnnually {
		return b.AnnualPrice()
	}
	return b.BundlePrice
}

// OriginalTotal sums the standalone monthly price of every included service.
func (b Bundle) OriginalTotal() float64 {
	total := decimal.Zero
	for _, s := range b.Services {
		total = total.Add(decimal.NewFromFloat(s.OriginalPrice))
	}
	return total.Round(2).InexactFloat64()
}
