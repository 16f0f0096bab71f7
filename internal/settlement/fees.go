package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const currencyScale = 2

var hundred = decimal.NewFromInt(100)

// PayoutMethod is one way of paying out a withdrawal and its fee schedule.
// PercentFee is expressed in percent, so 2.9 means 2.9%. A zero MaxFee leaves
// the fee uncapped.
type PayoutMethod struct {
	Name           string
	PercentFee     decimal.Decimal
	FlatFee        decimal.Decimal
	MaxFee         decimal.Decimal
	ProviderRouted bool
}

// Fee computes the processing fee for amount, rounded to cents.
func (m PayoutMethod) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(m.PercentFee).Div(hundred).Add(m.FlatFee)
	if m.MaxFee.IsPositive() && fee.GreaterThan(m.MaxFee) {
		fee = m.MaxFee
	}
	return fee.Round(currencyScale)
}

// FeeSchedule is the immutable set of payout methods a deployment accepts.
type FeeSchedule struct {
	methods map[string]PayoutMethod
}

func NewFeeSchedule(methods []PayoutMethod) (*FeeSchedule, error) {
	if len(methods) == 0 {
		return nil, fmt.Errorf("fee schedule needs at least one payout method")
	}
	schedule := &FeeSchedule{methods: make(map[string]PayoutMethod, len(methods))}
	for i, m := range methods {
		if m.Name == "" {
			return nil, fmt.Errorf("payout method at index %d missing name", i)
		}
		if _, dup := schedule.methods[m.Name]; dup {
			return nil, fmt.Errorf("payout method %s defined twice", m.Name)
		}
		if m.PercentFee.IsNegative() || m.FlatFee.IsNegative() || m.MaxFee.IsNegative() {
			return nil, fmt.Errorf("payout method %s has a negative fee", m.Name)
		}
		if m.PercentFee.GreaterThanOrEqual(hundred) {
			return nil, fmt.Errorf("payout method %s percent fee must be below 100", m.Name)
		}
		schedule.methods[m.Name] = m
	}
	return schedule, nil
}

// DefaultFeeSchedule is used when no payout methods file is configured.
func DefaultFeeSchedule() *FeeSchedule {
	schedule, _ := NewFeeSchedule([]PayoutMethod{
		{Name: "bank_transfer", FlatFee: decimal.RequireFromString("2.00")},
		{Name: "paypal", PercentFee: decimal.RequireFromString("2.9"), FlatFee: decimal.RequireFromString("0.30"), MaxFee: decimal.NewFromInt(25)},
		{Name: "usdc_wallet", PercentFee: decimal.NewFromInt(1), MaxFee: decimal.NewFromInt(10), ProviderRouted: true},
	})
	return schedule
}

func (f *FeeSchedule) Method(name string) (PayoutMethod, bool) {
	m, ok := f.methods[name]
	return m, ok
}

// Methods returns the schedule sorted by name.
func (f *FeeSchedule) Methods() []PayoutMethod {
	out := make([]PayoutMethod, 0, len(f.methods))
	for _, m := range f.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validAmount reports whether d is a positive amount with at most two decimal places.
func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(currencyScale))
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(currencyScale)
}
