package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// All amounts in the core are integer minor units (kobo, cents). Floating
// point money is rejected at the API boundary and never enters this package.

// FeeBreakdown is the fee split attached to a settlement.
type FeeBreakdown struct {
	Platform  int64 `json:"platform"`
	Processor int64 `json:"processor"`
	Total     int64 `json:"total"`
}

// FeeSchedule computes fees from configured decimal rates. Rates are parsed
// once at construction; Breakdown rounds down so fees never exceed the
// released amount.
type FeeSchedule struct {
	platformRate  decimal.Decimal
	processorRate decimal.Decimal
}

func NewFeeSchedule(platformRate, processorRate string) (*FeeSchedule, error) {
	p, err := decimal.NewFromString(platformRate)
	if err != nil {
		return nil, fmt.Errorf("invalid platform fee rate %q: %w", platformRate, err)
	}
	pr, err := decimal.NewFromString(processorRate)
	if err != nil {
		return nil, fmt.Errorf("invalid processor fee rate %q: %w", processorRate, err)
	}
	if p.IsNegative() || pr.IsNegative() || p.Add(pr).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rates must be non-negative and sum below 1")
	}
	return &FeeSchedule{platformRate: p, processorRate: pr}, nil
}

func (s *FeeSchedule) Breakdown(amount int64) FeeBreakdown {
	a := decimal.NewFromInt(amount)
	platform := a.Mul(s.platformRate).Floor().IntPart()
	processor := a.Mul(s.processorRate).Floor().IntPart()
	return FeeBreakdown{
		Platform:  platform,
		Processor: processor,
		Total:     platform + processor,
	}
}

// ZeroFees is used where a movement carries no fee (refunds, adjustments).
func ZeroFees() FeeBreakdown { return FeeBreakdown{} }
