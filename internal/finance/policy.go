package finance

import (
	"math"

	"github.com/Dan9191/finpay/internal/errs"
)

// MaxTermMonths bounds the term accepted by simulation and origination.
const MaxTermMonths = 600

// Interest tiers, annual percent.
const (
	ShortTermRatePct  = 25.0
	MediumTermRatePct = 30.0
	LongTermRatePct   = 35.0
)

// Tier describes one band of the rate table.
type Tier struct {
	MaxTermMonths int     `json:"max_term_months,omitempty"`
	AnnualRatePct float64 `json:"annual_rate_pct"`
}

// Tiers returns the rate table; the last band has no upper bound.
func Tiers() []Tier {
	return []Tier{
		{MaxTermMonths: 12, AnnualRatePct: ShortTermRatePct},
		{MaxTermMonths: 24, AnnualRatePct: MediumTermRatePct},
		{AnnualRatePct: LongTermRatePct},
	}
}

// InterestTierForTerm returns the annual rate for a term. The rate is always
// derived here, never taken from the client.
func InterestTierForTerm(termMonths int) float64 {
	switch {
	case termMonths <= 12:
		return ShortTermRatePct
	case termMonths <= 24:
		return MediumTermRatePct
	default:
		return LongTermRatePct
	}
}

// AffordableInstallment is 30% of monthly income rounded to the nearest cent,
// ties to even. It works on income/10 and income%10 so that no income
// overflows.
func AffordableInstallment(monthlyIncomeCents int64) int64 {
	if monthlyIncomeCents <= 0 {
		return 0
	}
	tail := (monthlyIncomeCents % 10) * 3
	q, r := monthlyIncomeCents/10*3+tail/10, tail%10
	if r > 5 || (r == 5 && q%2 == 1) {
		q++
	}
	return q
}

// MaxPrincipal is the largest principal whose installment fits in
// affordableCents at annualPct over termMonths.
func MaxPrincipal(affordableCents int64, annualPct float64, termMonths int) int64 {
	if affordableCents <= 0 || termMonths <= 0 {
		return 0
	}
	i := MonthlyRateFromAnnual(annualPct)
	if i == 0 {
		if affordableCents > math.MaxInt64/int64(termMonths) {
			return math.MaxInt64
		}
		return affordableCents * int64(termMonths)
	}
	p := math.Round(float64(affordableCents) * AnnuityFactor(i, termMonths))
	if p >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(p)
}

// Simulation is the result of pricing a requested loan against an income.
type Simulation struct {
	AnnualRatePct         float64 `json:"annual_rate_pct"`
	AffordableInstallment int64   `json:"affordable_installment_cents"`
	MaxPrincipalCents     int64   `json:"max_principal_cents"`
	MonthlyPaymentCents   int64   `json:"monthly_pmt_cents"`
	MonthlyRatePct        float64 `json:"monthly_rate_pct"`
	WithinLimit           bool    `json:"within_limit"`
	RequestedPrincipal    int64   `json:"principal_cents"`
	TermMonths            int     `json:"term_months"`
}

// Simulate composes the tier, affordability and PMT rules.
func Simulate(principalCents int64, termMonths int, monthlyIncomeCents int64) (Simulation, error) {
	if termMonths <= 0 || termMonths > MaxTermMonths {
		return Simulation{}, errs.ErrInvalidTerm
	}
	rate := InterestTierForTerm(termMonths)
	affordable := AffordableInstallment(monthlyIncomeCents)
	maxPrincipal := MaxPrincipal(affordable, rate, termMonths)
	return Simulation{
		AnnualRatePct:         rate,
		AffordableInstallment: affordable,
		MaxPrincipalCents:     maxPrincipal,
		MonthlyPaymentCents:   PMT(principalCents, rate, termMonths),
		MonthlyRatePct:        MonthlyRateFromAnnual(rate) * 100,
		WithinLimit:           principalCents <= maxPrincipal,
		RequestedPrincipal:    principalCents,
		TermMonths:            termMonths,
	}, nil
}
