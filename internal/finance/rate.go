// Package finance holds the amortization math and the income-based credit policy.
// Amounts are integer cents; rates are percentages.
package finance

import "math"

// MonthlyRateFromAnnual converts an effective annual rate in percent to the
// equivalent monthly rate as a fraction: (1 + aa/100)^(1/12) - 1.
func MonthlyRateFromAnnual(annualPct float64) float64 {
	if annualPct == 0 {
		return 0
	}
	return math.Pow(1+annualPct/100, 1.0/12.0) - 1
}

// PMT returns the fixed monthly installment that amortizes principalCents over
// termMonths at annualPct, rounded to the nearest cent. It returns 0 for a
// non-positive principal or term.
func PMT(principalCents int64, annualPct float64, termMonths int) int64 {
	if termMonths <= 0 || principalCents <= 0 {
		return 0
	}
	p := float64(principalCents)
	n := float64(termMonths)
	i := MonthlyRateFromAnnual(annualPct)
	if i == 0 {
		return int64(math.Round(p / n))
	}
	f := math.Pow(1+i, n)
	return int64(math.Round(p * i * f / (f - 1)))
}

// AnnuityFactor converts a periodic payment into its present value:
// ((1+i)^n - 1) / (i(1+i)^n). For i == 0 it is n.
func AnnuityFactor(monthlyRate float64, termMonths int) float64 {
	n := float64(termMonths)
	if monthlyRate == 0 {
		return n
	}
	f := math.Pow(1+monthlyRate, n)
	return (f - 1) / (monthlyRate * f)
}
