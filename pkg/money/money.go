package money

import (
	"github.com/cockroachdb/apd/v3"
)

// CreditsToUSDRate is the fixed conversion rate from conversational-AI credits
// to USD. It is applied at read time only; stored totals remain raw credits.
const CreditsToUSDRate = "0.00007525404654"

// Currency sums are accumulated as float64 in the hot path and rounded with
// decimal arithmetic at aggregation boundaries, so repeated upserts do not
// accumulate binary-float drift.

var apdCtx = apd.BaseContext.WithPrecision(34)

// Round rounds v half-up to the given number of decimal places.
func Round(v float64, places int32) float64 {
	var d, q apd.Decimal
	if _, err := d.SetFloat64(v); err != nil {
		return v
	}
	if _, err := apdCtx.Quantize(&q, &d, -places); err != nil {
		return v
	}
	f, err := q.Float64()
	if err != nil {
		return v
	}
	return f
}

// Round4 rounds a currency amount to 4 decimal places. All persisted cost
// totals go through this before upsert.
func Round4(v float64) float64 { return Round(v, 4) }

// Round2 rounds to 2 decimal places, used for display-level totals.
func Round2(v float64) float64 { return Round(v, 2) }

// CreditsToUSD converts a raw credit total to USD using the fixed rate.
func CreditsToUSD(credits float64) float64 {
	var c, rate, out apd.Decimal
	if _, err := c.SetFloat64(credits); err != nil {
		return 0
	}
	if _, _, err := rate.SetString(CreditsToUSDRate); err != nil {
		return 0
	}
	if _, err := apdCtx.Mul(&out, &c, &rate); err != nil {
		return 0
	}
	f, err := out.Float64()
	if err != nil {
		return 0
	}
	return f
}
