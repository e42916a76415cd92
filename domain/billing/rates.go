// Package billing provides the rate table and pure cost computation.
// All money is integer cents; floating-point dollars never enter the math.
package billing

import (
	"fmt"

	"github.com/cj1101/crowseye-metering/domain/meter"
)

// RateTable maps each meter type to a unit price and holds the account-wide
// minimum billing threshold. Immutable after construction; loaded once at
// process start.
type RateTable struct {
	rates     map[meter.Type]int64 // cents per unit
	threshold int64                // cents
}

// NewRateTable builds a rate table, failing if any known meter type is
// missing a rate. A missing rate is a configuration error and must abort
// startup rather than be silently defaulted.
func NewRateTable(rates map[meter.Type]int64, thresholdCents int64) (RateTable, error) {
	if thresholdCents < 0 {
		return RateTable{}, fmt.Errorf("minimum billing threshold must be >= 0, got %d", thresholdCents)
	}

	copied := make(map[meter.Type]int64, len(rates))
	for _, m := range meter.All() {
		price, ok := rates[m]
		if !ok {
			return RateTable{}, fmt.Errorf("no rate configured for meter %q", m)
		}
		if price < 0 {
			return RateTable{}, fmt.Errorf("rate for meter %q must be >= 0, got %d", m, price)
		}
		copied[m] = price
	}

	return RateTable{rates: copied, threshold: thresholdCents}, nil
}

// Rate returns the unit price in cents for a meter type.
func (t RateTable) Rate(m meter.Type) int64 {
	return t.rates[m]
}

// Threshold returns the minimum billing threshold in cents.
func (t RateTable) Threshold() int64 {
	return t.threshold
}

// FormatCents formats cents as a dollars string for display.
// This is a PURE function.
func FormatCents(cents int64) string {
	if cents < 0 {
		return "-" + FormatCents(-cents)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
