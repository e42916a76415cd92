package billing

import (
	"math"

	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/usage"
)

// Breakdown is the derived cost of a usage record (value type, never stored).
// BillableCents is either 0 or equal to TotalCents; there is no partial
// billing below the threshold.
type Breakdown struct {
	PerMeter       map[meter.Type]int64 // cents per meter
	TotalCents     int64
	WillBeCharged  bool
	BillableCents  int64
	RemainingCents int64 // cents until the threshold is reached; 0 once charged
}

// Compute derives the cost breakdown for a usage record.
// Each per-meter cost is rounded half-up to whole cents BEFORE summing, so
// the total matches a remote invoicing system that rounds line items
// independently. This is a PURE function: no side effects, no I/O.
func Compute(table RateTable, rec usage.Record) Breakdown {
	perMeter := make(map[meter.Type]int64, len(meter.All()))
	var total int64
	for _, m := range meter.All() {
		cost := lineCost(rec.Quantity(m), table.Rate(m))
		perMeter[m] = cost
		total += cost
	}

	charged := total >= table.Threshold()
	b := Breakdown{
		PerMeter:      perMeter,
		TotalCents:    total,
		WillBeCharged: charged,
	}
	if charged {
		b.BillableCents = total
	} else {
		b.RemainingCents = table.Threshold() - total
	}
	return b
}

// lineCost computes quantity * unitPriceCents rounded half-up to cents.
func lineCost(quantity float64, unitPriceCents int64) int64 {
	if quantity <= 0 {
		return 0
	}
	return int64(math.Floor(quantity*float64(unitPriceCents) + 0.5))
}
