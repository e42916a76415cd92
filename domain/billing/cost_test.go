package billing

import (
	"testing"

	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/usage"
)

// testRates matches the published Crow's Eye price sheet:
// AI credit $0.15, scheduled post $0.25, storage $2.99/GB, threshold $5.00.
func testRates(t *testing.T) RateTable {
	t.Helper()
	table, err := NewRateTable(map[meter.Type]int64{
		meter.TypeAICredit:      15,
		meter.TypeScheduledPost: 25,
		meter.TypeStorageGB:     299,
	}, 500)
	if err != nil {
		t.Fatalf("NewRateTable: %v", err)
	}
	return table
}

func TestNewRateTable_MissingRate(t *testing.T) {
	_, err := NewRateTable(map[meter.Type]int64{
		meter.TypeAICredit:      15,
		meter.TypeScheduledPost: 25,
		// storage_gb missing
	}, 500)
	if err == nil {
		t.Fatal("expected error for missing storage_gb rate")
	}
}

func TestNewRateTable_NegativeValues(t *testing.T) {
	rates := map[meter.Type]int64{
		meter.TypeAICredit:      15,
		meter.TypeScheduledPost: 25,
		meter.TypeStorageGB:     299,
	}

	if _, err := NewRateTable(rates, -1); err == nil {
		t.Error("expected error for negative threshold")
	}

	rates[meter.TypeAICredit] = -15
	if _, err := NewRateTable(rates, 500); err == nil {
		t.Error("expected error for negative rate")
	}
}

func TestCompute(t *testing.T) {
	table := testRates(t)

	tests := []struct {
		name          string
		rec           usage.Record
		wantPerMeter  map[meter.Type]int64
		wantTotal     int64
		wantCharged   bool
		wantBillable  int64
		wantRemaining int64
	}{
		{
			name:          "zero usage",
			rec:           usage.Record{},
			wantPerMeter:  map[meter.Type]int64{meter.TypeAICredit: 0, meter.TypeScheduledPost: 0, meter.TypeStorageGB: 0},
			wantTotal:     0,
			wantCharged:   false,
			wantRemaining: 500,
		},
		{
			name:          "below threshold",
			rec:           usage.Record{AICredits: 10, ScheduledPosts: 4},
			wantPerMeter:  map[meter.Type]int64{meter.TypeAICredit: 150, meter.TypeScheduledPost: 100, meter.TypeStorageGB: 0},
			wantTotal:     250,
			wantCharged:   false,
			wantRemaining: 250,
		},
		{
			name:         "above threshold",
			rec:          usage.Record{AICredits: 20, ScheduledPosts: 8, StorageGB: 1},
			wantPerMeter: map[meter.Type]int64{meter.TypeAICredit: 300, meter.TypeScheduledPost: 200, meter.TypeStorageGB: 299},
			wantTotal:    799,
			wantCharged:  true,
			wantBillable: 799,
		},
		{
			name:         "single meter alone crosses threshold",
			rec:          usage.Record{StorageGB: 2},
			wantPerMeter: map[meter.Type]int64{meter.TypeAICredit: 0, meter.TypeScheduledPost: 0, meter.TypeStorageGB: 598},
			wantTotal:    598,
			wantCharged:  true,
			wantBillable: 598,
		},
		{
			name:         "exactly at threshold charges",
			rec:          usage.Record{ScheduledPosts: 20}, // 20 * $0.25 = $5.00
			wantPerMeter: map[meter.Type]int64{meter.TypeAICredit: 0, meter.TypeScheduledPost: 500, meter.TypeStorageGB: 0},
			wantTotal:    500,
			wantCharged:  true,
			wantBillable: 500,
		},
		{
			name:          "fractional storage rounds to cents",
			rec:           usage.Record{AICredits: 11, ScheduledPosts: 13, StorageGB: 0.1}, // 165 + 325 + 29.9→30
			wantPerMeter:  map[meter.Type]int64{meter.TypeAICredit: 165, meter.TypeScheduledPost: 325, meter.TypeStorageGB: 30},
			wantTotal:     520,
			wantCharged:   true,
			wantBillable:  520,
			wantRemaining: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(table, tt.rec)
			for m, want := range tt.wantPerMeter {
				if got.PerMeter[m] != want {
					t.Errorf("PerMeter[%s] = %d, want %d", m, got.PerMeter[m], want)
				}
			}
			if got.TotalCents != tt.wantTotal {
				t.Errorf("TotalCents = %d, want %d", got.TotalCents, tt.wantTotal)
			}
			if got.WillBeCharged != tt.wantCharged {
				t.Errorf("WillBeCharged = %v, want %v", got.WillBeCharged, tt.wantCharged)
			}
			if got.BillableCents != tt.wantBillable {
				t.Errorf("BillableCents = %d, want %d", got.BillableCents, tt.wantBillable)
			}
			if got.RemainingCents != tt.wantRemaining {
				t.Errorf("RemainingCents = %d, want %d", got.RemainingCents, tt.wantRemaining)
			}
		})
	}
}

func TestCompute_ThresholdBoundary(t *testing.T) {
	// Total exactly equal to the threshold charges; one cent below does not.
	table, err := NewRateTable(map[meter.Type]int64{
		meter.TypeAICredit:      1,
		meter.TypeScheduledPost: 1,
		meter.TypeStorageGB:     1,
	}, 100)
	if err != nil {
		t.Fatalf("NewRateTable: %v", err)
	}

	at := Compute(table, usage.Record{AICredits: 100})
	if !at.WillBeCharged || at.BillableCents != 100 {
		t.Errorf("at threshold: charged=%v billable=%d, want true/100", at.WillBeCharged, at.BillableCents)
	}

	below := Compute(table, usage.Record{AICredits: 99})
	if below.WillBeCharged || below.BillableCents != 0 || below.RemainingCents != 1 {
		t.Errorf("below threshold: %+v, want uncharged with 1 cent remaining", below)
	}
}

func TestCompute_RoundsLineItemsBeforeSumming(t *testing.T) {
	// 0.5 GB at $2.99 = $1.495, rounds half-up to $1.50 as its own line item.
	table := testRates(t)
	got := Compute(table, usage.Record{StorageGB: 0.5})
	if got.PerMeter[meter.TypeStorageGB] != 150 {
		t.Errorf("storage line = %d, want 150 (round half-up)", got.PerMeter[meter.TypeStorageGB])
	}
	if got.TotalCents != 150 {
		t.Errorf("TotalCents = %d, want 150", got.TotalCents)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	table := testRates(t)
	rec := usage.Record{AICredits: 7, ScheduledPosts: 3, StorageGB: 1.25}

	a := Compute(table, rec)
	b := Compute(table, rec)
	if a.TotalCents != b.TotalCents || a.WillBeCharged != b.WillBeCharged || a.BillableCents != b.BillableCents {
		t.Errorf("Compute not idempotent: %+v vs %+v", a, b)
	}
	for _, m := range meter.All() {
		if a.PerMeter[m] != b.PerMeter[m] {
			t.Errorf("PerMeter[%s] differs between calls", m)
		}
	}
}

func TestCompute_ThresholdMonotonicity(t *testing.T) {
	table := testRates(t)
	small := usage.Record{AICredits: 3, ScheduledPosts: 1, StorageGB: 0.5}
	large := usage.Record{AICredits: 30, ScheduledPosts: 1, StorageGB: 2.5}

	if Compute(table, large).TotalCents < Compute(table, small).TotalCents {
		t.Error("greater usage produced a smaller total")
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{250, "$2.50"},
		{799, "$7.99"},
		{10000, "$100.00"},
		{-150, "-$1.50"},
	}

	for _, tt := range tests {
		if got := FormatCents(tt.cents); got != tt.want {
			t.Errorf("FormatCents(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
