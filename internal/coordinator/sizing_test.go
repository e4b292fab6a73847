package coordinator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeSizingTruncatesDown(t *testing.T) {
	// 1000 * 3 / 97 = 30.927835... -> truncated to 30.927835 at 1e-6.
	sz, err := ComputeSizing(1000, 3, 97, 1e-6)
	if err != nil {
		t.Fatalf("sizing failed: %v", err)
	}
	if sz.Quantity != 30.927835 {
		t.Fatalf("quantity = %v, want 30.927835", sz.Quantity)
	}
}

func TestComputeSizingCollateralFromTruncatedQty(t *testing.T) {
	sz, err := ComputeSizing(1000, 3, 97, 1e-6)
	if err != nil {
		t.Fatalf("sizing failed: %v", err)
	}
	// collateral = 30.927835 * 97 / 3 rounded to cents.
	if sz.Collateral != 1000.00 {
		t.Fatalf("collateral = %v, want 1000.00", sz.Collateral)
	}
	if sz.Collateral > 1000 {
		t.Fatal("collateral must never exceed the configured notional")
	}
}

func TestComputeSizingExactDivision(t *testing.T) {
	sz, err := ComputeSizing(1000, 2, 100, 1e-6)
	if err != nil {
		t.Fatalf("sizing failed: %v", err)
	}
	if sz.Quantity != 20 {
		t.Fatalf("quantity = %v, want 20", sz.Quantity)
	}
	if sz.Collateral != 1000 {
		t.Fatalf("collateral = %v, want 1000", sz.Collateral)
	}
	if sz.Exposure != 2000 {
		t.Fatalf("exposure = %v, want 2000", sz.Exposure)
	}
}

func TestComputeSizingRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name                               string
		notional, leverage, price, lotTick float64
	}{
		{"zero price", 1000, 3, 0, 1e-6},
		{"zero notional", 0, 3, 97, 1e-6},
		{"zero leverage", 1000, 0, 97, 1e-6},
		{"zero tick", 1000, 3, 97, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ComputeSizing(tc.notional, tc.leverage, tc.price, tc.lotTick); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestComputeSizingBelowOneTick(t *testing.T) {
	// 0.01 * 1 / 1000000 is far below one 1e-6 tick.
	if _, err := ComputeSizing(0.01, 1, 1000000, 1e-6); err == nil {
		t.Fatal("expected sub-tick quantity to be rejected")
	}
}

func TestTruncateToTickIdempotent(t *testing.T) {
	qty := decimal.NewFromFloat(30.927835)
	once := TruncateToTick(qty, 1e-6)
	twice := TruncateToTick(once, 1e-6)
	if !once.Equal(twice) {
		t.Fatalf("truncation should be idempotent: %s vs %s", once, twice)
	}
	if once.GreaterThan(qty) {
		t.Fatal("truncation must never round up")
	}
}
