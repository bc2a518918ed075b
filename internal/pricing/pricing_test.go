package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestRecalculate(t *testing.T) {
	tests := []struct {
		name     string
		oldPrice float64
		percent  float64
		want     float64
	}{
		{"markup 50 percent", 5.0, 50, 7.5},
		{"markup 10 percent", 6.0, 10, 6.6},
		{"markdown 25 percent", 8.0, -25, 6.0},
		{"zero percent", 12.5, 0, 12.5},
		{"zero price", 0, 40, 0},
		{"markdown to zero", 10, -100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recalculate(d(tt.oldPrice), d(tt.percent))
			if !got.Equal(d(tt.want)) {
				t.Errorf("Recalculate(%v, %v) = %s, want %v", tt.oldPrice, tt.percent, got, tt.want)
			}
		})
	}
}

// A markdown below -100% drives the price negative. The policy does not
// clamp; the result is simply what the formula yields.
func TestRecalculate_NoFloor(t *testing.T) {
	got := Recalculate(d(10), d(-150))
	if !got.Equal(d(-5)) {
		t.Errorf("expected -5, got %s", got)
	}
}
