package observer

import "testing"

func TestCostCalculate(t *testing.T) {
	c := NewCostCalculator(nil)

	// gemini-2.0-flash: $0.10 in / $0.40 out per million.
	got := c.Calculate("gemini-2.0-flash", 1_000_000, 1_000_000)
	want := 0.50
	if got != want {
		t.Errorf("Calculate() = %v, want %v", got, want)
	}
}

func TestCostCalculateUnknownModel(t *testing.T) {
	c := NewCostCalculator(nil)
	if got := c.Calculate("unknown-model", 1000, 1000); got != 0 {
		t.Errorf("Calculate() = %v, want 0 for unknown model", got)
	}
}

func TestCostCalculateOverride(t *testing.T) {
	c := NewCostCalculator(map[string]ModelPricing{
		"gpt-4o":       {5.00, 20.00},
		"custom-model": {1.00, 2.00},
	})

	if got := c.Calculate("gpt-4o", 1_000_000, 0); got != 5.00 {
		t.Errorf("Calculate() = %v, want override pricing 5.00", got)
	}
	if got := c.Calculate("custom-model", 0, 500_000); got != 1.00 {
		t.Errorf("Calculate() = %v, want 1.00", got)
	}
}
