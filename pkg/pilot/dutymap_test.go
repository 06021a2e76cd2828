package pilot

import "testing"

func TestMilliampereFromDuty_Boundaries(t *testing.T) {
	cases := []struct {
		duty float64
		want int64
	}{
		{97, 80_000},
		{98, 0},
		{100, 0},
		{7, 0},
		{8, 6_000},
		{9.9, 6_000},
		{10, 6_000},
		{50, 30_000},
		{85, 51_000},
		{90, 65_000},
	}
	for _, c := range cases {
		got := MilliampereFromDuty(c.duty)
		if got != c.want {
			t.Errorf("MilliampereFromDuty(%v) = %v, want %v", c.duty, got, c.want)
		}
	}
}

func TestDutyFromMilliampere_RoundTripConservative(t *testing.T) {
	// duty_to_milliampere . milliampere_to_duty >= identity on the
	// supported range (the round-trip law), i.e. the recovered
	// duty must never imply more current than ma requested.
	for ma := int64(6_000); ma <= 80_000; ma += 1_000 {
		duty := DutyFromMilliampere(ma)
		back := MilliampereFromDuty(duty)
		if back > ma {
			t.Errorf("conservative rounding violated: ma=%d duty=%.1f back=%d", ma, duty, back)
		}
	}
}
