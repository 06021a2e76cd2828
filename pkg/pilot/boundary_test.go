package pilot

import "testing"

func testBoundaries() Boundaries {
	return Boundaries{
		Upward:   BoundaryTable{A: 11000, B: 9000, C: 6000, D: 3000},
		Downward: BoundaryTable{A: 11500, B: 9500, C: 6500, D: 3500},
		E:        900,
	}
}

func TestClassify_HysteresisAtBoundaryB(t *testing.T) {
	b := testBoundaries()

	// The rule is: "highs_max on exactly upward.b classifies as B when
	// moving up" - starting from A and crossing exactly to upward.b
	// resolves to B via the re-evaluation path, not straight downward
	// classification (which alone would read C at this voltage).
	got := b.Classify(StateA, 9000, 0)
	if got != StateB {
		t.Errorf("moving up at upward.b: got %v want B", got)
	}
}

func TestClassify_DownwardRelaxedOnRelease(t *testing.T) {
	b := testBoundaries()

	// Releasing from B straight to A at exactly downward.A needs no
	// hysteresis re-check: the downward table alone already reports a
	// lower-rank (higher voltage) state than prev, so it is accepted.
	got := b.Classify(StateB, 11500, 0)
	if got != StateA {
		t.Errorf("release at downward.a: got %v want A", got)
	}
}

func TestClassify_DiodeFaultOverride(t *testing.T) {
	b := testBoundaries()
	got := b.Classify(StateC, 6500, 1000)
	if got != StateE {
		t.Errorf("low excursion beyond e must assert E, got %v", got)
	}
}
