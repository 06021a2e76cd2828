package pilot

import "testing"

func TestBuildWindow_SampleCountInvariant(t *testing.T) {
	cfg := Config{CutoffVoltageMV: 6000, NoiseToleranceMV: 200}
	codes := make([]int64, 500)
	for i := range codes {
		if i%2 == 0 {
			codes[i] = 4000 // -> 4000 mV at a 4096 mV ref: below the 6000 mV cutoff, so low bucket
		} else {
			codes[i] = 500
		}
	}
	w := BuildWindow(codes, 4096, cfg)

	total := w.Highs + w.Lows + w.HighOutliers + w.LowOutliers
	if total != len(codes) {
		t.Errorf("highs+lows+outliers = %d, want sample_count = %d", total, len(codes))
	}
}
