package metricfs

import (
	"testing"
	"time"
)

func TestAppendAndRetention(t *testing.T) {
	fs, err := New(Config{Dir: t.TempDir(), MaxEntries: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 5; i++ {
		_, err := fs.Append(Sample{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Fields:    map[string]any{"energy_wh": int64(i * 100)},
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	count, err := fs.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	samples, err := fs.Range()
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	// the oldest two (i=0,1) should have been pruned; first surviving is i=2
	got := samples[0].Fields["energy_wh"]
	if got != int64(200) {
		t.Errorf("oldest surviving sample energy_wh = %v, want 200", got)
	}
}

func TestGet_RoundTrip(t *testing.T) {
	fs, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := time.Unix(1700003600, 0).UTC()
	id, err := fs.Append(Sample{Timestamp: ts, Fields: map[string]any{"power_w": int64(7200)}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	s, err := fs.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !s.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", s.Timestamp, ts)
	}
	if s.Fields["power_w"] != int64(7200) {
		t.Errorf("power_w = %v, want 7200", s.Fields["power_w"])
	}
}
