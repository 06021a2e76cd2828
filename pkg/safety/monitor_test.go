package safety

import (
	"testing"
	"time"
)

func TestMonitor_StaleBeforeFirstEdge(t *testing.T) {
	m := NewMonitor(60, func() time.Time { return time.Unix(0, 0) })
	v, _ := m.Check()
	if v != Stale {
		t.Errorf("expected Stale before first edge, got %v", v)
	}
}

func TestMonitor_EmergencyStopLatches(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMonitor(60, func() time.Time { return now })
	period := time.Second / 60
	for i := 0; i < 10; i++ {
		m.RecordEdge()
		now = now.Add(period)
	}
	m.AssertEmergencyStop()
	v, _ := m.Check()
	if v != EmergencyStop {
		t.Errorf("expected EmergencyStop, got %v", v)
	}
	m.ClearEmergencyStop()
	v, _ = m.Check()
	if v == EmergencyStop {
		t.Errorf("emergency stop should clear")
	}
}

func TestMonitor_AbnormalFrequency(t *testing.T) {
	now := time.Unix(2000, 0)
	m := NewMonitor(60, func() time.Time { return now })
	// Drive a full ring of 60 edges at 50Hz while expecting 60Hz -> should
	// flag abnormal.
	period := time.Second / 50
	for i := 0; i < 60; i++ {
		m.RecordEdge()
		now = now.Add(period)
	}
	v, freq := m.Check()
	if v != AbnormalFrequency {
		t.Errorf("expected AbnormalFrequency, got %v (freq=%.2f)", v, freq)
	}
}
