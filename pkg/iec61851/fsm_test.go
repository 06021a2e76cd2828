package iec61851

import (
	"testing"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/pilot"
	"github.com/pazzk-labs/evse-go/pkg/relay"
)

type fakePWM struct {
	started bool
	duty    float64
}

func (p *fakePWM) Start(dutyPct float64) { p.started = true; p.duty = dutyPct }
func (p *fakePWM) Stop()                 { p.started = false }

type fakeRelayDriver struct{ duties []int }

func (d *fakeRelayDriver) SetDutyPct(pct int) { d.duties = append(d.duties, pct) }

func newTestFSM(now func() time.Time) (*FSM, *fakePWM, *fakeRelayDriver) {
	pwm := &fakePWM{}
	drv := &fakeRelayDriver{}
	r := relay.NewRelay(relay.Config{}, drv, func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(time.Hour, f) // pickup->hold irrelevant to this test
	})
	return New(pwm, r, 25, now), pwm, drv
}

// TestFreeModePlugChargeUnplug exercises the full free-mode cycle:
// initial state E, plug -> B, EV ready -> C with relay energized,
// unplug -> A with relay and PWM off.
func TestFreeModePlugChargeUnplug(t *testing.T) {
	now := time.Unix(1000, 0)
	f, pwm, drv := newTestFSM(func() time.Time { return now })

	if f.State() != StateE {
		t.Fatalf("initial state must be E, got %v", f.State())
	}

	// Settle E->A: no commanded/measured duty yet.
	f.Step(Input{CommandedDuty: 0, MeasuredDuty: 0, InputPowerOK: true})
	if f.State() != StateA {
		t.Fatalf("expected A after settle, got %v", f.State())
	}

	// Plug EV: pilot=B -> start PWM, B.
	f.Step(Input{Pilot: pilot.StateB, CommandedDuty: 5, InputPowerOK: true})
	if f.State() != StateB || !pwm.started {
		t.Fatalf("expected B with PWM started, got state=%v pwm=%v", f.State(), pwm.started)
	}

	// EV ready: pilot=C with PWM present -> energize relay, C.
	f.Step(Input{Pilot: pilot.StateC, PWMPresent: true, CommandedDuty: 25,
		MeasuredDuty: 25, InputPowerOK: true, OutputPowerOK: true})
	if f.State() != StateC {
		t.Fatalf("expected C, got %v", f.State())
	}
	if len(drv.duties) == 0 || drv.duties[0] != relay.DefaultPickupPct {
		t.Fatalf("expected relay pickup duty driven, got %v", drv.duties)
	}

	// Unplug: pilot=A -> relay off, PWM off, A.
	f.Step(Input{Pilot: pilot.StateA, CommandedDuty: 25, InputPowerOK: true})
	if f.State() != StateA {
		t.Fatalf("expected A after unplug, got %v", f.State())
	}
	if pwm.started {
		t.Fatal("PWM must stop on unplug")
	}
	if drv.duties[len(drv.duties)-1] != 0 {
		t.Fatalf("relay must de-energize on unplug, last duty=%d", drv.duties[len(drv.duties)-1])
	}
}

// TestStateA_ProductionWiringAcceptsPlugIn guards against the
// CommandedDuty feedback loop: production code assembles each Input's
// CommandedDuty from FSM.CommandedDuty() itself, which is always 0 in
// state A, so evseError must never key off CommandedDuty==0 or state A
// could never observe pilot=B.
func TestStateA_ProductionWiringAcceptsPlugIn(t *testing.T) {
	now := time.Unix(3000, 0)
	f, pwm, _ := newTestFSM(func() time.Time { return now })

	f.Step(Input{CommandedDuty: f.CommandedDuty(), MeasuredDuty: 0, InputPowerOK: true})
	if f.State() != StateA {
		t.Fatalf("expected A after settle, got %v", f.State())
	}

	f.Step(Input{Pilot: pilot.StateB, CommandedDuty: f.CommandedDuty(), InputPowerOK: true})
	if f.State() != StateB || !pwm.started {
		t.Fatalf("expected B with PWM started using self-reported duty, got state=%v pwm=%v", f.State(), pwm.started)
	}
}

func TestFaultRecoversAfterTimeout(t *testing.T) {
	now := time.Unix(2000, 0)
	f, _, _ := newTestFSM(func() time.Time { return now })
	f.Step(Input{CommandedDuty: 0, MeasuredDuty: 0, InputPowerOK: true}) // E->A

	f.Step(Input{Pilot: pilot.StateE, CommandedDuty: 25, InputPowerOK: true}) // A->F (impossible pilot)
	if f.State() != StateF {
		t.Fatalf("expected F, got %v", f.State())
	}

	now = now.Add(FreeModeRecoveryTimeout - time.Second)
	f.Step(Input{InputPowerOK: true})
	if f.State() != StateF {
		t.Fatalf("must not recover before timeout, got %v", f.State())
	}

	now = now.Add(2 * time.Second)
	f.Step(Input{InputPowerOK: true, CommandedDuty: 0, MeasuredDuty: 0})
	if f.State() != StateA {
		t.Fatalf("expected recovery to A, got %v", f.State())
	}
}
