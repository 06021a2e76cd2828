// Package iec61851 implements the physical charging state machine
// described below: states A-F, relay and PWM command,
// governed by pilot classification, safety verdicts, and timing rules.
package iec61851

import (
	"time"

	"github.com/pazzk-labs/evse-go/pkg/pilot"
	"github.com/pazzk-labs/evse-go/pkg/relay"
)

// State is the physical connector state. Initial state is E.
type State uint8

const (
	StateA State = iota
	StateB
	StateC
	StateD
	StateE
	StateF
)

func (s State) String() string {
	switch s {
	case StateA:
		return "A"
	case StateB:
		return "B"
	case StateC:
		return "C"
	case StateD:
		return "D"
	case StateE:
		return "E"
	case StateF:
		return "F"
	default:
		return "unknown"
	}
}

// FreeModeRecoveryTimeout is the IEC 61851 EV response timeout used to
// recover from F back to A once the fault clears.
const FreeModeRecoveryTimeout = 6 * time.Second

// InitialStabilizationWindow is the single named constant resolving the
// open design question: the grace period after a state change
// before evse_error's output-power check is evaluated.
const InitialStabilizationWindow = 2 * time.Second

// Input bundles everything the FSM reads at each step.
type Input struct {
	Pilot          pilot.State
	PWMPresent     bool // true once C3 has started PWM at some nonzero duty
	CommandedDuty  float64
	MeasuredDuty   float64
	SupplyingPower bool
	InputPowerOK   bool
	OutputPowerOK  bool
	EmergencyStop  bool

	// DutyWithdrawn is the upstream command to withdraw the duty cycle
	// (curtailment, load-shed, or a deliberate implicit-F command),
	// distinct from FSM.CommandedDuty, which only reports what the FSM
	// itself is currently driving. evseError reads this, never the
	// FSM's own resting-state duty, so a caller that rebuilds Input
	// from FSM accessors each tick cannot fault itself by construction.
	DutyWithdrawn bool
}

// PWM is the external collaborator driving the CP line PWM.
type PWM interface {
	Start(dutyPct float64)
	Stop()
}

// FSM runs one connector's physical charging state machine.
type FSM struct {
	state        State
	enteredAt    time.Time
	now          func() time.Time
	pwm          PWM
	relay        *relay.Relay
	unexpectedF  int
	configDuty   float64
	lastGoodFrom time.Time // not read; the 2s output-power window is timed from enteredAt
}

// New constructs an FSM starting in state E.
func New(pwm PWM, r *relay.Relay, configDuty float64, now func() time.Time) *FSM {
	if now == nil {
		now = time.Now
	}
	return &FSM{state: StateE, enteredAt: now(), now: now, pwm: pwm, relay: r, configDuty: configDuty}
}

func (f *FSM) State() State { return f.state }

func (f *FSM) enter(s State) {
	f.state = s
	f.enteredAt = f.now()
}

// evseError implements the evse_error predicate.
func evseError(in Input, sinceStateChange time.Duration) bool {
	if in.DutyWithdrawn {
		return true
	}
	if !in.InputPowerOK {
		return true
	}
	if in.EmergencyStop {
		return true
	}
	if in.SupplyingPower && sinceStateChange >= InitialStabilizationWindow && !in.OutputPowerOK {
		return true
	}
	return false
}

// isReady reports the "pilot=C2/D2" shorthand: pilot
// classification is C or D and PWM is present.
func isReady(in Input) bool {
	return in.PWMPresent && (in.Pilot == pilot.StateC || in.Pilot == pilot.StateD)
}

// Step runs one FSM transition per the state table. It returns the
// resulting state; callers read FSM.State() for the same value.
func (f *FSM) Step(in Input) State {
	since := f.now().Sub(f.enteredAt)

	switch f.state {
	case StateE:
		if in.CommandedDuty == 0 && in.MeasuredDuty == 0 {
			f.pwm.Stop()
			f.enter(StateA)
		}

	case StateA:
		switch {
		case evseError(in, since):
			f.fault()
		case in.Pilot == pilot.StateB:
			f.pwm.Start(f.configDuty)
			f.enter(StateB)
		case in.Pilot == pilot.StateC || in.Pilot == pilot.StateD || in.Pilot == pilot.StateE:
			f.fault()
		}

	case StateB:
		switch {
		case in.Pilot == pilot.StateA:
			f.pwm.Stop()
			f.enter(StateA)
		case in.Pilot == pilot.StateE:
			f.fault()
		case isReady(in):
			f.relay.Energize()
			if in.Pilot == pilot.StateC {
				f.enter(StateC)
			} else {
				f.enter(StateD)
			}
		case evseError(in, since):
			f.fault()
		}

	case StateC, StateD:
		switch {
		case in.Pilot == pilot.StateA:
			f.relay.Deenergize()
			f.pwm.Stop()
			f.enter(StateA)
		case in.Pilot == pilot.StateB:
			f.relay.Deenergize()
			f.enter(StateB)
		case in.Pilot == pilot.StateE:
			f.relay.Deenergize()
			f.fault()
		case evseError(in, since):
			f.relay.Deenergize()
			f.fault()
		case f.state == StateC && in.Pilot == pilot.StateD:
			f.enter(StateD)
		case f.state == StateD && in.Pilot == pilot.StateC:
			f.enter(StateC)
		}

	case StateF:
		recoverable := in.InputPowerOK && !in.EmergencyStop && since >= FreeModeRecoveryTimeout
		if recoverable {
			f.pwm.Stop()
			f.enter(StateA)
		} else {
			f.unexpectedF++
		}
	}

	return f.state
}

// fault enters F, ensuring the relay is de-energized first (the
// universal invariant: relay de-energized in any target state other
// than C/D).
func (f *FSM) fault() {
	f.relay.Deenergize()
	f.pwm.Stop()
	f.enter(StateF)
}

// UnexpectedFaultCount reports how many times Step observed F·anything
// else, the UNEXPECTED counter.
func (f *FSM) UnexpectedFaultCount() int { return f.unexpectedF }

// CommandedDuty reports the duty percentage currently being driven on
// the CP line: 0 before PWM starts (states E/A), configDuty once it has
// (every other state). Callers assemble the next Input from this.
func (f *FSM) CommandedDuty() float64 {
	if f.state == StateE || f.state == StateA {
		return 0
	}
	return f.configDuty
}

// PWMPresent reports whether PWM has been started on the CP line, the
// same E/A-vs-rest split as CommandedDuty.
func (f *FSM) PWMPresent() bool {
	return f.state != StateE && f.state != StateA
}

// SupplyingPower reports whether the relay has been energized, true
// only in states C and D.
func (f *FSM) SupplyingPower() bool {
	return f.state == StateC || f.state == StateD
}
