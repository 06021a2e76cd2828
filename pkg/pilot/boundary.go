package pilot

// State is the IEC 61851-1 pilot classification. It is
// distinct from iec61851.State: this package only ever classifies the
// raw CP line, with no notion of relay or timing.
type State uint8

const (
	StateA State = iota
	StateB
	StateC
	StateD
	StateE
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
	default:
		return "unknown"
	}
}

// BoundaryTable holds the millivolt threshold at which the CP high
// excursion is classified into each state. Both upward and downward
// tables are in millivolts, high excursion above the boundary selects
// the state with lower boundary (closer to 0 V, i.e. higher CP voltage).
type BoundaryTable struct {
	A, B, C, D int64
}

// Boundaries pairs the rising (upward) and falling (downward) tables
// used for hysteresis classification, plus the diode-fault threshold e
// compared against the low excursion.
type Boundaries struct {
	Upward, Downward BoundaryTable
	E                int64 // low-excursion millivolts beyond which E (diode fault) is asserted
}

// Classify evaluates highsMax against
// downward; if that result indicates upward movement relative to prev,
// re-evaluate against upward (hysteresis); then override to E if
// lowsMin exceeds the E threshold.
func (b Boundaries) Classify(prev State, highsMax, lowsMin int64) State {
	next := classifyAgainst(b.Downward, highsMax)
	if rank(next) > rank(prev) {
		next = classifyAgainst(b.Upward, highsMax)
	}
	if lowsMin > b.E {
		return StateE
	}
	return next
}

// rank orders states by CP voltage descending (A highest, D lowest),
// so "upward movement" in state order (A toward D) means toward a
// higher rank number.
func rank(s State) int {
	switch s {
	case StateA:
		return 0
	case StateB:
		return 1
	case StateC:
		return 2
	case StateD:
		return 3
	default:
		return 4
	}
}

// DefaultBoundaries returns the nominal IEC 61851-1 CP voltage
// boundaries (12V/9V/6V/3V nominal, scaled to a 0-3300mV ADC range by a
// typical resistive divider) with a 100mV hysteresis gap between the
// upward and downward tables, and a diode-fault threshold of 500mV on
// the negative excursion.
func DefaultBoundaries() Boundaries {
	return Boundaries{
		Downward: BoundaryTable{A: 3000, B: 2500, C: 2000, D: 1500},
		Upward:   BoundaryTable{A: 3100, B: 2600, C: 2100, D: 1600},
		E:        500,
	}
}

func classifyAgainst(t BoundaryTable, highsMax int64) State {
	switch {
	case highsMax >= t.A:
		return StateA
	case highsMax >= t.B:
		return StateB
	case highsMax >= t.C:
		return StateC
	case highsMax >= t.D:
		return StateD
	default:
		return StateE
	}
}
