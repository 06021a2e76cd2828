package pilot

import "math"

// MilliampereFromDuty reproduces IEC 61851-1 Tables A.7/A.8: the
// EV-available-current implied by a commanded/measured duty cycle,
// expressed as a percentage (0-100).
func MilliampereFromDuty(dutyPercent float64) int64 {
	switch {
	case dutyPercent > 97:
		return 0
	case dutyPercent == 97:
		return 80_000
	case dutyPercent > 85:
		return int64(math.Round((dutyPercent - 64) * 2.5 * 1000))
	case dutyPercent >= 10:
		return int64(math.Round(dutyPercent * 0.6 * 1000))
	case dutyPercent >= 8:
		return 6_000
	default:
		return 0
	}
}

// DutyFromMilliampere is the conservative inverse of MilliampereFromDuty:
// it returns the smallest duty that an EV would be guaranteed not to
// exceed the requested current on, rounding toward the lower-current
// side wherever the forward map is not exactly invertible.
func DutyFromMilliampere(ma int64) float64 {
	switch {
	case ma <= 0:
		return 0
	case ma < 6_000:
		return 0
	case ma == 6_000:
		return 8
	case ma < 6_250: // 10% * 0.6A = 6A exactly at duty=10; below 6.25A return 9%, which also maps to 6A
		return 9
	case ma <= 51_000: // 85% * 0.6A = 51A
		return math.Floor(float64(ma) / 1000 / 0.6)
	case ma < 80_000:
		// (duty-64)*2.5A = ma/1000  =>  duty = ma/1000/2.5 + 64
		duty := math.Floor(float64(ma)/1000/2.5 + 64)
		if duty > 96 {
			duty = 96
		}
		return duty
	default:
		return 97
	}
}
