// Package relay implements the two-phase pickup/hold drive sequence for
// the charging relay coil.
package relay

import (
	"sync"
	"time"
)

// Defaults: pickup at 85% duty for 100ms, then hold at
// 52% duty, with a floor of 75%/20ms for pickup and 42% for hold.
const (
	MinPickupDutyPct = 75
	MinPickupHold    = 20 * time.Millisecond
	DefaultPickupPct = 85
	DefaultPickupFor = 100 * time.Millisecond
	MinHoldDutyPct   = 42
	DefaultHoldPct   = 52
)

// Driver is the external collaborator that actually drives the coil PWM
// (GPIO/PWM drivers are out of this module's scope).
type Driver interface {
	SetDutyPct(pct int)
}

// Config validates against the documented minimums; zero values fall back
// to the defaults.
type Config struct {
	PickupDutyPct int
	PickupFor     time.Duration
	HoldDutyPct   int
}

func (c Config) withDefaults() Config {
	if c.PickupDutyPct < MinPickupDutyPct {
		c.PickupDutyPct = DefaultPickupPct
	}
	if c.PickupFor < MinPickupHold {
		c.PickupFor = DefaultPickupFor
	}
	if c.HoldDutyPct < MinHoldDutyPct {
		c.HoldDutyPct = DefaultHoldPct
	}
	return c
}

// Relay drives the coil through pickup then hold via a single one-shot
// timer. Turning off immediately kills PWM and stops the timer,
// matching the "single one-shot timer" requirement.
type Relay struct {
	cfg         Config
	driver      Driver
	afterFunc   func(time.Duration, func()) *time.Timer
	mu          sync.Mutex
	energized   bool
	pickupTimer *time.Timer
}

// NewRelay constructs a Relay. afterFunc defaults to time.AfterFunc and
// may be overridden in tests to avoid real sleeps.
func NewRelay(cfg Config, driver Driver, afterFunc func(time.Duration, func()) *time.Timer) *Relay {
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) *time.Timer { return time.AfterFunc(d, f) }
	}
	return &Relay{cfg: cfg.withDefaults(), driver: driver, afterFunc: afterFunc}
}

// Energize starts the pickup phase; after PickupFor elapses it drops to
// the hold duty. A second call while already energized is a no-op.
func (r *Relay) Energize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.energized {
		return
	}
	r.energized = true
	r.driver.SetDutyPct(r.cfg.PickupDutyPct)
	r.pickupTimer = r.afterFunc(r.cfg.PickupFor, r.toHold)
}

func (r *Relay) toHold() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.energized {
		return
	}
	r.driver.SetDutyPct(r.cfg.HoldDutyPct)
}

// Deenergize immediately kills PWM and stops any pending pickup timer.
func (r *Relay) Deenergize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pickupTimer != nil {
		r.pickupTimer.Stop()
		r.pickupTimer = nil
	}
	r.energized = false
	r.driver.SetDutyPct(0)
}

// Energized reports whether the coil is currently driven (pickup or hold).
func (r *Relay) Energized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.energized
}
