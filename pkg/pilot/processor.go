package pilot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/everr"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
)

// ADC is the external collaborator that performs the blocking DMA read
// of a sample window (peripheral drivers are out of this module's scope).
type ADC interface {
	// Read blocks until count 12-bit codes have been captured and
	// returns them, along with the reference voltage in millivolts.
	Read(ctx context.Context, count int) (codes []int64, vrefMV int64, err error)
}

// StatusCallback is invoked when the published classification changes.
type StatusCallback func(prev, next State)

// Processor runs the periodic pilot sampling loop described in
// the pilot signal processor. It owns its own cache and watchdog deadline; callers
// read published windows through Cache without locking.
type Processor struct {
	cfg    Config
	adc    ADC
	cache  *Cache
	logger evlog.Logger
	onStat StatusCallback

	mu              sync.Mutex
	classification  State
	lastPublishedAt time.Time
	commandedDuty   float64
	outlierStreak   int
}

// NewProcessor constructs a Processor with an initial classification of
// E, matching the IEC 61851 FSM's "initial=E" rule.
func NewProcessor(cfg Config, adc ADC, logger evlog.Logger, onStat StatusCallback) *Processor {
	if logger == nil {
		logger = evlog.NoopLogger{}
	}
	return &Processor{
		cfg:            cfg,
		adc:            adc,
		cache:          NewCache(3),
		logger:         logger,
		onStat:         onStat,
		classification: StateE,
	}
}

// Cache exposes the waveform cache for readers (e.g. the IEC 61851 FSM).
func (p *Processor) Cache() *Cache { return p.cache }

// SetCommandedDuty records the duty currently being driven, used for the
// DUTY_MISMATCH check.
func (p *Processor) SetCommandedDuty(dutyPct float64) {
	p.mu.Lock()
	p.commandedDuty = dutyPct
	p.mu.Unlock()
}

// Tick runs one iteration of the sample/bucket/classify/publish algorithm:
// remove outliers, compute duty, classify, publish, and invoke the
// status callback on change. It returns a classed error when one of the
// pilot-integrity conditions is detected; the window is still
// published even when an error is returned; TOO_LONG_INTERVAL errors are
// reflected by the watchdog/interval check without touching the cache.
func (p *Processor) Tick(ctx context.Context) error {
	now := time.Now()
	if p.haveLastPublish() {
		elapsed := now.Sub(p.getLastPublish())
		maxInterval := time.Duration(2*p.cfg.ScanInterval) * time.Millisecond
		if elapsed > maxInterval {
			p.logger.Log(evlog.NewEvent(evlog.LayerPilot, evlog.DirectionInternal, "too_long_interval",
				"pilot window interval exceeded watchdog bound"))
			return everr.New(everr.ClassPilotIntegrity, "pilot.Tick", everr.ErrTooLongInterval)
		}
	}

	codes, vrefMV, err := p.adc.Read(ctx, p.cfg.SampleCount)
	if err != nil {
		return everr.New(everr.ClassHardwareTransient, "pilot.Tick", err)
	}

	w := BuildWindow(codes, vrefMV, p.cfg)

	p.mu.Lock()
	prev := p.classification
	commanded := p.commandedDuty
	next := p.cfg.Boundaries.Classify(prev, w.HighsMax, w.LowsMin)
	w.Classification = next
	p.classification = next
	p.lastPublishedAt = now
	p.mu.Unlock()

	p.cache.Publish(w)

	if next != prev {
		if p.onStat != nil {
			p.onStat(prev, next)
		}
		p.outlierStreak = 0
	} else if w.HighOutliers+w.LowOutliers > 0 {
		p.outlierStreak++
	} else {
		p.outlierStreak = 0
	}

	if inDeadBand(p.cfg.Boundaries, w.HighsMax) {
		return everr.New(everr.ClassPilotIntegrity, "pilot.Tick", everr.ErrFluctuating)
	}
	if err := checkDutyMismatch(commanded, w.MeasuredDutyPct); err != nil {
		return err
	}
	if p.outlierStreak > 0 && w.HighOutliers+w.LowOutliers > p.cfg.MaxTransitionClocks {
		return everr.New(everr.ClassPilotIntegrity, "pilot.Tick", everr.ErrAnomaly)
	}
	return nil
}

func (p *Processor) haveLastPublish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.lastPublishedAt.IsZero()
}

func (p *Processor) getLastPublish() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPublishedAt
}

// checkDutyMismatch implements the >1 percentage-point rule between the
// commanded and measured duty cycle.
func checkDutyMismatch(commandedPct, measuredPct float64) error {
	diff := commandedPct - measuredPct
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		return everr.New(everr.ClassPilotIntegrity, "pilot.checkDutyMismatch",
			fmt.Errorf("%w: commanded=%.1f measured=%.1f", everr.ErrDutyMismatch, commandedPct, measuredPct))
	}
	return nil
}

// inDeadBand reports whether highsMax falls strictly between any
// upward/downward pair of boundaries, the FLUCTUATING condition.
func inDeadBand(b Boundaries, highsMax int64) bool {
	pairs := [][2]int64{
		{b.Upward.A, b.Downward.A},
		{b.Upward.B, b.Downward.B},
		{b.Upward.C, b.Downward.C},
		{b.Upward.D, b.Downward.D},
	}
	for _, pair := range pairs {
		lo, hi := pair[0], pair[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if highsMax > lo && highsMax < hi {
			return true
		}
	}
	return false
}
