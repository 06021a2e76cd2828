// Package network implements the single-interface-at-a-time supervisor
// described below: substate machine, bounded exponential
// backoff with jitter, periodic health-check ping, NTP time sync on
// connect, and a one-shot/re-armable task registry.
package network

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Substate is one of the Off->...->Connected states.
type Substate int

const (
	Off Substate = iota
	Initializing
	Initialized
	Enabling
	Enabled
	Connecting
	Connected
	Exhausted
)

func (s Substate) String() string {
	switch s {
	case Off:
		return "off"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// NetifEvent is one of the netif-driven inputs.
type NetifEvent int

const (
	EventStarted NetifEvent = iota
	EventStopped
	EventConnected
	EventDisconnected
	EventIPAcquired
)

// Retry policy defaults.
const (
	DefaultMinBackoff        = 10 * time.Second
	DefaultMaxBackoff        = 5 * time.Minute
	DefaultMaxAttempts       = 200
	DefaultHealthCheckPeriod = 60 * time.Second
)

// Interface is the external collaborator representing the link-layer
// driver (Wi-Fi/Ethernet link managers are out of this module's scope).
type Interface interface {
	Start(ctx context.Context) error
	Stop() error
	Enable(ctx context.Context) error
	Disable() error
	Ping(ctx context.Context, target string) error
}

// TimeSyncer performs NTP synchronization on entry to Connected.
type TimeSyncer interface {
	Sync(ctx context.Context) error
}

// Task is a one-shot-by-default callback registered via RegisterTask.
// Returning true re-arms it for the next Connected tick.
type Task func() bool

// Manager supervises one network interface end to end.
type Manager struct {
	iface      Interface
	timeSync   TimeSyncer
	now        func() time.Time
	rng        *rand.Rand
	healthTgt  string
	healthEach time.Duration

	mu            sync.Mutex
	state         Substate
	attempt       int
	nextRetryAt   time.Time
	lastHealthAt  time.Time
	healthFailStk int
	tasks         []Task
}

// NewManager constructs a Manager in the Off substate.
func NewManager(iface Interface, timeSync TimeSyncer, healthTarget string, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		iface:      iface,
		timeSync:   timeSync,
		now:        now,
		rng:        rand.New(rand.NewSource(1)),
		healthTgt:  healthTarget,
		healthEach: DefaultHealthCheckPeriod,
		state:      Off,
	}
}

func (m *Manager) State() Substate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RegisterTask adds a callback fired once the manager reaches Connected.
func (m *Manager) RegisterTask(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
}

// Enable requests the interface be brought up and resets the attempt
// counter. Tick schedules no retries from Exhausted, so Enable is the
// only call that resumes retrying; netif events passed to HandleEvent
// still change the substate from Exhausted.
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	m.state = Enabling
	m.attempt = 0
	m.mu.Unlock()

	if err := m.iface.Enable(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = Enabled
	m.mu.Unlock()
	return nil
}

func (m *Manager) Disable() error {
	err := m.iface.Disable()
	m.mu.Lock()
	m.state = Initialized
	m.mu.Unlock()
	return err
}

// backoff computes the bounded exponential delay with jitter for the
// given attempt count.
func (m *Manager) backoff(attempt int) time.Duration {
	d := DefaultMinBackoff
	for i := 0; i < attempt && d < DefaultMaxBackoff; i++ {
		d *= 2
	}
	if d > DefaultMaxBackoff {
		d = DefaultMaxBackoff
	}
	jitter := time.Duration(m.rng.Int63n(int64(DefaultMinBackoff)))
	return d + jitter
}

// HandleEvent applies one netif event to the state machine.
func (m *Manager) HandleEvent(ctx context.Context, ev NetifEvent) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch ev {
	case EventStarted:
		if state == Initializing {
			m.setState(Initialized)
		}
	case EventStopped:
		m.setState(Off)
	case EventConnected:
		m.setState(Connecting)
	case EventIPAcquired:
		m.onConnected(ctx)
	case EventDisconnected:
		m.onDisconnected(ctx)
	}
}

func (m *Manager) onConnected(ctx context.Context) {
	m.mu.Lock()
	m.state = Connected
	m.attempt = 0
	m.lastHealthAt = m.now()
	tasks := append([]Task(nil), m.tasks...)
	m.tasks = m.tasks[:0]
	m.mu.Unlock()

	if m.timeSync != nil {
		_ = m.timeSync.Sync(ctx)
	}

	var rearm []Task
	for _, t := range tasks {
		if t() {
			rearm = append(rearm, t)
		}
	}
	if len(rearm) > 0 {
		m.mu.Lock()
		m.tasks = append(m.tasks, rearm...)
		m.mu.Unlock()
	}
}

func (m *Manager) onDisconnected(ctx context.Context) {
	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	maxed := attempt >= DefaultMaxAttempts
	if maxed {
		m.state = Exhausted
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	m.nextRetryAt = m.now().Add(m.backoff(attempt))
	m.mu.Unlock()
}

func (m *Manager) setState(s Substate) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Tick drives periodic health-check pings while Connected and retry
// attempts while Connecting. It should be called from the dedicated
// network manager task.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	state := m.state
	now := m.now()
	dueRetry := state == Connecting && !m.nextRetryAt.IsZero() && !now.Before(m.nextRetryAt)
	dueHealth := state == Connected && now.Sub(m.lastHealthAt) >= m.healthEach
	m.mu.Unlock()

	if dueRetry {
		if err := m.iface.Ping(ctx, m.healthTgt); err == nil {
			m.onConnected(ctx)
		} else {
			m.onDisconnected(ctx)
		}
	}
	if dueHealth {
		m.mu.Lock()
		m.lastHealthAt = now
		m.mu.Unlock()
		if err := m.iface.Ping(ctx, m.healthTgt); err != nil {
			m.mu.Lock()
			m.healthFailStk++
			m.mu.Unlock()
			m.onDisconnected(ctx)
		} else {
			m.mu.Lock()
			m.healthFailStk = 0
			m.mu.Unlock()
		}
	}
}
