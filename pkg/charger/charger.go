// Package charger implements the OCPP charger coordinator: a thin
// layer stepping every connector, accumulating
// charger-wide flags, and dispatching inbound CSMS messages to the
// right connector. Grounded on mash-go's pkg/service top-level
// coordinator loop (step-everything-then-dispatch), simplified from its
// zone-graph model down to a fixed connector list.
package charger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/connector"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
	"github.com/pazzk-labs/evse-go/pkg/iec61851"
	"github.com/pazzk-labs/evse-go/pkg/ocppmsg"
)

// InboundQueueCapacity is the minimum bound: the
// dispatch queue for inbound CSMS messages holds at least 4 entries
// before applying back-pressure.
const InboundQueueCapacity = 4

// ConnectorUnit pairs a connector's OCPP FSM with the pilot FSM driving
// its physical state, so Charger.Step can advance both every tick.
type ConnectorUnit struct {
	Connector *connector.Connector
	Pilot     *iec61851.FSM
}

// Charger coordinates every connector in its units. It builds no
// connector-0 object for OCPP's virtual "whole charge point" connector;
// its only charge-point-wide request is BootNotification, pushed with
// target connector 0.
type Charger struct {
	mu                   sync.Mutex
	units                []ConnectorUnit
	adapter              *ocppmsg.Adapter
	logger               evlog.Logger
	now                  func() time.Time
	configurationChanged bool
	availabilityChanged  bool
	rebootRequired       bool
	rebootNotified       bool
	onRebootRequired     func()
	inbound              chan inboundMessage

	vendor       string
	model        string
	bootMsgID    string
	bootAccepted bool
}

type inboundMessage struct {
	targetConnector int
	data            []byte
}

type Config struct {
	Units            []ConnectorUnit
	Adapter          *ocppmsg.Adapter
	Logger           evlog.Logger
	Now              func() time.Time
	Vendor           string
	Model            string
	OnRebootRequired func()
}

func New(cfg Config) *Charger {
	logger := cfg.Logger
	if logger == nil {
		logger = evlog.NoopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Charger{
		units:            cfg.Units,
		adapter:          cfg.Adapter,
		logger:           logger,
		now:              now,
		inbound:          make(chan inboundMessage, InboundQueueCapacity),
		vendor:           cfg.Vendor,
		model:            cfg.Model,
		onRebootRequired: cfg.OnRebootRequired,
	}
}

// Units returns the charger's connector units, for callers that need to
// assemble per-connector Step input outside the charger package.
func (ch *Charger) Units() []ConnectorUnit {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.units
}

// Dispatch enqueues an inbound CSMS message for the next Step call to
// process. It blocks if the bounded queue is full, matching the
// back-pressure rule: CSMS-initiated requests are never dropped
// silently, only delayed.
func (ch *Charger) Dispatch(ctx context.Context, targetConnector int, data []byte) error {
	select {
	case ch.inbound <- inboundMessage{targetConnector: targetConnector, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkConfigurationChanged records that a ChangeConfiguration.req was
// applied, so Step can raise REBOOT_REQUIRED once the charger reaches a
// safe quiescent point.
func (ch *Charger) MarkConfigurationChanged(rebootRequired bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.configurationChanged = true
	if rebootRequired {
		ch.rebootRequired = true
	}
}

// MarkAvailabilityChanged records that a ChangeAvailability.req was
// applied, for the same accumulate-then-report pattern.
func (ch *Charger) MarkAvailabilityChanged() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.availabilityChanged = true
}

// RebootRequired reports whether a pending configuration change needs
// a reboot to take effect.
func (ch *Charger) RebootRequired() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.rebootRequired
}

// Step advances every connector by one pilot-FSM transition and one
// OCPP-FSM transition, then drains at most one pending inbound message,
// matching the "step each connector every 10ms" cadence
// (the caller's ticker drives the actual period; Step itself is
// tick-agnostic so tests can drive it directly).
func (ch *Charger) Step(ctx context.Context, inputs []iec61851.Input) error {
	ch.stepBoot()

	ch.mu.Lock()
	units := ch.units
	ch.mu.Unlock()

	for i, u := range units {
		if i >= len(inputs) {
			break
		}
		pilotState := u.Pilot.Step(inputs[i])
		if err := u.Connector.Step(ctx, pilotState); err != nil {
			ch.logger.Log(evlog.NewEvent(evlog.LayerCharger, evlog.DirectionInternal, "connector_step_error", err.Error()).WithConnector(i))
		}
	}

	ch.checkReboot()

	select {
	case msg := <-ch.inbound:
		return ch.adapter.HandleIncoming(ctx, msg.targetConnector, msg.data)
	default:
		return nil
	}
}

// stepBoot drives the charge-point-wide BootNotification handshake:
// push once, poll for the reply, and on Accepted fan out
// SetBootAccepted to every connector so each can leave Booting. A
// rejected or timed-out reply is retried from the next Step, since
// bootMsgID is cleared either way.
func (ch *Charger) stepBoot() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.bootAccepted {
		return
	}

	if ch.bootMsgID == "" {
		id, err := ch.adapter.PushRequest(ocppmsg.ActionBootNotification, 0, ocppmsg.BootNotificationReq{
			ChargePointVendor: ch.vendor,
			ChargePointModel:  ch.model,
		})
		if err == nil {
			ch.bootMsgID = id
		}
		return
	}

	result, ok := ch.adapter.Poll(ch.bootMsgID)
	if !ok {
		return
	}
	ch.bootMsgID = ""
	if result.ErrorCode != "" || result.TimedOut {
		return
	}

	var conf ocppmsg.BootNotificationConf
	if err := json.Unmarshal(result.Payload, &conf); err != nil || conf.Status != "Accepted" {
		return
	}

	ch.bootAccepted = true
	for _, u := range ch.units {
		u.Connector.SetBootAccepted()
	}
}

// checkReboot invokes onRebootRequired once, the first Step at which
// rebootRequired is set and every connector has reached a safe
// quiescent point.
func (ch *Charger) checkReboot() {
	ch.mu.Lock()
	pending := ch.rebootRequired && !ch.rebootNotified
	cb := ch.onRebootRequired
	ch.mu.Unlock()

	if !pending || cb == nil || !ch.safeToReboot() {
		return
	}

	ch.mu.Lock()
	ch.rebootNotified = true
	ch.mu.Unlock()
	cb()
}

// safeToReboot reports whether every connector is idle (neither
// Charging, SuspendedEV nor Preparing), the point at which a deferred configuration
// reboot can run without interrupting a session.
func (ch *Charger) safeToReboot() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, u := range ch.units {
		switch u.Connector.State() {
		case connector.StateCharging, connector.StateSuspendedEV, connector.StatePreparing:
			return false
		}
	}
	return true
}
