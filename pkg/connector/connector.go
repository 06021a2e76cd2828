// Package connector implements the OCPP connector state machine:
// the per-connector view layered on top of the IEC 61851
// pilot FSM (pkg/iec61851), tracking availability, authorization, and
// transaction lifecycle, and driving StatusNotification/StartTransaction/
// StopTransaction/MeterValues over the message adapter (pkg/ocppmsg).
//
// Grounded on mash-go's pkg/zone state-container pattern (a mutex-
// guarded struct with a map of typed sub-states and callback hooks),
// adapted here to a single fixed enum rather than a dynamic zone graph.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/checkpoint"
	"github.com/pazzk-labs/evse-go/pkg/everr"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
	"github.com/pazzk-labs/evse-go/pkg/iec61851"
	"github.com/pazzk-labs/evse-go/pkg/meter"
	"github.com/pazzk-labs/evse-go/pkg/ocppmsg"
)

// State is the OCPP connector status.
type State int

const (
	StateBooting State = iota
	StateAvailable
	StatePreparing
	StateCharging
	StateSuspendedEV
	StateSuspendedEVSE
	StateFinishing
	StateUnavailable
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "Booting"
	case StateAvailable:
		return "Available"
	case StatePreparing:
		return "Preparing"
	case StateCharging:
		return "Charging"
	case StateSuspendedEV:
		return "SuspendedEV"
	case StateSuspendedEVSE:
		return "SuspendedEVSE"
	case StateFinishing:
		return "Finishing"
	case StateUnavailable:
		return "Unavailable"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// StopReason is StopTransaction.req's reason field (the
// "stop-reason selection").
type StopReason string

const (
	StopReasonLocal          StopReason = "Local"
	StopReasonEVDisconnected StopReason = "EVDisconnected"
	StopReasonRemote         StopReason = "Remote"
	StopReasonPowerLoss      StopReason = "PowerLoss"
	StopReasonOther          StopReason = "Other"
	StopReasonHardReset      StopReason = "HardReset"
)

// meteringErrorBudget matches the metering-error rate-limit token
// bucket: capacity 10, refilled 1 every 2 seconds,
// so a persistently broken meter logs at most once every 2s instead of
// flooding the log filesystem at the connector's 10ms step rate.
const (
	meterErrorBudgetCapacity = 10
	meterErrorBudgetRefill   = 2 * time.Second
)

// Connector is one physical connector's OCPP-facing state machine.
type Connector struct {
	mu sync.Mutex

	id      int
	state   State
	pwmFSM  *iec61851.FSM
	meter   meter.Accessor
	adapter *ocppmsg.Adapter
	cp      *checkpoint.Store
	logger  evlog.Logger
	now     func() time.Time

	authCurrent    string // id tag presently occupying this connector
	authTrial      string // id tag mid-Authorize.req, not yet granted
	authTrialMsgID string // message ID of the in-flight Authorize.req, if any

	transactionID int
	startTxMsgID  string // message ID of the in-flight StartTransaction.req, if any
	sessionStart  time.Time

	meterTokens    int
	meterLastFill  time.Time
	lastSampleTime time.Time

	operative    bool
	bootAccepted bool // set once BootNotification.conf is Accepted (see Charger)
}

type Config struct {
	ID      int
	PWM     *iec61851.FSM
	Meter   meter.Accessor
	Adapter *ocppmsg.Adapter
	Store   *checkpoint.Store
	Logger  evlog.Logger
	Now     func() time.Time
}

func New(cfg Config) *Connector {
	logger := cfg.Logger
	if logger == nil {
		logger = evlog.NoopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Connector{
		id:            cfg.ID,
		state:         StateBooting,
		pwmFSM:        cfg.PWM,
		meter:         cfg.Meter,
		adapter:       cfg.Adapter,
		cp:            cfg.Store,
		logger:        logger,
		now:           now,
		operative:     true,
		meterTokens:   meterErrorBudgetCapacity,
		meterLastFill: now(),
	}
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetAvailability implements ocppmsg.ConnectorControl. A connector can
// only be made Unavailable when it is not mid-transaction (availability
// changes while Charging are deferred, not applied
// immediately, to avoid tearing down a live session).
func (c *Connector) SetAvailability(connectorID int, operative bool) error {
	if connectorID != c.id && connectorID != 0 {
		return fmt.Errorf("connector: id %d does not match %d", connectorID, c.id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !operative {
		if c.state == StateCharging || c.state == StateSuspendedEV {
			c.operative = false // deferred: applied at the next Finishing transition
			return nil
		}
		c.operative = false
		c.state = StateUnavailable
		return nil
	}

	c.operative = true
	if c.state == StateUnavailable {
		c.state = StateAvailable
	}
	return nil
}

// RemoteStart implements ocppmsg.ConnectorControl.
func (c *Connector) RemoteStart(connectorID int, idTag string) error {
	if connectorID != c.id {
		return fmt.Errorf("connector: id %d does not match %d", connectorID, c.id)
	}
	return c.tryOccupy(idTag)
}

// RemoteStop implements ocppmsg.ConnectorControl.
func (c *Connector) RemoteStop(transactionID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transactionID != transactionID {
		return everr.New(everr.ClassProtocol, "RemoteStop", fmt.Errorf("no such transaction %d", transactionID))
	}
	return c.releaseLocked(StopReasonRemote)
}

// Unlock implements ocppmsg.ConnectorControl. This model has no
// physical lock actuator (this connector is a fixed cable), so
// unlock is only meaningful as a no-op acknowledgement when the
// connector is not mid-transaction.
func (c *Connector) Unlock(connectorID int) error {
	if connectorID != c.id {
		return fmt.Errorf("connector: id %d does not match %d", connectorID, c.id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCharging {
		return everr.New(everr.ClassProtocol, "Unlock", fmt.Errorf("connector is charging"))
	}
	return nil
}

// tryOccupy implements the authorization flow: a trial id
// tag is recorded, an Authorize.req is pushed, and occupancy commits
// only once the CSMS accepts it (see pollAuthorizeLocked).
func (c *Connector) tryOccupy(idTag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authCurrent != "" {
		return everr.ErrAlreadyOccupied
	}
	id, err := c.adapter.PushRequest(ocppmsg.ActionAuthorize, c.id, ocppmsg.AuthorizeReq{IDTag: idTag})
	if err != nil {
		return err
	}
	c.authTrial = idTag
	c.authTrialMsgID = id
	return nil
}

// pollAuthorizeLocked checks whether the in-flight Authorize.req has
// been answered and, if so, commits or discards the trial id tag. It
// must be called with c.mu held, once per Step, so production code
// never learns about the result any other way than the real reply.
func (c *Connector) pollAuthorizeLocked() {
	if c.authTrialMsgID == "" {
		return
	}
	result, ok := c.adapter.Poll(c.authTrialMsgID)
	if !ok {
		return
	}
	c.authTrialMsgID = ""

	if result.ErrorCode != "" || result.TimedOut {
		c.authTrial = ""
		return
	}
	var conf ocppmsg.AuthorizeConf
	if err := json.Unmarshal(result.Payload, &conf); err != nil {
		c.authTrial = ""
		return
	}
	c.handleAuthorizeResultLocked(conf.IDTagInfo.Status == "Accepted")
}

// HandleAuthorizeResult commits or discards the trial id tag given a
// decoded acceptance verdict. Exported so tests can drive the commit
// logic directly; production code reaches it through
// pollAuthorizeLocked, which decodes the real Authorize.conf.
func (c *Connector) HandleAuthorizeResult(accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleAuthorizeResultLocked(accepted)
}

func (c *Connector) handleAuthorizeResultLocked(accepted bool) {
	if !accepted {
		c.authTrial = ""
		return
	}
	c.authCurrent = c.authTrial
	c.authTrial = ""
	if c.state == StateAvailable || c.state == StatePreparing {
		c.state = StatePreparing
	}
}

// SetBootAccepted records that BootNotification.conf came back
// Accepted, unblocking the Booting->Available/Unavailable transition
// (see the iec61851.StateE/StateA case in Step). Called by Charger
// once, after it fans out the charge-point-wide boot result.
func (c *Connector) SetBootAccepted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bootAccepted = true
}

func (c *Connector) releaseLocked(reason StopReason) error {
	if c.authCurrent == "" {
		return everr.New(everr.ClassProtocol, "try_release", fmt.Errorf("connector not occupied"))
	}
	meterStop := 0
	if c.meter != nil {
		if r, err := c.meter.Read(); err == nil {
			meterStop = int(r.EnergyWh)
		}
	}
	_, _ = c.adapter.PushRequest(ocppmsg.ActionStopTransaction, c.id, ocppmsg.StopTransactionReq{
		TransactionID: c.transactionID,
		IDTag:         c.authCurrent,
		MeterStop:     meterStop,
		Timestamp:     c.now(),
		Reason:        string(reason),
	})
	c.authCurrent = ""
	c.transactionID = 0
	c.startTxMsgID = ""
	c.state = StateFinishing
	c.persist()
	return nil
}

func (c *Connector) persist() {
	if c.cp == nil {
		return
	}
	cp, err := c.cp.Load()
	if err != nil {
		return
	}
	cp.Connectors[c.id] = checkpoint.Connector{
		TransactionID: uint32(c.transactionID),
		Unavailable:   !c.operative,
	}
	_ = c.cp.Save(cp)
}

// refillMeterBudget tops up the token bucket at meterErrorBudgetRefill
// intervals, capped at meterErrorBudgetCapacity.
func (c *Connector) refillMeterBudget() {
	elapsed := c.now().Sub(c.meterLastFill)
	tokens := int(elapsed / meterErrorBudgetRefill)
	if tokens <= 0 {
		return
	}
	c.meterTokens += tokens
	if c.meterTokens > meterErrorBudgetCapacity {
		c.meterTokens = meterErrorBudgetCapacity
	}
	c.meterLastFill = c.meterLastFill.Add(time.Duration(tokens) * meterErrorBudgetRefill)
}

// Step advances the connector FSM by one 10ms tick (the
// connector task period), deriving its OCPP state from the underlying
// IEC 61851 pilot FSM's state and this connector's authorization and
// transaction bookkeeping. It also polls any in-flight Authorize.req
// or StartTransaction.req for a reply, and reports any resulting state
// change via StatusNotification.
func (c *Connector) Step(ctx context.Context, pilotState iec61851.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pollAuthorizeLocked()
	c.pollStartTransactionLocked()

	before := c.state
	var stepErr error

	switch {
	case !c.operative && c.state != StateCharging && c.state != StateSuspendedEV:
		c.state = StateUnavailable
	case c.state == StateBooting && !c.bootAccepted && pilotState != iec61851.StateF:
		// csms_up gate: no OCPP-level transition out of Booting until
		// BootNotification.conf comes back Accepted (see Charger).
	default:
		switch pilotState {
		case iec61851.StateF:
			if c.state != StateFaulted {
				c.state = StateFaulted
				c.logger.Log(evlog.NewEvent(evlog.LayerConnector, evlog.DirectionInternal, "fault", "pilot fsm entered F").WithConnector(c.id))
			}
		case iec61851.StateE, iec61851.StateA:
			if c.authCurrent != "" && (c.transactionID != 0 || c.state == StateCharging || c.state == StateSuspendedEV) {
				stepErr = c.releaseLocked(StopReasonEVDisconnected)
			} else if c.authCurrent != "" {
				// Authorized before plug-in: hold the session in Preparing.
				c.state = StatePreparing
			} else if c.operative {
				c.state = StateAvailable
			} else {
				c.state = StateUnavailable
			}
		case iec61851.StateB:
			if c.state == StateAvailable || c.state == StateBooting {
				c.state = StatePreparing
			}
		case iec61851.StateC, iec61851.StateD:
			stepErr = c.stepEnergized(ctx)
		}
	}

	c.maybeNotifyStatusLocked(before)
	return stepErr
}

func (c *Connector) stepEnergized(ctx context.Context) error {
	if c.authCurrent == "" {
		// plugged in and pilot wants power but no authorization yet:
		// stay in Preparing, nothing further to do this tick.
		if c.state != StatePreparing {
			c.state = StatePreparing
		}
		return nil
	}

	if c.transactionID == 0 {
		if c.startTxMsgID == "" {
			meterStart := 0
			if c.meter != nil {
				if r, err := c.meter.Read(); err == nil {
					meterStart = int(r.EnergyWh)
				}
			}
			c.sessionStart = c.now()
			id, err := c.adapter.PushRequest(ocppmsg.ActionStartTransaction, c.id, ocppmsg.StartTransactionReq{
				ConnectorID: c.id,
				IDTag:       c.authCurrent,
				MeterStart:  meterStart,
				Timestamp:   c.sessionStart,
			})
			if err == nil {
				c.startTxMsgID = id
			}
		}
		// StartTransaction.conf not received yet: hold in Preparing
		// until pollStartTransactionLocked assigns the CSMS id.
		if c.state != StatePreparing {
			c.state = StatePreparing
		}
		return nil
	}

	c.state = StateCharging
	c.sampleMeter(ctx)
	return nil
}

// pollStartTransactionLocked checks whether the in-flight
// StartTransaction.req has been answered and, if so, adopts the
// CSMS-assigned transaction ID. Must be called with c.mu held.
func (c *Connector) pollStartTransactionLocked() {
	if c.startTxMsgID == "" {
		return
	}
	result, ok := c.adapter.Poll(c.startTxMsgID)
	if !ok {
		return
	}
	c.startTxMsgID = ""

	if result.ErrorCode != "" || result.TimedOut {
		// stepEnergized re-sends next tick since transactionID is still 0.
		return
	}
	var conf ocppmsg.StartTransactionConf
	if err := json.Unmarshal(result.Payload, &conf); err != nil || conf.TransactionID == 0 {
		return
	}
	c.transactionID = conf.TransactionID
	c.persist()
}

// maybeNotifyStatusLocked pushes a StatusNotification.req when the
// state changed this Step and maps to an OCPP status (Booting has no
// OCPP status and is never reported). Must be called with c.mu held.
func (c *Connector) maybeNotifyStatusLocked(before State) {
	if c.state == before {
		return
	}
	status, errorCode := ocppStatus(c.state)
	if status == "" {
		return
	}
	_, _ = c.adapter.PushRequest(ocppmsg.ActionStatusNotification, c.id, ocppmsg.StatusNotificationReq{
		ConnectorID: c.id,
		ErrorCode:   errorCode,
		Status:      status,
		Timestamp:   c.now(),
	})
}

// ocppStatus maps a connector State to its StatusNotification.req
// status and errorCode fields; Booting has no OCPP status.
func ocppStatus(s State) (status, errorCode string) {
	switch s {
	case StateAvailable:
		return "Available", "NoError"
	case StatePreparing:
		return "Preparing", "NoError"
	case StateCharging:
		return "Charging", "NoError"
	case StateSuspendedEV:
		return "SuspendedEV", "NoError"
	case StateSuspendedEVSE:
		return "SuspendedEVSE", "NoError"
	case StateFinishing:
		return "Finishing", "NoError"
	case StateUnavailable:
		return "Unavailable", "NoError"
	case StateFaulted:
		return "Faulted", "GroundFailure"
	default:
		return "", ""
	}
}

// sampleMeter pushes a MeterValues.req on a clock-aligned cadence and
// debits the error-rate token bucket on read failure instead of
// logging every 10ms tick.
func (c *Connector) sampleMeter(ctx context.Context) {
	if c.meter == nil {
		return
	}
	now := c.now()
	if !c.lastSampleTime.IsZero() && now.Sub(c.lastSampleTime) < time.Minute {
		return
	}
	c.lastSampleTime = now

	r, err := c.meter.Read()
	if err != nil {
		c.refillMeterBudget()
		if c.meterTokens > 0 {
			c.meterTokens--
			c.logger.Log(evlog.NewEvent(evlog.LayerConnector, evlog.DirectionInternal, "meter_error", err.Error()).WithConnector(c.id))
		}
		return
	}

	txID := c.transactionID
	_, _ = c.adapter.PushRequest(ocppmsg.ActionMeterValues, c.id, ocppmsg.MeterValuesReq{
		ConnectorID:   c.id,
		TransactionID: &txID,
		MeterValue: []ocppmsg.MeterValue{{
			Timestamp: now,
			SampledValue: []ocppmsg.SampledValue{
				{Value: fmt.Sprintf("%d", r.EnergyWh), Measurand: "Energy.Active.Import.Register", Unit: "Wh"},
				{Value: fmt.Sprintf("%d", r.PowerW), Measurand: "Power.Active.Import", Unit: "W"},
			},
		}},
	})
}
