package ocppmsg

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/everr"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
)

// Sender delivers already-encoded bytes over the active websocket
// connection; the adapter does not own connection lifecycle (see
// pkg/csms for that).
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Handler processes one incoming CALL's payload and returns either a
// CALLRESULT payload or an error. Handlers named in the
// dispatch table live in handlers.go.
type Handler func(ctx context.Context, targetConnector int, payload []byte) (any, error)

// DefaultRetryInterval and DefaultRetryAttempts are the
// TransactionMessageRetryInterval/Attempts defaults.
const (
	DefaultRetryInterval = 60 * time.Second
	DefaultRetryAttempts = 3
)

// Adapter is the OCPP message adapter: it owns the outbound
// Queue, correlates CALLRESULT/CALLERROR replies against pending CALLs
// by message ID, dispatches inbound CALLs to registered Handlers, and
// retries unanswered CALLs up to RetryAttempts times.
type Adapter struct {
	mu       sync.Mutex
	queue    *Queue
	sender   Sender
	handlers map[string]Handler
	inflight map[string]*inflightEntry
	now      func() time.Time
	rng      *rand.Rand
	logger   evlog.Logger

	RetryInterval time.Duration
	RetryAttempts int
}

type inflightEntry struct {
	pending Pending
	sentAt  time.Time
	result  chan Result
}

// Result is the outcome of a CALL: either a CALLRESULT payload or a
// CALLERROR's code/description, or a timeout after RetryAttempts.
type Result struct {
	Payload          []byte
	ErrorCode        string
	ErrorDescription string
	TimedOut         bool
}

func NewAdapter(sender Sender, queueCapacity int, now func() time.Time, rng *rand.Rand, logger evlog.Logger) *Adapter {
	if logger == nil {
		logger = evlog.NoopLogger{}
	}
	return &Adapter{
		queue:         NewQueue(queueCapacity),
		sender:        sender,
		handlers:      make(map[string]Handler),
		inflight:      make(map[string]*inflightEntry),
		now:           now,
		rng:           rng,
		logger:        logger,
		RetryInterval: DefaultRetryInterval,
		RetryAttempts: DefaultRetryAttempts,
	}
}

// RegisterHandler wires a Handler for an inbound CSMS-initiated action.
func (a *Adapter) RegisterHandler(action string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[action] = h
}

// PushRequest enqueues a charger-initiated CALL and returns its message
// ID so the caller can later correlate the reply via Wait or Poll. It
// returns ErrNoSpace if the queue is full and action is not in
// ForcedActions.
func (a *Adapter) PushRequest(action string, targetConnector int, payload any) (string, error) {
	id := NewMessageID(a.now(), a.rng)
	env, err := NewCall(id, action, payload)
	if err != nil {
		return "", err
	}
	if err := a.queue.Push(Pending{
		ID:              id,
		Action:          action,
		Payload:         env.Payload,
		TargetConnector: targetConnector,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Drain pops and sends the next queued request, if any, tracking it as
// in-flight awaiting a reply.
func (a *Adapter) Drain(ctx context.Context) error {
	p, ok := a.queue.Pop()
	if !ok {
		return nil
	}

	env := Envelope{Role: RoleCall, ID: p.ID, Action: p.Action, Payload: p.Payload}
	data, err := Encode(env)
	if err != nil {
		return everr.New(everr.ClassProtocol, "ocppmsg.Drain", err)
	}

	a.mu.Lock()
	a.inflight[p.ID] = &inflightEntry{pending: p, sentAt: a.now(), result: make(chan Result, 1)}
	a.mu.Unlock()

	if err := a.sender.Send(ctx, data); err != nil {
		return everr.New(everr.ClassTransport, "ocppmsg.Drain", err)
	}
	a.logger.Log(evlog.NewEvent(evlog.LayerAdapter, evlog.DirectionOutbound, "call", "sent "+p.Action).
		WithConnector(p.TargetConnector).WithField("action", p.Action).WithField("id", p.ID))
	return nil
}

// CheckRetries requeues any in-flight CALL whose deadline has elapsed,
// up to RetryAttempts, and fails the rest with a timeout Result.
func (a *Adapter) CheckRetries() {
	now := a.now()
	a.mu.Lock()
	var expired []*inflightEntry
	for id, e := range a.inflight {
		if now.Sub(e.sentAt) >= a.RetryInterval {
			expired = append(expired, e)
			delete(a.inflight, id)
		}
	}
	a.mu.Unlock()

	for _, e := range expired {
		if e.pending.RetryCount < a.RetryAttempts {
			a.queue.Requeue(e.pending)
			continue
		}
		select {
		case e.result <- Result{TimedOut: true}:
		default:
		}
	}
}

// HandleIncoming decodes and dispatches a message received from the
// CSMS: CALL is routed to a registered Handler and a CALLRESULT or
// CALLERROR is sent back; CALLRESULT/CALLERROR resolve the matching
// in-flight entry by message ID.
func (a *Adapter) HandleIncoming(ctx context.Context, targetConnector int, data []byte) error {
	env, err := Decode(data)
	if err != nil {
		return everr.New(everr.ClassProtocol, "ocppmsg.HandleIncoming", err)
	}

	switch env.Role {
	case RoleCall:
		return a.handleCall(ctx, targetConnector, env)
	case RoleCallResult:
		a.resolve(env.ID, Result{Payload: env.Payload})
		return nil
	case RoleCallError:
		a.resolve(env.ID, Result{ErrorCode: env.ErrorCode, ErrorDescription: env.ErrorDescription})
		return nil
	default:
		return fmt.Errorf("ocppmsg: unknown role")
	}
}

func (a *Adapter) handleCall(ctx context.Context, targetConnector int, env Envelope) error {
	a.mu.Lock()
	h, ok := a.handlers[env.Action]
	a.mu.Unlock()

	if !ok {
		reply := NewCallError(env.ID, "NotImplemented", "no handler for "+env.Action)
		return a.sendEnvelope(ctx, reply)
	}

	result, err := h(ctx, targetConnector, env.Payload)
	if err != nil {
		code, desc := classifyHandlerError(err)
		return a.sendEnvelope(ctx, NewCallError(env.ID, code, desc))
	}

	reply, err := NewCallResult(env.ID, result)
	if err != nil {
		return a.sendEnvelope(ctx, NewCallError(env.ID, "InternalError", err.Error()))
	}
	return a.sendEnvelope(ctx, reply)
}

func (a *Adapter) sendEnvelope(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	return a.sender.Send(ctx, data)
}

// resolve delivers result to id's in-flight entry, if any. The entry
// stays in the map until Wait or Poll consumes it (or CheckRetries
// expires it), so a reply arriving before the caller calls Wait or Poll
// is not lost.
func (a *Adapter) resolve(id string, result Result) {
	a.mu.Lock()
	e, ok := a.inflight[id]
	a.mu.Unlock()
	if !ok {
		return
	}
	select {
	case e.result <- result:
	default:
	}
}

// Wait blocks until id's CALL resolves, the context is cancelled, or
// the adapter gives up after RetryAttempts. The in-flight entry is
// removed once a result is delivered.
func (a *Adapter) Wait(ctx context.Context, id string) (Result, error) {
	a.mu.Lock()
	e, ok := a.inflight[id]
	a.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("ocppmsg: %s is not in flight", id)
	}

	select {
	case r := <-e.result:
		a.mu.Lock()
		delete(a.inflight, id)
		a.mu.Unlock()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Poll performs a non-blocking check for id's result: it reports false
// both when id has not yet been answered and when id is not (or no
// longer) in flight. This is the cooperative-task counterpart to Wait,
// for callers stepping once per tick that cannot block waiting for a
// CSMS reply.
func (a *Adapter) Poll(id string) (Result, bool) {
	a.mu.Lock()
	e, ok := a.inflight[id]
	a.mu.Unlock()
	if !ok {
		return Result{}, false
	}

	select {
	case r := <-e.result:
		a.mu.Lock()
		delete(a.inflight, id)
		a.mu.Unlock()
		return r, true
	default:
		return Result{}, false
	}
}

func classifyHandlerError(err error) (code, desc string) {
	switch {
	case everr.Is(err, everr.ClassProtocol):
		return "FormationViolation", err.Error()
	default:
		return "InternalError", err.Error()
	}
}
