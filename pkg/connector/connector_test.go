package connector

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/iec61851"
	"github.com/pazzk-labs/evse-go/pkg/ocppmsg"
)

type fakeSender struct{ sent [][]byte }

func (f *fakeSender) Send(_ context.Context, data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func newTestConnector(t *testing.T) (*Connector, *fakeSender) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	sender := &fakeSender{}
	adapter := ocppmsg.NewAdapter(sender, 8, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)
	c := New(Config{ID: 1, Adapter: adapter, Now: func() time.Time { return now }})
	return c, sender
}

func TestStep_PluggingInEntersPreparing(t *testing.T) {
	c, _ := newTestConnector(t)
	c.state = StateAvailable

	if err := c.Step(context.Background(), iec61851.StateB); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StatePreparing {
		t.Fatalf("state = %v, want Preparing", c.State())
	}
}

func TestTryOccupy_RejectsWhenAlreadyOccupied(t *testing.T) {
	c, _ := newTestConnector(t)
	c.authCurrent = "already-here"

	if err := c.tryOccupy("new-tag"); err == nil {
		t.Fatal("expected error when already occupied")
	}
}

func TestSetAvailability_DefersWhileCharging(t *testing.T) {
	c, _ := newTestConnector(t)
	c.state = StateCharging

	if err := c.SetAvailability(1, false); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if c.State() != StateCharging {
		t.Fatalf("state changed to %v, want still Charging (deferred)", c.State())
	}
	if c.operative {
		t.Fatal("expected operative flag to be cleared even though state transition is deferred")
	}
}

func TestTryOccupy_CommitsOnlyAfterAuthorizeAccepted(t *testing.T) {
	c, _ := newTestConnector(t)
	c.state = StateAvailable

	if err := c.tryOccupy("tag-1"); err != nil {
		t.Fatalf("tryOccupy: %v", err)
	}
	if c.authCurrent != "" {
		t.Fatal("authCurrent must not be set before Authorize.conf arrives")
	}
	if c.authTrialMsgID == "" {
		t.Fatal("expected a pending Authorize message id")
	}

	conf := ocppmsg.AuthorizeConf{IDTagInfo: ocppmsg.IDTagInfo{Status: "Accepted"}}
	reply, err := ocppmsg.NewCallResult(c.authTrialMsgID, conf)
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	data, err := ocppmsg.Encode(reply)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := c.adapter.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if err := c.adapter.HandleIncoming(context.Background(), 0, data); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	if err := c.Step(context.Background(), iec61851.StateA); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.authCurrent != "tag-1" {
		t.Fatalf("authCurrent = %q, want tag-1 once Authorize.conf is resolved", c.authCurrent)
	}
}

func TestStepEnergized_WaitsForStartTransactionConf(t *testing.T) {
	c, _ := newTestConnector(t)
	c.state = StatePreparing
	c.authCurrent = "tag-1"

	if err := c.Step(context.Background(), iec61851.StateC); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StatePreparing {
		t.Fatalf("state = %v, want still Preparing before StartTransaction.conf", c.State())
	}
	if c.transactionID != 0 {
		t.Fatal("transactionID must stay 0 until the CSMS assigns one")
	}
	if c.startTxMsgID == "" {
		t.Fatal("expected a pending StartTransaction message id")
	}

	conf := ocppmsg.StartTransactionConf{TransactionID: 42, IDTagInfo: ocppmsg.IDTagInfo{Status: "Accepted"}}
	reply, err := ocppmsg.NewCallResult(c.startTxMsgID, conf)
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	data, err := ocppmsg.Encode(reply)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := c.adapter.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if err := c.adapter.HandleIncoming(context.Background(), 0, data); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	if err := c.Step(context.Background(), iec61851.StateC); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.transactionID != 42 {
		t.Fatalf("transactionID = %d, want 42 (CSMS-assigned)", c.transactionID)
	}
	if c.State() != StateCharging {
		t.Fatalf("state = %v, want Charging once transactionID is assigned", c.State())
	}
}

func TestStep_BootingBlocksTransitionUntilAccepted(t *testing.T) {
	c, _ := newTestConnector(t)
	// c.state is StateBooting by default (New's initial state).

	if err := c.Step(context.Background(), iec61851.StateA); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StateBooting {
		t.Fatalf("state = %v, want still Booting before BootNotification.conf", c.State())
	}

	c.SetBootAccepted()
	if err := c.Step(context.Background(), iec61851.StateA); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StateAvailable {
		t.Fatalf("state = %v, want Available once boot is accepted", c.State())
	}
}

func TestUnexpectedFault_EntersFaultedState(t *testing.T) {
	c, _ := newTestConnector(t)
	c.state = StateCharging

	if err := c.Step(context.Background(), iec61851.StateF); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StateFaulted {
		t.Fatalf("state = %v, want Faulted", c.State())
	}
}
