package charger

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/connector"
	"github.com/pazzk-labs/evse-go/pkg/iec61851"
	"github.com/pazzk-labs/evse-go/pkg/ocppmsg"
	"github.com/pazzk-labs/evse-go/pkg/pilot"
	"github.com/pazzk-labs/evse-go/pkg/relay"
)

type noopPWM struct{}

func (noopPWM) Start(float64) {}
func (noopPWM) Stop()         {}

type noopSender struct{}

func (noopSender) Send(context.Context, []byte) error { return nil }

func TestStep_AdvancesEachConnector(t *testing.T) {
	now := time.Unix(1700000000, 0)
	adapter := ocppmsg.NewAdapter(noopSender{}, 8, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)
	r := relay.NewRelay(relay.Config{}, nopDriver{}, nil)
	pwmFSM := iec61851.New(noopPWM{}, r, 50, func() time.Time { return now })
	conn := connector.New(connector.Config{ID: 1, Adapter: adapter, Now: func() time.Time { return now }})

	ch := New(Config{
		Units:   []ConnectorUnit{{Connector: conn, Pilot: pwmFSM}},
		Adapter: adapter,
		Now:     func() time.Time { return now },
	})

	input := iec61851.Input{Pilot: pilot.StateA, CommandedDuty: 50, MeasuredDuty: 0}
	if err := ch.Step(context.Background(), []iec61851.Input{input}); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

type nopDriver struct{}

func (nopDriver) SetDutyPct(int) {}

func TestStep_BootNotificationUnblocksConnectors(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sender := &recordingSender{}
	adapter := ocppmsg.NewAdapter(sender, 8, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)
	r := relay.NewRelay(relay.Config{}, nopDriver{}, nil)
	pwmFSM := iec61851.New(noopPWM{}, r, 50, func() time.Time { return now })
	conn := connector.New(connector.Config{ID: 1, Adapter: adapter, Now: func() time.Time { return now }})

	ch := New(Config{
		Units:   []ConnectorUnit{{Connector: conn, Pilot: pwmFSM}},
		Adapter: adapter,
		Now:     func() time.Time { return now },
		Vendor:  "acme",
		Model:   "evse-1",
	})

	input := iec61851.Input{Pilot: pilot.StateA, CommandedDuty: 0, MeasuredDuty: 0, InputPowerOK: true}
	if err := ch.Step(context.Background(), []iec61851.Input{input}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if conn.State() != connector.StateBooting {
		t.Fatalf("state = %v, want still Booting before BootNotification.conf", conn.State())
	}

	if err := adapter.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	env, err := ocppmsg.Decode(sender.last())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Action != ocppmsg.ActionBootNotification {
		t.Fatalf("sent action = %q, want BootNotification", env.Action)
	}
	reply, err := ocppmsg.NewCallResult(env.ID, ocppmsg.BootNotificationConf{Status: "Accepted", CurrentTime: now, Interval: 300})
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	data, err := ocppmsg.Encode(reply)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := adapter.HandleIncoming(context.Background(), 0, data); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	if err := ch.Step(context.Background(), []iec61851.Input{input}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if conn.State() != connector.StateAvailable {
		t.Fatalf("state = %v, want Available once BootNotification is accepted", conn.State())
	}
}

func TestStep_RebootRequiredFiresOnceSafe(t *testing.T) {
	now := time.Unix(1700000000, 0)
	adapter := ocppmsg.NewAdapter(noopSender{}, 8, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)
	r := relay.NewRelay(relay.Config{}, nopDriver{}, nil)
	pwmFSM := iec61851.New(noopPWM{}, r, 50, func() time.Time { return now })
	conn := connector.New(connector.Config{ID: 1, Adapter: adapter, Now: func() time.Time { return now }})
	conn.SetBootAccepted()

	rebootCount := 0
	ch := New(Config{
		Units:            []ConnectorUnit{{Connector: conn, Pilot: pwmFSM}},
		Adapter:          adapter,
		Now:              func() time.Time { return now },
		OnRebootRequired: func() { rebootCount++ },
	})
	ch.MarkConfigurationChanged(true)

	input := iec61851.Input{Pilot: pilot.StateA, CommandedDuty: 0, MeasuredDuty: 0}
	if err := ch.Step(context.Background(), []iec61851.Input{input}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rebootCount != 1 {
		t.Fatalf("rebootCount = %d, want 1 after a safe, idle connector", rebootCount)
	}

	if err := ch.Step(context.Background(), []iec61851.Input{input}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rebootCount != 1 {
		t.Fatalf("rebootCount = %d, want still 1 (fires once)", rebootCount)
	}
}

type recordingSender struct{ sent [][]byte }

func (s *recordingSender) Send(_ context.Context, data []byte) error {
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *recordingSender) last() []byte {
	return s.sent[len(s.sent)-1]
}
