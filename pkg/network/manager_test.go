package network

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeIface struct {
	pingErr error
}

func (f *fakeIface) Start(ctx context.Context) error   { return nil }
func (f *fakeIface) Stop() error                       { return nil }
func (f *fakeIface) Enable(ctx context.Context) error   { return nil }
func (f *fakeIface) Disable() error                     { return nil }
func (f *fakeIface) Ping(ctx context.Context, t string) error { return f.pingErr }

func TestManager_ConnectedRunsOneShotTasks(t *testing.T) {
	m := NewManager(&fakeIface{}, nil, "gw", func() time.Time { return time.Unix(0, 0) })
	ran := 0
	m.RegisterTask(func() bool { ran++; return false })
	m.HandleEvent(context.Background(), EventIPAcquired)
	if m.State() != Connected {
		t.Fatalf("expected Connected, got %v", m.State())
	}
	if ran != 1 {
		t.Fatalf("expected task to run once, ran %d times", ran)
	}
}

func TestManager_DisconnectThenExhausted(t *testing.T) {
	iface := &fakeIface{pingErr: errors.New("down")}
	m := NewManager(iface, nil, "gw", func() time.Time { return time.Unix(0, 0) })
	m.HandleEvent(context.Background(), EventIPAcquired)
	for i := 0; i < DefaultMaxAttempts+1; i++ {
		m.HandleEvent(context.Background(), EventDisconnected)
	}
	if m.State() != Exhausted {
		t.Fatalf("expected Exhausted after max attempts, got %v", m.State())
	}
}
