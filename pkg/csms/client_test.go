package csms

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	pingErr  error
	readErr  error
	readOnce chan []byte
}

func (f *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case d, ok := <-f.readOnce:
		if !ok {
			return nil, errors.New("closed")
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) WriteMessage(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Ping(context.Context) error { return f.pingErr }
func (f *fakeConn) Close() error               { return nil }

type fakeDialer struct {
	conn    Conn
	failN   int
	dials   int
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.dials++
	if d.dials <= d.failN {
		return nil, errors.New("dial failed")
	}
	return d.conn, nil
}

func TestConnect_SucceedsAfterRetries(t *testing.T) {
	conn := &fakeConn{readOnce: make(chan []byte)}
	dialer := &fakeDialer{conn: conn, failN: 2}

	c := New(Config{
		Dialer:     dialer,
		URL:        "wss://example/ocpp",
		MinBackoff: time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		Rng:        rand.New(rand.NewSource(1)),
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", c.State())
	}
	if dialer.dials != 3 {
		t.Fatalf("dials = %d, want 3", dialer.dials)
	}
}

func TestKeepalive_DisconnectsAfterMaxMissedPongs(t *testing.T) {
	conn := &fakeConn{readOnce: make(chan []byte), pingErr: errors.New("no pong")}
	dialer := &fakeDialer{conn: conn}

	c := New(Config{Dialer: dialer, URL: "wss://example/ocpp", Rng: rand.New(rand.NewSource(1))})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < MaxMissedPongs; i++ {
		_ = c.Keepalive(context.Background())
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v, want Disconnected after %d missed pongs", c.State(), MaxMissedPongs)
	}
}
