package ocppmsg

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu  sync.Mutex
	out [][]byte
}

func (f *fakeSender) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), data...))
	return nil
}

func (f *fakeSender) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return nil
	}
	return f.out[len(f.out)-1]
}

func TestAdapter_PushDrainResolve(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sender := &fakeSender{}
	a := NewAdapter(sender, 4, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)

	if _, err := a.PushRequest(ActionHeartbeat, 0, HeartbeatReq{}); err != nil {
		t.Fatalf("PushRequest: %v", err)
	}
	if err := a.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	env, err := Decode(sender.last())
	if err != nil {
		t.Fatalf("Decode sent message: %v", err)
	}
	if env.Action != ActionHeartbeat {
		t.Fatalf("sent action = %q, want Heartbeat", env.Action)
	}

	reply, err := NewCallResult(env.ID, HeartbeatConf{CurrentTime: now})
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	replyData, err := Encode(reply)
	if err != nil {
		t.Fatalf("Encode reply: %v", err)
	}

	if err := a.HandleIncoming(context.Background(), 0, replyData); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := a.Wait(ctx, env.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.TimedOut {
		t.Fatal("expected a resolved result, got timeout")
	}
}

func TestAdapter_PollNonBlocking(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sender := &fakeSender{}
	a := NewAdapter(sender, 4, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)

	id, err := a.PushRequest(ActionHeartbeat, 0, HeartbeatReq{})
	if err != nil {
		t.Fatalf("PushRequest: %v", err)
	}

	if _, ok := a.Poll(id); ok {
		t.Fatal("expected no result before Drain")
	}

	if err := a.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if _, ok := a.Poll(id); ok {
		t.Fatal("expected no result before a reply arrives")
	}

	reply, err := NewCallResult(id, HeartbeatConf{CurrentTime: now})
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	replyData, err := Encode(reply)
	if err != nil {
		t.Fatalf("Encode reply: %v", err)
	}
	if err := a.HandleIncoming(context.Background(), 0, replyData); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	result, ok := a.Poll(id)
	if !ok {
		t.Fatal("expected Poll to observe the resolved result")
	}
	if result.TimedOut {
		t.Fatal("expected a resolved result, got timeout")
	}
	if _, ok := a.Poll(id); ok {
		t.Fatal("expected the in-flight entry to be consumed by the first Poll")
	}
}

func TestAdapter_DispatchesCallToHandler(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sender := &fakeSender{}
	a := NewAdapter(sender, 4, func() time.Time { return now }, rand.New(rand.NewSource(1)), nil)

	a.RegisterHandler(ActionClearCache, func(_ context.Context, _ int, _ []byte) (any, error) {
		return ClearCacheConf{Status: "Accepted"}, nil
	})

	call, err := NewCall("csms-1", ActionClearCache, ClearCacheReq{})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	data, err := Encode(call)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if err := a.HandleIncoming(context.Background(), 0, data); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	env, err := Decode(sender.last())
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	if env.Role != RoleCallResult || env.ID != "csms-1" {
		t.Fatalf("reply envelope = %+v", env)
	}
}
