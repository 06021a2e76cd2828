package ocppmsg

import (
	"encoding/json"
	"testing"
)

func TestCallRoundTrip(t *testing.T) {
	env, err := NewCall("123-45", ActionHeartbeat, HeartbeatReq{})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("wire form is not a json array: %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("CALL wire form has %d elements, want 4", len(raw))
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Role != RoleCall || got.ID != "123-45" || got.Action != ActionHeartbeat {
		t.Errorf("decoded envelope = %+v", got)
	}
}

func TestCallErrorRoundTrip(t *testing.T) {
	env := NewCallError("1-1", "NotImplemented", "no handler")
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Role != RoleCallError || got.ErrorCode != "NotImplemented" {
		t.Errorf("decoded envelope = %+v", got)
	}
}

func TestDecode_RejectsWrongArity(t *testing.T) {
	if _, err := Decode([]byte(`[2,"1"]`)); err == nil {
		t.Fatal("expected error for a 2-element CALL array")
	}
}
