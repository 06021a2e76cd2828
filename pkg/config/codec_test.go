package config

import "testing"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	var l Layout
	PutString(l.DeviceID[:], "EVSE-0001")
	PutString(l.DeviceName[:], "Driveway Charger")
	l.Version = 3
	l.Net.PingInterval = 300
	l.Net.HealthCheckInterval = 60
	PutString(l.Net.ServerURL[:], "wss://csms.example.com/ocpp")
	l.OCPP.Version = 16
	PutString(l.OCPP.Vendor[:], "Acme")

	data, err := Encode(l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != Size {
		t.Fatalf("encoded size = %d, want %d", len(data), Size)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if StringFrom(got.DeviceID[:]) != "EVSE-0001" {
		t.Errorf("device id round-trip failed: %q", StringFrom(got.DeviceID[:]))
	}
	if got.Net.PingInterval != 300 {
		t.Errorf("ping interval round-trip failed: %d", got.Net.PingInterval)
	}
	if StringFrom(got.Net.ServerURL[:]) != "wss://csms.example.com/ocpp" {
		t.Errorf("server url round-trip failed: %q", StringFrom(got.Net.ServerURL[:]))
	}
}

func TestDecode_RejectsCorruptedCRC(t *testing.T) {
	var l Layout
	data, err := Encode(l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data[0] ^= 0xFF // corrupt a body byte without touching the tail
	if _, err := Decode(data); err != ErrCRCMismatch {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}
