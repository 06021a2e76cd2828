package config

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Encode serializes l into the exact 1095-byte packed layout:
// little-endian, fixed-width, CRC32 over the canonical serialization
// appended at the tail. Serializing explicitly (rather than relying on
// compiler struct packing) is the one deliberately stdlib-only concern
// in this module; see DESIGN.md.
func Encode(l Layout) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(Size)

	w := func(v any) {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}

	w(l.Version)
	w(l.DeviceID)
	w(l.DeviceName)
	w(l.DeviceMode)
	w(l.LogMode)
	w(l.LogLevel)
	w(l.DFURebootManually)

	w(l.Charger.Mode)
	w(l.Charger.Param)
	w(l.Charger.ConnectorCount)
	for _, c := range l.Charger.Connectors {
		w(c.Metering)
		w(c.Pilot)
		w(c.PLCMac)
	}

	w(l.Net.MAC)
	w(l.Net.HealthCheckInterval)
	w(l.Net.PingInterval)
	w(l.Net.ServerURL)
	w(l.Net.ServerID)
	w(l.Net.ServerPass)

	w(l.OCPP.Version)
	w(l.OCPP.Config)
	w(l.OCPP.Checkpoint)
	w(l.OCPP.Vendor)
	w(l.OCPP.Model)

	if buf.Len() != Size-4 {
		return nil, fmt.Errorf("config: encoded body is %d bytes, want %d", buf.Len(), Size-4)
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], sum)
	buf.Write(tail[:])

	return buf.Bytes(), nil
}

// ErrCRCMismatch is returned by Decode when the trailing CRC32 does not
// match the body.
var ErrCRCMismatch = fmt.Errorf("config: crc32 mismatch")

// Decode parses a Size-byte buffer produced by Encode, verifying the
// trailing CRC32 before unpacking any field.
func Decode(data []byte) (Layout, error) {
	var l Layout
	if len(data) != Size {
		return l, fmt.Errorf("config: buffer is %d bytes, want %d", len(data), Size)
	}

	body, tail := data[:Size-4], data[Size-4:]
	want := binary.LittleEndian.Uint32(tail)
	got := crc32.ChecksumIEEE(body)
	if got != want {
		return l, ErrCRCMismatch
	}

	r := bytes.NewReader(body)
	read := func(v any) {
		_ = binary.Read(r, binary.LittleEndian, v)
	}

	read(&l.Version)
	read(&l.DeviceID)
	read(&l.DeviceName)
	read(&l.DeviceMode)
	read(&l.LogMode)
	read(&l.LogLevel)
	read(&l.DFURebootManually)

	read(&l.Charger.Mode)
	read(&l.Charger.Param)
	read(&l.Charger.ConnectorCount)
	for i := range l.Charger.Connectors {
		read(&l.Charger.Connectors[i].Metering)
		read(&l.Charger.Connectors[i].Pilot)
		read(&l.Charger.Connectors[i].PLCMac)
	}

	read(&l.Net.MAC)
	read(&l.Net.HealthCheckInterval)
	read(&l.Net.PingInterval)
	read(&l.Net.ServerURL)
	read(&l.Net.ServerID)
	read(&l.Net.ServerPass)

	read(&l.OCPP.Version)
	read(&l.OCPP.Config)
	read(&l.OCPP.Checkpoint)
	read(&l.OCPP.Vendor)
	read(&l.OCPP.Model)

	return l, nil
}
