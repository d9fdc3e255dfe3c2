package tunnel

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRegister(t *testing.T) {
	raw := []byte(`{
		"type": "register",
		"instance_id": "inst-1",
		"app_kind": "desktop",
		"display_name": "My Desktop",
		"capabilities": ["shell"],
		"version": "2.0.0",
		"platform": "linux",
		"cwd": "/home/user",
		"commands": ["run", "status"]
	}`)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	reg, ok := frame.(*RegisterFrame)
	if !ok {
		t.Fatalf("Expected *RegisterFrame, got %T", frame)
	}
	if reg.InstanceID != "inst-1" || reg.AppKind != "desktop" {
		t.Errorf("Unexpected fields: %+v", reg)
	}
	if len(reg.Commands) != 2 {
		t.Errorf("Expected 2 commands, got %d", len(reg.Commands))
	}
}

func TestDecodeResponse(t *testing.T) {
	raw := []byte(`{"type":"response","id":"req-1","ok":false,"error":"boom"}`)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	resp, ok := frame.(*ResponseFrame)
	if !ok {
		t.Fatalf("Expected *ResponseFrame, got %T", frame)
	}
	if resp.ID != "req-1" || resp.OK || resp.Error != "boom" {
		t.Errorf("Unexpected fields: %+v", resp)
	}
}

func TestDecodeHeartbeats(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := frame.(*PingFrame); !ok {
		t.Errorf("Expected *PingFrame, got %T", frame)
	}

	frame, err = Decode([]byte(`{"type":"pong"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := frame.(*PongFrame); !ok {
		t.Errorf("Expected *PongFrame, got %T", frame)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"mystery"}`))
	if !errors.Is(err, ErrUnknownFrameType) {
		t.Errorf("Expected ErrUnknownFrameType, got %v", err)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestEncodeStampsType(t *testing.T) {
	// The caller never sets Type; Encode stamps it.
	data, err := Encode(&CommandFrame{ID: "req-1", Method: "run", Params: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to parse encoded frame: %v", err)
	}
	if decoded["type"] != TypeCommand {
		t.Errorf("Expected type tag %q, got %v", TypeCommand, decoded["type"])
	}
	if decoded["method"] != "run" {
		t.Errorf("Expected method run, got %v", decoded["method"])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &RegisteredFrame{InstanceID: "inst-1", SessionURL: "https://gw.test/nodes/inst-1"}
	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	confirmed, ok := frame.(*RegisteredFrame)
	if !ok {
		t.Fatalf("Expected *RegisteredFrame, got %T", frame)
	}
	if confirmed.InstanceID != original.InstanceID || confirmed.SessionURL != original.SessionURL {
		t.Errorf("Round trip mismatch: %+v", confirmed)
	}
}
