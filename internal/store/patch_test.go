package store

import (
	"testing"
	"time"
)

func TestPatchApplyClearsPairingWhenConnected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rec := &ConnectionRecord{PairingCode: "data:image/png;base64,AAA"}

	ConnectionPatch{IsConnected: Bool(true), LastConnectedAt: Time(now)}.Apply(rec, now)

	if !rec.IsConnected || rec.PairingCode != "" {
		t.Fatalf("connected record kept pairing code: %+v", rec)
	}
	if !rec.UpdatedAt.Equal(now) || !rec.LastConnectedAt.Equal(now) {
		t.Fatalf("timestamps not applied: %+v", rec)
	}
}

func TestPatchPairingCodeImpliesDisconnected(t *testing.T) {
	rec := &ConnectionRecord{IsConnected: true}

	ConnectionPatch{PairingCode: String("data:image/png;base64,BBB")}.Apply(rec, time.Now())

	if rec.IsConnected {
		t.Fatal("writing a pairing code must mark the row disconnected")
	}
	if rec.PairingCode == "" {
		t.Fatal("pairing code was dropped")
	}
}

func TestPatchLeavesUnsetFields(t *testing.T) {
	rec := &ConnectionRecord{DisconnectReason: "LOGOUT", ReconnectAttempts: 4, LastError: "boom"}

	ConnectionPatch{State: String("CONFLICT")}.Apply(rec, time.Now())

	if rec.DisconnectReason != "LOGOUT" || rec.ReconnectAttempts != 4 || rec.LastError != "boom" {
		t.Fatalf("unset fields changed: %+v", rec)
	}
	if rec.State != "CONFLICT" {
		t.Fatalf("State = %q", rec.State)
	}
}

func TestPatchFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	fields := ConnectionPatch{IsConnected: Bool(true), DisconnectReason: String("")}.Fields(now)

	if fields["isConnected"] != true {
		t.Errorf("isConnected = %v", fields["isConnected"])
	}
	if v, ok := fields["pairingCode"]; !ok || v != nil {
		t.Errorf("pairingCode = %v (present %v), want explicit null", v, ok)
	}
	if v, ok := fields["disconnectReason"]; !ok || v != nil {
		t.Errorf("disconnectReason = %v, want null", v)
	}
	if _, ok := fields["lastError"]; ok {
		t.Error("unset lastError should not be written")
	}
	if fields["updatedAt"] != now {
		t.Errorf("updatedAt = %v", fields["updatedAt"])
	}
}
