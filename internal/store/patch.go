package store

import "time"

// ConnectionPatch is a partial update of the connection row. Nil fields are left alone.
type ConnectionPatch struct {
	IsConnected        *bool
	PairingCode        *string
	State              *string
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
	DisconnectReason   *string
	ReconnectAttempts  *int
	LastError          *string
	LastErrorAt        *time.Time
}

func Bool(v bool) *bool { return &v }
func String(v string) *string { return &v }
func Int(v int) *int { return &v }
func Time(v time.Time) *time.Time { return &v }

// Normalize keeps a patch from ever leaving a pairing code on a connected row.
// Going connected clears the code, and writing a code implies not connected.
func (p ConnectionPatch) Normalize() ConnectionPatch {
	if p.IsConnected != nil && *p.IsConnected {
		p.PairingCode = String("")
	} else if p.PairingCode != nil && *p.PairingCode != "" && p.IsConnected == nil {
		p.IsConnected = Bool(false)
	}
	return p
}

// Apply merges the patch into rec and stamps UpdatedAt.
func (p ConnectionPatch) Apply(rec *ConnectionRecord, now time.Time) {
	p = p.Normalize()
	if p.IsConnected != nil {
		rec.IsConnected = *p.IsConnected
	}
	if p.PairingCode != nil {
		rec.PairingCode = *p.PairingCode
	}
	if p.State != nil {
		rec.State = *p.State
	}
	if p.LastConnectedAt != nil {
		rec.LastConnectedAt = *p.LastConnectedAt
	}
	if p.LastDisconnectedAt != nil {
		rec.LastDisconnectedAt = *p.LastDisconnectedAt
	}
	if p.DisconnectReason != nil {
		rec.DisconnectReason = *p.DisconnectReason
	}
	if p.ReconnectAttempts != nil {
		rec.ReconnectAttempts = *p.ReconnectAttempts
	}
	if p.LastError != nil {
		rec.LastError = *p.LastError
	}
	if p.LastErrorAt != nil {
		rec.LastErrorAt = *p.LastErrorAt
	}
	if rec.IsConnected {
		rec.PairingCode = ""
	}
	rec.UpdatedAt = now
}

// Fields renders the patch as document fields. Empty strings become nulls.
func (p ConnectionPatch) Fields(now time.Time) map[string]interface{} {
	p = p.Normalize()
	fields := map[string]interface{}{"updatedAt": now}
	if p.IsConnected != nil {
		fields["isConnected"] = *p.IsConnected
	}
	if p.PairingCode != nil {
		fields["pairingCode"] = nullable(*p.PairingCode)
	}
	if p.State != nil {
		fields["state"] = nullable(*p.State)
	}
	if p.LastConnectedAt != nil {
		fields["lastConnectedAt"] = *p.LastConnectedAt
	}
	if p.LastDisconnectedAt != nil {
		fields["lastDisconnectedAt"] = *p.LastDisconnectedAt
	}
	if p.DisconnectReason != nil {
		fields["disconnectReason"] = nullable(*p.DisconnectReason)
	}
	if p.ReconnectAttempts != nil {
		fields["reconnectAttempts"] = *p.ReconnectAttempts
	}
	if p.LastError != nil {
		fields["lastError"] = nullable(*p.LastError)
	}
	if p.LastErrorAt != nil {
		fields["lastErrorAt"] = *p.LastErrorAt
	}
	return fields
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
