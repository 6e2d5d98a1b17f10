package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"wa-bot-go/internal/connection"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/messaging"
	"wa-bot-go/internal/session"
)

const (
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionReconnect   = "reconnect"
	ActionStatus      = "status"
	ActionQRCode      = "qrcode"
	ActionSendMessage = "send_message"
)

const (
	msgNotConnectedQueued = "WhatsApp is not connected, message queued"
	msgRefreshConnected   = "Cannot refresh while connected"
	msgSendArgsRequired   = "Phone number and message are required"
	msgUnknownAction      = "Unknown action"
)

var ErrAlreadyConnected = connection.ErrAlreadyConnected

type Request struct {
	Action      string `json:"action"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Message     string `json:"message,omitempty"`
	LeadID      string `json:"leadId,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

type Response struct {
	Success           bool       `json:"success"`
	Message           string     `json:"message,omitempty"`
	IsConnected       *bool      `json:"isConnected,omitempty"`
	QRCode            *string    `json:"qrCode"`
	LastActivity      *time.Time `json:"lastActivity,omitempty"`
	ReconnectAttempts *int       `json:"reconnectAttempts,omitempty"`
	MessageQueueSize  *int       `json:"messageQueueSize,omitempty"`
}

type Connection interface {
	Connect(ctx context.Context) (connection.Result, error)
	RefreshPairingCode(ctx context.Context) (string, error)
	Shutdown()
}

// Lifecycle is the part of the event handlers that operator actions drive.
type Lifecycle interface {
	OnDisconnected(ctx context.Context, reason string)
	CancelPending()
}

type Sender interface {
	Send(ctx context.Context, req messaging.Request) messaging.Outcome
}

// Dispatcher is the externally callable surface. It never returns Go errors.
type Dispatcher struct {
	conn     Connection
	listener Lifecycle
	sender   Sender
	state    *session.State

	// serializes connect, disconnect and reconnect
	mu sync.Mutex
}

func NewDispatcher(conn Connection, listener Lifecycle, sender Sender, state *session.State) *Dispatcher {
	return &Dispatcher{conn: conn, listener: listener, sender: sender, state: state}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Action {
	case ActionConnect:
		return d.Connect(ctx)
	case ActionDisconnect:
		return d.Disconnect(ctx)
	case ActionReconnect:
		return d.Reconnect(ctx)
	case ActionStatus:
		return d.Status()
	case ActionQRCode:
		return d.RefreshQRCode(ctx)
	case ActionSendMessage:
		return d.SendMessage(ctx, req)
	default:
		return Response{Success: false, Message: msgUnknownAction}
	}
}

func (d *Dispatcher) Connect(ctx context.Context) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener.CancelPending()
	return d.connect(ctx, "Failed to connect: ")
}

func (d *Dispatcher) connect(ctx context.Context, failPrefix string) Response {
	res, err := d.conn.Connect(ctx)
	if err != nil {
		d.state.MarkDisconnected()
		return Response{Success: false, Message: failPrefix + err.Error()}
	}
	if res.IsConnected {
		return Response{Success: true, Message: "WhatsApp connected", IsConnected: boolPtr(true)}
	}
	return Response{
		Success:     true,
		Message:     "Scan the QR code with WhatsApp",
		IsConnected: boolPtr(false),
		QRCode:      strPtr(res.PairingCode),
	}
}

func (d *Dispatcher) Disconnect(ctx context.Context) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conn.Shutdown()
	d.listener.OnDisconnected(ctx, connection.ReasonManual)
	logger.Info("WhatsApp disconnected by operator")
	return Response{Success: true, Message: "WhatsApp disconnected", IsConnected: boolPtr(false)}
}

func (d *Dispatcher) Reconnect(ctx context.Context) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listener.CancelPending()
	d.conn.Shutdown()
	d.state.MarkDisconnected()
	return d.connect(ctx, "Failed to reconnect: ")
}

func (d *Dispatcher) Status() Response {
	snap := d.state.Snapshot()
	resp := Response{
		Success:           true,
		IsConnected:       boolPtr(snap.IsConnected),
		QRCode:            strPtr(snap.PairingCode),
		ReconnectAttempts: intPtr(snap.ReconnectAttempts),
		MessageQueueSize:  intPtr(snap.QueueSize),
	}
	if !snap.LastActivity.IsZero() {
		t := snap.LastActivity
		resp.LastActivity = &t
	}
	return resp
}

func (d *Dispatcher) RefreshQRCode(ctx context.Context) Response {
	if d.state.IsConnected() {
		return Response{Success: false, Message: msgRefreshConnected}
	}
	code, err := d.conn.RefreshPairingCode(ctx)
	if errors.Is(err, ErrAlreadyConnected) {
		return Response{Success: false, Message: msgRefreshConnected}
	}
	if err != nil {
		return Response{Success: false, Message: "Failed to refresh QR code: " + err.Error()}
	}
	return Response{Success: true, QRCode: strPtr(code), IsConnected: boolPtr(false)}
}

func (d *Dispatcher) SendMessage(ctx context.Context, req Request) Response {
	if req.PhoneNumber == "" || req.Message == "" {
		return Response{Success: false, Message: msgSendArgsRequired}
	}

	out := d.sender.Send(ctx, messaging.Request{
		PhoneNumber: req.PhoneNumber,
		Text:        req.Message,
		LeadID:      req.LeadID,
		UserID:      req.UserID,
	})
	switch out.Status {
	case messaging.Delivered:
		return Response{Success: true, Message: "Message sent"}
	case messaging.Queued:
		return Response{Success: false, Message: msgNotConnectedQueued}
	default:
		return Response{Success: false, Message: "Failed to send message, queued for retry: " + out.Reason.Error()}
	}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }

// strPtr maps "" to nil so qrCode marshals as null.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
