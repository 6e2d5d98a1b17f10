// Package events is the single place that reacts to session lifecycle signals.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/connection"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/notify"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store"
)

const storeTimeout = 10 * time.Second

// Connector is the part of connection.Manager the handlers drive.
type Connector interface {
	Connect(ctx context.Context) (connection.Result, error)
	Shutdown()
}

type Drainer interface {
	Drain(ctx context.Context) int
}

type Ingester interface {
	Process(ctx context.Context, sender, text string) (*store.Lead, error)
}

// Deps are the collaborators a Handlers value needs.
type Deps struct {
	State     *session.State
	Store     store.ConnectionStore
	Errors    *errlog.Recorder
	Connector Connector
	Drainer   Drainer
	Ingester  Ingester
	Blobs     *session.BlobFile
	Notifier  notify.Notifier
	Policy    Policy
}

// Handlers implements connection.Listener and automation.Observer.
type Handlers struct {
	state     *session.State
	conn      store.ConnectionStore
	errs      *errlog.Recorder
	connector Connector
	drainer   Drainer
	ingester  Ingester
	blobs     *session.BlobFile
	notifier  notify.Notifier
	policy    Policy

	now      func() time.Time
	async    func(fn func())
	schedule func(d time.Duration, fn func()) (stop func())

	mu           sync.Mutex
	pending      func()
	pendingDelay time.Duration
}

var (
	_ connection.Listener = (*Handlers)(nil)
	_ automation.Observer = (*Handlers)(nil)
)

func New(d Deps) *Handlers {
	return &Handlers{
		state:     d.State,
		conn:      d.Store,
		errs:      d.Errors,
		connector: d.Connector,
		drainer:   d.Drainer,
		ingester:  d.Ingester,
		blobs:     d.Blobs,
		notifier:  notify.OrNop(d.Notifier),
		policy:    d.Policy,
		now:       time.Now,
		async:     func(fn func()) { go fn() },
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

func (h *Handlers) OnQRCodeGenerated(ctx context.Context, code string) {
	if !h.state.SetPairingCode(code) {
		logger.Debug("Ignoring pairing code while connected")
		return
	}
	logger.Info("Pairing code generated")
	h.persist(ctx, store.ConnectionPatch{
		IsConnected: store.Bool(false),
		PairingCode: store.String(code),
	})
	h.notifier.Publish(ctx, notify.EventQR, map[string]any{"qrCode": code})
}

func (h *Handlers) OnConnected(ctx context.Context) {
	now := h.now()
	h.state.MarkConnected(now)
	h.CancelPending()
	logger.Info("WhatsApp connected")

	h.persist(ctx, store.ConnectionPatch{
		IsConnected:       store.Bool(true),
		PairingCode:       store.String(""),
		LastConnectedAt:   store.Time(now),
		ReconnectAttempts: store.Int(0),
	})
	h.saveSession(ctx)
	h.notifier.Publish(ctx, notify.EventConnected, map[string]any{"connectedAt": now})

	h.async(func() {
		h.drainer.Drain(context.WithoutCancel(ctx))
	})
}

func (h *Handlers) saveSession(ctx context.Context) {
	page := h.state.Page()
	if page == nil {
		return
	}
	blob, err := page.ExportSession(ctx)
	if err != nil {
		logger.Warn("Failed to export session", "error", err)
		return
	}
	if len(blob) == 0 {
		return
	}
	h.state.SetBlob(blob)
	if h.blobs == nil {
		return
	}
	if err := h.blobs.Save(blob); err != nil {
		logger.Warn("Failed to save session", "path", h.blobs.Path, "error", err)
	}
}

func (h *Handlers) OnDisconnected(ctx context.Context, reason string) {
	now := h.now()
	was := h.state.MarkDisconnected()
	logger.Warn("WhatsApp disconnected", "reason", reason, "wasConnected", was)

	h.persist(ctx, store.ConnectionPatch{
		IsConnected:        store.Bool(false),
		PairingCode:        store.String(""),
		LastDisconnectedAt: store.Time(now),
		DisconnectReason:   store.String(reason),
	})
	h.notifier.Publish(ctx, notify.EventDisconnected, map[string]any{"reason": reason})

	h.afterDisconnect(ctx, reason)
}

// OnConnectFailed records a connect attempt that never produced a session.
func (h *Handlers) OnConnectFailed(ctx context.Context, err error) {
	h.persist(ctx, store.ConnectionPatch{
		IsConnected: store.Bool(false),
		PairingCode: store.String(""),
	})
	h.notifier.Publish(ctx, notify.EventDisconnected, map[string]any{
		"reason": connection.ReasonConnectFailed,
		"error":  err.Error(),
	})
}

// OnStateChange handles raw driver states. It runs on driver goroutines.
func (h *Handlers) OnStateChange(state string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	h.state.SetRawState(state)
	h.persist(ctx, store.ConnectionPatch{State: store.String(state)})
	h.notifier.Publish(ctx, notify.EventState, map[string]any{"state": state})
	logger.Info("Connection state changed", "state", state)

	switch state {
	case automation.StateConnected:
		if !h.state.IsConnected() {
			h.OnConnected(ctx)
		}
	case automation.StateConflict:
		h.errs.Record(ctx, errlog.SessionConflict, errors.New("WhatsApp is open on another device or browser"))
		if h.state.IsConnected() {
			h.OnDisconnected(ctx, connection.ReasonConflict)
		}
	case automation.StateUnpaired:
		h.OnDisconnected(ctx, connection.ReasonUnpaired)
	case automation.StateUnlaunched:
		h.OnDisconnected(ctx, connection.ReasonUnlaunched)
	}
}

func (h *Handlers) OnError(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.errs.Record(ctx, errlog.ClientError, err)
}

func (h *Handlers) OnNewMessage(sender, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h.state.Touch(h.now())
	if _, err := h.ingester.Process(ctx, sender, text); err != nil {
		logger.Warn("Inbound message not fully processed", "sender", sender, "error", err)
	}
}

// OnAuthFailure drops the session entirely. The operator has to pair again.
func (h *Handlers) OnAuthFailure(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	h.errs.Record(ctx, errlog.AuthFailure, err)
	h.CancelPending()
	h.connector.Shutdown()
	h.state.Reset()
	if h.blobs != nil {
		if cerr := h.blobs.Clear(); cerr != nil {
			logger.Warn("Failed to remove saved session", "error", cerr)
		}
	}

	h.persist(ctx, store.ConnectionPatch{
		IsConnected:        store.Bool(false),
		PairingCode:        store.String(""),
		LastDisconnectedAt: store.Time(h.now()),
		DisconnectReason:   store.String(connection.ReasonAuthFailure),
		ReconnectAttempts:  store.Int(0),
	})
	h.notifier.Publish(ctx, notify.EventDisconnected, map[string]any{
		"reason": connection.ReasonAuthFailure,
		"error":  err.Error(),
	})
}

func (h *Handlers) persist(ctx context.Context, patch store.ConnectionPatch) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := h.conn.UpdateConnection(ctx, patch); err != nil {
		logger.Warn("Failed to persist connection state", "error", err)
	}
}

// PendingReconnect reports the delay of the scheduled reconnect, if any.
func (h *Handlers) PendingReconnect() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingDelay, h.pending != nil
}
