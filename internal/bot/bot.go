// Package bot wires the session, managers and handlers into one instance.
package bot

import (
	"context"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/browser"
	"wa-bot-go/internal/config"
	"wa-bot-go/internal/connection"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/events"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/messaging"
	"wa-bot-go/internal/notify"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store"
)

// Bot owns one WhatsApp session and everything that acts on it.
type Bot struct {
	State      *session.State
	Store      store.Store
	Errors     *errlog.Recorder
	Browser    *browser.Manager
	Connection *connection.Manager
	Handlers   *events.Handlers
	Sender     *messaging.Sender
	Ingestor   *messaging.Ingestor
	Dispatcher *Dispatcher

	blobs *session.BlobFile
}

// New builds a bot. blobs may be nil when the driver keeps its own credentials.
func New(cfg *config.Config, launcher automation.Launcher, st store.Store, blobs *session.BlobFile, notifier notify.Notifier) *Bot {
	state := session.New()
	errs := errlog.NewRecorder(st, st)
	notifier = notify.OrNop(notifier)

	b := browser.NewManager(launcher, state, errs, cfg.UserAgent, cfg.OperationTimeout)
	conn := connection.NewManager(b, state, errs, connection.Options{
		URL:                 cfg.WAURL,
		AuthProbeTimeout:    cfg.AuthProbeTimeout,
		PairingTimeout:      cfg.PairingTimeout,
		QRRefreshInterval:   cfg.QRRefreshInterval,
		HealthInterval:      cfg.HealthInterval,
		HealthConfirmations: cfg.HealthConfirmations,
		LoginPollInterval:   cfg.LoginPollInterval,
		LoginTimeout:        cfg.LoginTimeout,
	})

	sender := messaging.NewSender(state, st, errs, notifier, messaging.Options{
		Pacing: messaging.Pacing{
			SendDelayMin:   cfg.SendDelayMin,
			SendDelayMax:   cfg.SendDelayMax,
			TypingDelayMin: cfg.TypingDelayMin,
			TypingDelayMax: cfg.TypingDelayMax,
			PauseChance:    cfg.TypingPauseChance,
			PauseMin:       cfg.TypingPauseMin,
			PauseMax:       cfg.TypingPauseMax,
		},
		DrainInterval: cfg.DrainInterval,
		MaxRetries:    cfg.MaxSendRetries,
	})
	assigner := messaging.NewAssigner(st, st, st, messaging.Strategy(cfg.AssignmentStrategy))
	ingestor := messaging.NewIngestor(st, st, assigner, errs, notifier)

	handlers := events.New(events.Deps{
		State:     state,
		Store:     st,
		Errors:    errs,
		Connector: conn,
		Drainer:   sender,
		Ingester:  ingestor,
		Blobs:     blobs,
		Notifier:  notifier,
		Policy: events.Policy{
			BaseInterval: cfg.ReconnectBaseInterval,
			MaxDelay:     cfg.ReconnectMaxDelay,
			MaxAttempts:  cfg.MaxReconnectAttempts,
		},
	})
	conn.SetListener(handlers)
	b.SetObserver(handlers)

	return &Bot{
		State:      state,
		Store:      st,
		Errors:     errs,
		Browser:    b,
		Connection: conn,
		Handlers:   handlers,
		Sender:     sender,
		Ingestor:   ingestor,
		Dispatcher: NewDispatcher(conn, handlers, sender, state),
		blobs:      blobs,
	}
}

// Restore loads the saved session and fixes a connection row left over from
// a previous process.
func (b *Bot) Restore(ctx context.Context) error {
	if b.blobs != nil {
		blob, err := b.blobs.Load()
		if err != nil {
			logger.Warn("Failed to load saved session", "path", b.blobs.Path, "error", err)
		} else if len(blob) > 0 {
			b.State.SetBlob(blob)
			logger.Info("Loaded saved session", "path", b.blobs.Path)
		}
	}

	rec, err := b.Store.GetConnection(ctx)
	if err != nil {
		return err
	}
	if rec == nil || !rec.IsConnected {
		return nil
	}
	logger.Info("Clearing stale connected flag from previous run")
	return b.Store.UpdateConnection(ctx, store.ConnectionPatch{
		IsConnected:        store.Bool(false),
		PairingCode:        store.String(""),
		LastDisconnectedAt: store.Time(time.Now()),
		DisconnectReason:   store.String(connection.ReasonRestart),
	})
}

// Close stops background work and closes the automation handle.
func (b *Bot) Close() {
	b.Connection.Shutdown()
	b.State.MarkDisconnected()
}
