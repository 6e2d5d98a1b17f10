// Package errlog records automation failures in the log, the error table and the connection row.
package errlog

import (
	"context"
	"time"

	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/store"
)

// Category tags an Error Log entry.
type Category string

const (
	BrowserInit          Category = "browser_init"
	AuthenticationCheck  Category = "authentication_check"
	SendMessage          Category = "send_message"
	MessageProcessing    Category = "message_processing"
	Reconnection         Category = "reconnection"
	MaxReconnectAttempts Category = "max_reconnect_attempts"
	ClientError          Category = "client_error"
	AuthFailure          Category = "auth_failure"
	SessionConflict      Category = "session_conflict"
)

const writeTimeout = 10 * time.Second

type Recorder struct {
	logs store.ErrorLogStore
	conn store.ConnectionStore
	now  func() time.Time
}

func NewRecorder(logs store.ErrorLogStore, conn store.ConnectionStore) *Recorder {
	return &Recorder{logs: logs, conn: conn, now: time.Now}
}

// Record never fails. Store errors are logged and dropped.
func (r *Recorder) Record(ctx context.Context, category Category, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	logger.Error("WhatsApp error", "category", string(category), "error", msg)

	if r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	now := r.now()
	if r.logs != nil {
		entry := &store.ErrorLog{ErrorType: string(category), ErrorMessage: msg, OccurredAt: now}
		if werr := r.logs.AppendError(ctx, entry); werr != nil {
			logger.Warn("Failed to append error log", "category", string(category), "error", werr)
		}
	}
	if r.conn != nil {
		patch := store.ConnectionPatch{LastError: store.String(msg), LastErrorAt: store.Time(now)}
		if werr := r.conn.UpdateConnection(ctx, patch); werr != nil {
			logger.Warn("Failed to store last error", "error", werr)
		}
	}
}
