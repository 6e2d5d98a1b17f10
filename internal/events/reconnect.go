package events

import (
	"context"
	"fmt"
	"math"
	"time"

	"wa-bot-go/internal/connection"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/store"
)

// Policy bounds the reconnection chain.
type Policy struct {
	BaseInterval time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// Backoff is the delay before the next attempt, given the attempts made so far.
func (p Policy) Backoff(attempts int) time.Duration {
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	d := float64(p.BaseInterval) * math.Pow(1.5, float64(exp))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Terminal reports whether a disconnect reason must not be retried.
func Terminal(reason string) bool {
	switch reason {
	case connection.ReasonLogout, connection.ReasonConflict, connection.ReasonManual,
		connection.ReasonAuthFailure, connection.ReasonPairingTimeout:
		return true
	}
	return false
}

func (h *Handlers) afterDisconnect(ctx context.Context, reason string) {
	if Terminal(reason) {
		logger.Info("Not reconnecting", "reason", reason)
		h.CancelPending()
		h.connector.Shutdown()
		return
	}

	attempts := h.state.ReconnectAttempts()
	if attempts >= h.policy.MaxAttempts {
		h.errs.Record(ctx, errlog.MaxReconnectAttempts,
			fmt.Errorf("giving up after %d reconnect attempts (last reason: %s)", attempts, reason))
		h.connector.Shutdown()
		return
	}
	h.scheduleReconnect(ctx, reason)
}

func (h *Handlers) scheduleReconnect(ctx context.Context, reason string) {
	h.mu.Lock()
	if h.pending != nil {
		h.mu.Unlock()
		logger.Debug("Reconnect already scheduled", "reason", reason)
		return
	}
	delay := h.policy.Backoff(h.state.ReconnectAttempts())
	attempt := h.state.IncrementReconnectAttempts()
	h.pendingDelay = delay
	h.pending = h.schedule(delay, func() { h.reconnect(attempt) })
	h.mu.Unlock()

	logger.Info("Reconnect scheduled", "attempt", attempt, "delay", delay, "reason", reason)
	h.persist(ctx, store.ConnectionPatch{ReconnectAttempts: store.Int(attempt)})
}

// CancelPending drops a scheduled reconnect. Operator connects call it so a
// timer cannot tear down the page they are pairing on.
func (h *Handlers) CancelPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		h.pending()
		h.pending = nil
		h.pendingDelay = 0
	}
}

// reconnect runs when a scheduled delay elapses.
func (h *Handlers) reconnect(attempt int) {
	h.mu.Lock()
	h.pending = nil
	h.pendingDelay = 0
	h.mu.Unlock()

	if h.state.IsConnected() {
		logger.Info("Already connected, dropping stale reconnect", "attempt", attempt)
		return
	}
	if h.state.Page() != nil && h.state.PairingCode() != "" {
		logger.Info("Pairing in progress, dropping stale reconnect", "attempt", attempt)
		return
	}

	ctx := context.Background()
	logger.Info("Reconnecting", "attempt", attempt, "max", h.policy.MaxAttempts)
	h.connector.Shutdown()

	if _, err := h.connector.Connect(ctx); err != nil {
		h.errs.Record(ctx, errlog.Reconnection, fmt.Errorf("reconnect attempt %d failed: %w", attempt, err))
		h.afterDisconnect(ctx, connection.ReasonConnectFailed)
	}
}
