// Package browser owns creation and teardown of the automation handle.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/session"
)

type Manager struct {
	launcher  automation.Launcher
	state     *session.State
	errs      *errlog.Recorder
	userAgent string
	timeout   time.Duration

	mu       sync.Mutex
	observer automation.Observer
}

func NewManager(launcher automation.Launcher, state *session.State, errs *errlog.Recorder, userAgent string, timeout time.Duration) *Manager {
	return &Manager{
		launcher:  launcher,
		state:     state,
		errs:      errs,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// SetObserver wires inbound driver events. It applies to the next Initialize.
func (m *Manager) SetObserver(o automation.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// Initialize tears down any previous handle and launches a fresh one.
func (m *Manager) Initialize(ctx context.Context) (automation.Page, error) {
	m.Cleanup()

	m.mu.Lock()
	observer := m.observer
	m.mu.Unlock()

	page, err := m.launcher.Launch(ctx, automation.LaunchOptions{
		UserAgent: m.userAgent,
		Timeout:   m.timeout,
		Observer:  automation.ObserverOrNop(observer),
	})
	if err != nil {
		err = fmt.Errorf("failed to launch browser: %w", err)
		m.errs.Record(ctx, errlog.BrowserInit, err)
		return nil, err
	}

	m.state.SetPage(page)
	logger.Info("Browser session initialized")
	return page, nil
}

// Cleanup closes the current handle if any. The handle is always nil afterwards.
func (m *Manager) Cleanup() {
	page := m.state.TakePage()
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		logger.Warn("Error closing browser", "error", err)
		return
	}
	logger.Info("Browser session closed")
}
