// Package connection drives pairing, login detection and session health.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/browser"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/session"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Disconnect reasons.
const (
	ReasonPageChanged    = "PAGE_CHANGED"
	ReasonSessionExpired = "SESSION_EXPIRED"
	ReasonPairingTimeout = "PAIRING_TIMEOUT"
	ReasonLogout         = "LOGOUT"
	ReasonConflict       = "CONFLICT"
	ReasonManual         = "MANUAL"
	ReasonUnpaired       = "UNPAIRED"
	ReasonUnlaunched     = "UNLAUNCHED"
	ReasonAuthFailure    = "AUTH_FAILURE"
	ReasonRestart        = "RESTART"
	ReasonConnectFailed  = "CONNECT_FAILED"
)

var ErrAlreadyConnected = errors.New("already connected")

// Listener receives the lifecycle transitions the manager detects.
type Listener interface {
	OnQRCodeGenerated(ctx context.Context, code string)
	OnConnected(ctx context.Context)
	OnDisconnected(ctx context.Context, reason string)
	OnConnectFailed(ctx context.Context, err error)
}

type Options struct {
	URL                 string
	AuthProbeTimeout    time.Duration
	PairingTimeout      time.Duration
	QRRefreshInterval   time.Duration
	HealthInterval      time.Duration
	HealthConfirmations int
	LoginPollInterval   time.Duration
	LoginTimeout        time.Duration
}

// Result is what a connect attempt produced: a live session or a pairing code.
type Result struct {
	IsConnected bool
	PairingCode string
}

type Manager struct {
	browser  *browser.Manager
	state    *session.State
	errs     *errlog.Recorder
	opts     Options
	listener Listener

	group singleflight.Group

	mu          sync.Mutex
	timers      *cron.Cron
	loginCancel context.CancelFunc
	healthHits  int
}

func NewManager(b *browser.Manager, state *session.State, errs *errlog.Recorder, opts Options) *Manager {
	if opts.HealthConfirmations < 1 {
		opts.HealthConfirmations = 1
	}
	return &Manager{
		browser: b,
		state:   state,
		errs:    errs,
		opts:    opts,
	}
}

// SetListener must be called before the first Connect.
func (m *Manager) SetListener(l Listener) {
	m.listener = l
}

// Connect collapses concurrent callers into one attempt. The attempt is not
// cancelled when the caller's context is.
func (m *Manager) Connect(ctx context.Context) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, shared := m.group.Do("connect", func() (any, error) {
		return m.connect(ctx)
	})
	if shared {
		logger.Debug("Joined in-flight connect attempt")
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (m *Manager) connect(ctx context.Context) (Result, error) {
	if m.state.IsConnected() && m.state.Page() != nil {
		return Result{IsConnected: true}, nil
	}

	m.stopBackground()
	logger.Info("Connecting to WhatsApp", "url", m.opts.URL)

	page, err := m.browser.Initialize(ctx)
	if err != nil {
		return Result{}, m.abort(ctx, err)
	}

	if err := page.Navigate(ctx, m.opts.URL); err != nil {
		err = fmt.Errorf("failed to open %s: %w", m.opts.URL, err)
		m.errs.Record(ctx, errlog.BrowserInit, err)
		return Result{}, m.abort(ctx, err)
	}

	if blob := m.state.Blob(); len(blob) > 0 {
		if err := page.RestoreSession(ctx, blob); err != nil {
			logger.Warn("Failed to restore saved session", "error", err)
		} else if err := page.Reload(ctx); err != nil {
			logger.Warn("Failed to reload after session restore", "error", err)
		}
	}

	authed, err := page.WaitAuthenticated(ctx, m.opts.AuthProbeTimeout)
	if err != nil {
		err = fmt.Errorf("authentication check failed: %w", err)
		m.errs.Record(ctx, errlog.AuthenticationCheck, err)
		return Result{}, m.abort(ctx, err)
	}
	if authed {
		logger.Info("Existing session is authenticated")
		m.listener.OnConnected(ctx)
		m.startTimers()
		return Result{IsConnected: true}, nil
	}

	code, err := page.WaitPairingCode(ctx, m.opts.PairingTimeout)
	if err != nil {
		err = fmt.Errorf("pairing code not available: %w", err)
		m.errs.Record(ctx, errlog.AuthenticationCheck, err)
		return Result{}, m.abort(ctx, err)
	}

	m.listener.OnQRCodeGenerated(ctx, code)
	m.startTimers()
	m.watchLogin()
	return Result{PairingCode: code}, nil
}

func (m *Manager) abort(ctx context.Context, err error) error {
	m.Shutdown()
	m.state.MarkDisconnected()
	m.listener.OnConnectFailed(ctx, err)
	return err
}

// RefreshPairingCode issues a new pairing code, starting a session if none is open.
func (m *Manager) RefreshPairingCode(ctx context.Context) (string, error) {
	if m.state.IsConnected() {
		return "", ErrAlreadyConnected
	}

	page := m.state.Page()
	if page == nil {
		res, err := m.Connect(ctx)
		if err != nil {
			return "", err
		}
		if res.IsConnected {
			return "", ErrAlreadyConnected
		}
		return res.PairingCode, nil
	}

	code, err := m.reissue(ctx, page)
	if err != nil {
		m.errs.Record(ctx, errlog.AuthenticationCheck, err)
		return "", err
	}
	m.watchLogin()
	return code, nil
}

func (m *Manager) reissue(ctx context.Context, page automation.Page) (string, error) {
	if err := page.Reload(ctx); err != nil {
		return "", fmt.Errorf("failed to reload page: %w", err)
	}
	code, err := page.WaitPairingCode(ctx, m.opts.PairingTimeout)
	if err != nil {
		return "", fmt.Errorf("pairing code not available: %w", err)
	}
	if m.state.IsConnected() {
		return "", ErrAlreadyConnected
	}
	m.listener.OnQRCodeGenerated(ctx, code)
	return code, nil
}

// refreshPairing runs on the QR timer. It only acts while a code is on screen.
func (m *Manager) refreshPairing() {
	if m.state.IsConnected() {
		return
	}
	page := m.state.Page()
	if page == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*m.opts.PairingTimeout)
	defer cancel()

	visible, err := page.PairingVisible(ctx)
	if err != nil || !visible {
		return
	}
	if _, err := m.reissue(ctx, page); err != nil && !errors.Is(err, ErrAlreadyConnected) {
		logger.Warn("Failed to refresh pairing code", "error", err)
		return
	}
	logger.Debug("Pairing code refreshed")
}

// CheckHealth reconciles the observed page with the session flags.
func (m *Manager) CheckHealth(ctx context.Context) {
	page := m.state.Page()
	if page == nil {
		m.resetHits()
		return
	}

	url, err := page.CurrentURL(ctx)
	if err != nil {
		logger.Debug("Health check could not read page URL", "error", err)
		return
	}
	if !strings.HasPrefix(url, m.opts.URL) {
		logger.Warn("Page left WhatsApp", "url", url)
		m.resetHits()
		m.listener.OnDisconnected(ctx, ReasonPageChanged)
		return
	}

	authed, err := page.IsAuthenticated(ctx)
	if err != nil {
		logger.Debug("Health check could not read session marker", "error", err)
		return
	}

	connected := m.state.IsConnected()
	switch {
	case connected && !authed:
		m.resetHits()
		m.listener.OnDisconnected(ctx, ReasonSessionExpired)
	case !connected && authed:
		m.mu.Lock()
		m.healthHits++
		hits := m.healthHits
		m.mu.Unlock()
		if hits < m.opts.HealthConfirmations {
			logger.Debug("Session looks authenticated, waiting for confirmation", "hits", hits)
			return
		}
		m.resetHits()
		logger.Info("Health check detected a missed login")
		m.listener.OnConnected(ctx)
	default:
		m.resetHits()
	}
}

func (m *Manager) resetHits() {
	m.mu.Lock()
	m.healthHits = 0
	m.mu.Unlock()
}

func (m *Manager) startTimers() {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(m.opts.QRRefreshInterval), cron.FuncJob(m.refreshPairing))
	c.Schedule(cron.Every(m.opts.HealthInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.HealthInterval)
		defer cancel()
		m.CheckHealth(ctx)
	}))

	m.mu.Lock()
	if m.timers != nil {
		m.timers.Stop()
	}
	m.timers = c
	m.mu.Unlock()
	c.Start()
}

// watchLogin polls for a completed pairing until LoginTimeout.
func (m *Manager) watchLogin() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.LoginTimeout)

	m.mu.Lock()
	if m.loginCancel != nil {
		m.loginCancel()
	}
	m.loginCancel = cancel
	m.mu.Unlock()

	go func() {
		defer cancel()
		ticker := time.NewTicker(m.opts.LoginPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) && !m.state.IsConnected() {
					logger.Warn("Pairing was not completed in time", "timeout", m.opts.LoginTimeout)
					m.listener.OnDisconnected(context.Background(), ReasonPairingTimeout)
				}
				return
			case <-ticker.C:
			}

			if m.state.IsConnected() {
				return
			}
			page := m.state.Page()
			if page == nil {
				return
			}
			ok, err := page.IsAuthenticated(ctx)
			if err != nil {
				logger.Debug("Login poll failed", "error", err)
				continue
			}
			if ok {
				logger.Info("Pairing completed")
				m.listener.OnConnected(context.Background())
				return
			}
		}
	}()
}

func (m *Manager) stopBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timers != nil {
		m.timers.Stop()
		m.timers = nil
	}
	if m.loginCancel != nil {
		m.loginCancel()
		m.loginCancel = nil
	}
	m.healthHits = 0
}

// Shutdown stops the timers and closes the automation handle. Safe to repeat.
func (m *Manager) Shutdown() {
	m.stopBackground()
	m.browser.Cleanup()
}
