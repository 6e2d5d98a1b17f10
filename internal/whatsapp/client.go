// Package whatsapp is the socket driver: a whatsmeow client behind automation.Page.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/utils"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

// Launcher opens whatsmeow clients over a SQLite device store.
type Launcher struct {
	DBPath string
	// Origin is reported by CurrentURL while the socket is up.
	Origin string
	// LIDCachePath stores resolved LID senders; empty keeps them in memory.
	LIDCachePath string
}

func (l *Launcher) Launch(ctx context.Context, opts automation.LaunchOptions) (automation.Page, error) {
	if dir := filepath.Dir(l.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	// Use WAL mode and busy_timeout for concurrent access
	dbLog := waLog.Stdout("Database", "ERROR", true)
	dsn := l.DBPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite container: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	lids := utils.NewLIDCache(l.LIDCachePath)
	if err := lids.Load(); err != nil {
		logger.Warn("Failed to load LID cache", "path", l.LIDCachePath, "error", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)
	// Reconnection is driven by the bot's own backoff policy.
	waClient.EnableAutoReconnect = false

	life, cancel := context.WithCancel(context.Background())
	c := &Client{
		wa:        waClient,
		container: container,
		origin:    l.Origin,
		observer:  automation.ObserverOrNop(opts.Observer),
		lids:      lids,
		life:      life,
		cancel:    cancel,
		qrReady:   make(chan struct{}),
	}
	waClient.AddEventHandler(c.handleEvent)
	return c, nil
}

var (
	_ automation.Launcher = (*Launcher)(nil)
	_ automation.Page     = (*Client)(nil)
)

// Client adapts a whatsmeow session to automation.Page.
type Client struct {
	wa        *whatsmeow.Client
	container *sqlstore.Container
	origin    string
	observer  automation.Observer
	lids      *utils.LIDCache
	life      context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	qr      string
	qrReady chan struct{}
	qrEnded bool
	chat    types.JID
	buf     []rune
	closing bool

	closeOnce sync.Once
}

// Navigate opens the socket, requesting pairing codes when the device is not paired.
func (c *Client) Navigate(ctx context.Context, _ string) error {
	if c.wa.IsConnected() {
		return nil
	}

	if c.wa.Store.ID == nil {
		qrChannel, err := c.wa.GetQRChannel(c.life)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		c.mu.Lock()
		c.qrEnded = false
		c.mu.Unlock()
		go c.consumeQR(qrChannel)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *Client) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for evt := range ch {
		switch evt.Event {
		case "code":
			c.setQR(evt.Code)
			logger.Info("QR code received from WhatsApp")
		case "success":
			c.setQR("")
		default:
			logger.Warn("QR channel event", "event", evt.Event, "error", evt.Error)
		}
	}
	c.mu.Lock()
	c.qrEnded = true
	c.mu.Unlock()
}

func (c *Client) setQR(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qr = code
	close(c.qrReady)
	c.qrReady = make(chan struct{})
}

// Reload restarts the socket when the QR channel has run out of codes.
func (c *Client) Reload(ctx context.Context) error {
	if c.wa.Store.ID != nil {
		return nil
	}
	c.mu.Lock()
	ended := c.qrEnded
	c.mu.Unlock()
	if !ended && c.wa.IsConnected() {
		return nil
	}
	c.wa.Disconnect()
	c.setQR("")
	return c.Navigate(ctx, c.origin)
}

func (c *Client) CurrentURL(context.Context) (string, error) {
	if c.wa.IsConnected() {
		return c.origin, nil
	}
	return "", nil
}

func (c *Client) WaitAuthenticated(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		if c.wa.IsLoggedIn() {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-tick.C:
		}
	}
}

func (c *Client) IsAuthenticated(context.Context) (bool, error) {
	return c.wa.IsLoggedIn(), nil
}

func (c *Client) WaitPairingCode(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		code, ready := c.qr, c.qrReady
		c.mu.Unlock()
		if code != "" {
			return automation.RenderQR(code)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", automation.ErrPairingTimeout
		case <-ready:
		}
	}
}

func (c *Client) PairingVisible(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wa.Store.ID == nil && c.qr != "", nil
}

// CanReceive asks WhatsApp, and stays permissive when the lookup fails.
func (c *Client) CanReceive(ctx context.Context, phone string) (bool, error) {
	resp, err := c.wa.IsOnWhatsApp(ctx, []string{"+" + phone})
	if err != nil {
		logger.Debug("IsOnWhatsApp lookup failed, assuming reachable", "phone", phone, "error", err)
		return true, nil
	}
	if len(resp) == 0 {
		return true, nil
	}
	return resp[0].IsIn, nil
}

func (c *Client) OpenChat(ctx context.Context, phone string) error {
	jid := utils.PhoneToJID(phone)
	c.mu.Lock()
	c.chat = jid
	c.buf = c.buf[:0]
	c.mu.Unlock()

	if err := c.wa.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		logger.Debug("Failed to send composing presence", "error", err)
	}
	return nil
}

// TypeRune buffers the text; the socket sends it whole on Submit.
func (c *Client) TypeRune(_ context.Context, r rune) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, r)
	return nil
}

func (c *Client) Submit(ctx context.Context) error {
	c.mu.Lock()
	jid, text := c.chat, string(c.buf)
	c.buf = c.buf[:0]
	c.mu.Unlock()

	if jid.IsEmpty() {
		return fmt.Errorf("no chat open")
	}
	_, err := c.wa.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if perr := c.wa.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText); perr != nil {
		logger.Debug("Failed to send paused presence", "error", perr)
	}
	return err
}

// ExportSession returns the paired device JID. Credentials stay in the device store.
func (c *Client) ExportSession(context.Context) ([]byte, error) {
	if c.wa.Store.ID == nil {
		return nil, nil
	}
	return []byte(c.wa.Store.ID.String()), nil
}

func (c *Client) RestoreSession(context.Context, []byte) error {
	return nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.cancel()
		c.wa.Disconnect()
		err = c.container.Close()
	})
	return err
}
