package automation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SentMessage is one message a FakePage submitted.
type SentMessage struct {
	Phone string
	Text  string
}

// FakePage is an in-memory Page for tests and local dry runs.
type FakePage struct {
	mu sync.Mutex

	url           string
	authenticated bool
	pairingRaw    string
	pairingErr    error
	navigateErr   error
	openErr       error
	closeErr      error
	failSubmits   int
	unreachable   map[string]bool
	blob          []byte

	navigations []string
	reloads     int
	opened      []string
	sent        []SentMessage
	restored    []byte
	closed      int
	chat        string
	typing      []rune

	// OnSubmit runs after every successful submit, outside the lock.
	OnSubmit func(SentMessage)
}

// NewFakePage returns a page that shows pairingRaw until authenticated.
func NewFakePage(pairingRaw string) *FakePage {
	return &FakePage{pairingRaw: pairingRaw}
}

func (p *FakePage) SetAuthenticated(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = v
}

func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *FakePage) SetPairing(raw string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairingRaw = raw
	p.pairingErr = err
}

func (p *FakePage) SetNavigateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigateErr = err
}

func (p *FakePage) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

func (p *FakePage) SetCloseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// FailNextSubmits makes the next n submits return an error.
func (p *FakePage) FailNextSubmits(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSubmits = n
}

func (p *FakePage) SetUnreachable(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unreachable == nil {
		p.unreachable = make(map[string]bool)
	}
	p.unreachable[phone] = true
}

func (p *FakePage) SetBlob(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blob = b
}

func (p *FakePage) Sent() []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentMessage(nil), p.sent...)
}

func (p *FakePage) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.opened...)
}

func (p *FakePage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *FakePage) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *FakePage) Restored() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restored
}

func (p *FakePage) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.navigations = append(p.navigations, url)
	p.url = url
	return nil
}

func (p *FakePage) Reload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return nil
}

func (p *FakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) WaitAuthenticated(ctx context.Context, _ time.Duration) (bool, error) {
	return p.IsAuthenticated(ctx)
}

func (p *FakePage) IsAuthenticated(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated, nil
}

func (p *FakePage) WaitPairingCode(context.Context, time.Duration) (string, error) {
	p.mu.Lock()
	raw, err := p.pairingRaw, p.pairingErr
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", ErrPairingTimeout
	}
	return RenderQR(raw)
}

func (p *FakePage) PairingVisible(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.authenticated && p.pairingRaw != "", nil
}

func (p *FakePage) CanReceive(_ context.Context, phone string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unreachable[phone], nil
}

func (p *FakePage) OpenChat(_ context.Context, phone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return p.openErr
	}
	p.opened = append(p.opened, phone)
	p.chat = phone
	p.typing = p.typing[:0]
	return nil
}

func (p *FakePage) TypeRune(_ context.Context, r rune) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, r)
	return nil
}

func (p *FakePage) Submit(context.Context) error {
	p.mu.Lock()
	if p.failSubmits > 0 {
		p.failSubmits--
		p.typing = p.typing[:0]
		p.mu.Unlock()
		return errors.New("fake submit failure")
	}
	msg := SentMessage{Phone: p.chat, Text: string(p.typing)}
	p.sent = append(p.sent, msg)
	p.typing = p.typing[:0]
	hook := p.OnSubmit
	p.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (p *FakePage) ExportSession(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blob, nil
}

func (p *FakePage) RestoreSession(_ context.Context, blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restored = append([]byte(nil), blob...)
	return nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

// FakeLauncher hands out FakePages.
type FakeLauncher struct {
	mu sync.Mutex

	// NewPage builds each launched page. Defaults to NewFakePage("").
	NewPage func() *FakePage
	Err     error

	pages    []*FakePage
	observer Observer
	opts     LaunchOptions
}

func (l *FakeLauncher) Launch(_ context.Context, opts LaunchOptions) (Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var page *FakePage
	if l.NewPage != nil {
		page = l.NewPage()
	} else {
		page = NewFakePage("")
	}
	l.pages = append(l.pages, page)
	l.observer = opts.Observer
	l.opts = opts
	return page, nil
}

func (l *FakeLauncher) SetErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Err = err
}

func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pages)
}

// LastPage returns the most recently launched page, or nil.
func (l *FakeLauncher) LastPage() *FakePage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}

func (l *FakeLauncher) Observer() Observer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.observer
}

func (l *FakeLauncher) Options() LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}
