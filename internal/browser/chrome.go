package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/logger"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	selAuthenticated = `#pane-side`
	selPairing       = `div[data-ref]`
	selCompose       = `footer div[contenteditable="true"]`
)

// watchFailureLimit consecutive failed polls are reported once.
const watchFailureLimit = 5

const pairingScript = `(() => {
	const el = document.querySelector('div[data-ref]');
	const canvas = el ? el.querySelector('canvas') : document.querySelector('canvas');
	return {
		ref: el ? (el.getAttribute('data-ref') || '') : '',
		image: canvas ? canvas.toDataURL('image/png') : ''
	};
})()`

const chatStateScript = `(() => {
	if (document.querySelector('footer div[contenteditable="true"]')) return 'ready';
	const popup = document.querySelector('div[data-animate-modal-popup="true"]');
	if (popup && /invalid|inválido|não está no WhatsApp|not on WhatsApp/i.test(popup.textContent)) return 'invalid';
	return '';
})()`

const watchScript = `(() => {
	const messages = [];
	document.querySelectorAll('#pane-side [role="listitem"], #pane-side [role="row"]').forEach(row => {
		if (!row.querySelector('span[aria-label*="unread" i], span[aria-label*="não lida" i]')) return;
		const titles = row.querySelectorAll('span[title]');
		if (titles.length === 0) return;
		messages.push({
			sender: titles[0].getAttribute('title') || '',
			text: titles.length > 1 ? (titles[titles.length - 1].getAttribute('title') || '') : ''
		});
	});
	const conflict = Array.from(document.querySelectorAll('div[role="button"], button'))
		.some(b => /use here|usar aqui/i.test(b.textContent));
	return {
		authenticated: !!document.querySelector('#pane-side'),
		pairing: !!document.querySelector('div[data-ref]'),
		conflict: conflict,
		messages: messages
	};
})()`

// ChromeLauncher starts a Chrome tab pointed at WhatsApp Web.
type ChromeLauncher struct {
	BaseURL      string
	ExecPath     string
	UserDataDir  string
	Headless     bool
	PollInterval time.Duration
}

func (l *ChromeLauncher) Launch(ctx context.Context, opts automation.LaunchOptions) (automation.Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(1280, 900),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if l.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(l.UserDataDir))
	}
	if l.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser; a deadline here would kill it later.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome failed to start: %w", err)
	}
	if err := ctx.Err(); err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}

	poll := l.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	p := &ChromePage{
		baseURL:     l.BaseURL,
		timeout:     timeout,
		poll:        poll,
		observer:    automation.ObserverOrNop(opts.Observer),
		tab:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
		done:        make(chan struct{}),
	}
	go p.watch()
	return p, nil
}

var _ automation.Page = (*ChromePage)(nil)

// ChromePage drives one WhatsApp Web tab.
type ChromePage struct {
	baseURL     string
	timeout     time.Duration
	poll        time.Duration
	observer    automation.Observer
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// run executes actions bounded by timeout (the operation default when zero) and ctx.
func (p *ChromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	runCtx, cancel := context.WithTimeout(p.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

func (p *ChromePage) Navigate(ctx context.Context, target string) error {
	return p.run(ctx, 0, chromedp.Navigate(target))
}

func (p *ChromePage) Reload(ctx context.Context) error {
	return p.run(ctx, 0, chromedp.Reload())
}

func (p *ChromePage) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, 0, chromedp.Location(&loc))
	return loc, err
}

func (p *ChromePage) WaitAuthenticated(ctx context.Context, timeout time.Duration) (bool, error) {
	err := p.run(ctx, timeout, chromedp.WaitVisible(selAuthenticated, chromedp.ByQuery))
	if err == nil {
		return true, nil
	}
	if timedOut(ctx, err) {
		return false, nil
	}
	return false, err
}

func (p *ChromePage) IsAuthenticated(ctx context.Context) (bool, error) {
	return p.exists(ctx, selAuthenticated)
}

func (p *ChromePage) PairingVisible(ctx context.Context) (bool, error) {
	return p.exists(ctx, selPairing)
}

func (p *ChromePage) exists(ctx context.Context, sel string) (bool, error) {
	var ok bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
	err := p.run(ctx, 0, chromedp.Evaluate(script, &ok))
	return ok, err
}

func (p *ChromePage) WaitPairingCode(ctx context.Context, timeout time.Duration) (string, error) {
	err := p.run(ctx, timeout, chromedp.WaitVisible(selPairing, chromedp.ByQuery))
	if timedOut(ctx, err) {
		return "", automation.ErrPairingTimeout
	}
	if err != nil {
		return "", err
	}

	var res struct {
		Ref   string `json:"ref"`
		Image string `json:"image"`
	}
	if err := p.run(ctx, 0, chromedp.Evaluate(pairingScript, &res)); err != nil {
		return "", fmt.Errorf("failed to read pairing code: %w", err)
	}
	if res.Ref != "" {
		return automation.RenderQR(res.Ref)
	}
	if automation.IsImageDataURL(res.Image) {
		return res.Image, nil
	}
	return "", errors.New("pairing surface rendered without a payload")
}

// CanReceive cannot be answered before opening the chat, so the browser is permissive.
func (p *ChromePage) CanReceive(context.Context, string) (bool, error) {
	return true, nil
}

func (p *ChromePage) OpenChat(ctx context.Context, phone string) error {
	target := fmt.Sprintf("%s/send?phone=%s", p.baseURL, url.QueryEscape(phone))
	if err := p.run(ctx, 0,
		chromedp.Evaluate(`window.onbeforeunload = null;`, nil),
		chromedp.Navigate(target),
	); err != nil {
		return fmt.Errorf("failed to navigate to chat: %w", err)
	}

	deadline := time.Now().Add(p.timeout)
	for time.Now().Before(deadline) {
		var state string
		if err := p.run(ctx, 0, chromedp.Evaluate(chatStateScript, &state)); err != nil {
			return err
		}
		switch state {
		case "ready":
			return p.run(ctx, 0, chromedp.Click(selCompose, chromedp.ByQuery))
		case "invalid":
			return automation.ErrUnreachable
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return errors.New("chat did not open in time")
}

func (p *ChromePage) TypeRune(ctx context.Context, r rune) error {
	if r == '\n' {
		return p.run(ctx, 0, chromedp.KeyEvent(kb.Enter, chromedp.KeyModifiers(input.ModifierShift)))
	}
	return p.run(ctx, 0, chromedp.KeyEvent(string(r)))
}

func (p *ChromePage) Submit(ctx context.Context) error {
	return p.run(ctx, 0, chromedp.KeyEvent(kb.Enter))
}

func (p *ChromePage) ExportSession(ctx context.Context) ([]byte, error) {
	var raw string
	err := p.run(ctx, 0, chromedp.Evaluate(`JSON.stringify(Object.assign({}, window.localStorage))`, &raw))
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func (p *ChromePage) RestoreSession(ctx context.Context, blob []byte) error {
	if !json.Valid(blob) {
		return errors.New("session blob is not valid JSON")
	}
	script := fmt.Sprintf(`(() => {
		const data = %s;
		for (const k of Object.keys(data)) window.localStorage.setItem(k, data[k]);
		return true;
	})()`, blob)
	return p.run(ctx, 0, chromedp.Evaluate(script, nil))
}

func (p *ChromePage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = chromedp.Cancel(p.tab)
		p.cancelTab()
		p.cancelAlloc()
	})
	return err
}

type pageSnapshot struct {
	Authenticated bool `json:"authenticated"`
	Pairing       bool `json:"pairing"`
	Conflict      bool `json:"conflict"`
	Messages      []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"messages"`
}

// watch polls the tab for unread chats and session state changes.
func (p *ChromePage) watch() {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	seen := make(map[string]string)
	last := ""
	failures := 0

	for {
		select {
		case <-p.done:
			return
		case <-p.tab.Done():
			select {
			case <-p.done:
			default:
				p.observer.OnStateChange(automation.StateUnlaunched)
			}
			return
		case <-ticker.C:
		}

		var snap pageSnapshot
		if err := p.run(context.Background(), p.poll, chromedp.Evaluate(watchScript, &snap)); err != nil {
			logger.Debug("Page watch skipped", "error", err)
			if failures++; failures == watchFailureLimit {
				p.observer.OnError(fmt.Errorf("page watch failing: %w", err))
			}
			continue
		}
		failures = 0

		state := ""
		switch {
		case snap.Conflict:
			state = automation.StateConflict
		case snap.Authenticated:
			state = automation.StateConnected
		case snap.Pairing && last == automation.StateConnected:
			state = automation.StateUnpaired
		}
		if state != "" && state != last {
			last = state
			p.observer.OnStateChange(state)
		}

		if !snap.Authenticated {
			continue
		}
		for _, m := range snap.Messages {
			if m.Sender == "" || m.Text == "" || seen[m.Sender] == m.Text {
				continue
			}
			seen[m.Sender] = m.Text
			p.observer.OnNewMessage(m.Sender, m.Text)
		}
	}
}
