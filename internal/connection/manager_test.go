package connection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/browser"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store/memory"
)

const waURL = "https://web.whatsapp.com"

// recorder mirrors the state changes the real handlers make.
type recorder struct {
	state *session.State

	mu          sync.Mutex
	codes       []string
	connected   int
	reasons     []string
	connectErrs []error
}

func (r *recorder) OnQRCodeGenerated(_ context.Context, code string) {
	r.state.SetPairingCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recorder) OnConnected(context.Context) {
	r.state.MarkConnected(time.Now())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *recorder) OnDisconnected(_ context.Context, reason string) {
	r.state.MarkDisconnected()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recorder) OnConnectFailed(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectErrs = append(r.connectErrs, err)
}

func (r *recorder) snapshot() (codes []string, connected int, reasons []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.codes...), r.connected, append([]string(nil), r.reasons...)
}

type fixture struct {
	manager  *Manager
	state    *session.State
	launcher *automation.FakeLauncher
	store    *memory.Store
	rec      *recorder
}

func testOptions() Options {
	return Options{
		URL:                 waURL,
		AuthProbeTimeout:    time.Second,
		PairingTimeout:      time.Second,
		QRRefreshInterval:   time.Hour,
		HealthInterval:      time.Hour,
		HealthConfirmations: 2,
		LoginPollInterval:   time.Hour,
		LoginTimeout:        time.Hour,
	}
}

func newFixture(t *testing.T, opts Options, newPage func() *automation.FakePage) *fixture {
	t.Helper()
	st := session.New()
	mem := memory.New()
	errs := errlog.NewRecorder(mem, mem)
	launcher := &automation.FakeLauncher{NewPage: newPage}
	b := browser.NewManager(launcher, st, errs, "test-agent", time.Minute)

	m := NewManager(b, st, errs, opts)
	rec := &recorder{state: st}
	m.SetListener(rec)
	t.Cleanup(m.Shutdown)

	return &fixture{manager: m, state: st, launcher: launcher, store: mem, rec: rec}
}

func pairingPage() *automation.FakePage {
	return automation.NewFakePage("2@pairing-ref,key,secret")
}

func authedPage() *automation.FakePage {
	p := automation.NewFakePage("")
	p.SetAuthenticated(true)
	return p
}

func TestConnectAlreadyAuthenticated(t *testing.T) {
	f := newFixture(t, testOptions(), authedPage)

	res, err := f.manager.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !res.IsConnected || res.PairingCode != "" {
		t.Fatalf("result = %+v", res)
	}
	codes, connected, _ := f.rec.snapshot()
	if connected != 1 || len(codes) != 0 {
		t.Fatalf("connected = %d, codes = %d", connected, len(codes))
	}
	if nav := f.launcher.LastPage().Navigations(); len(nav) != 1 || nav[0] != waURL {
		t.Fatalf("navigations = %v", nav)
	}
}

func TestConnectIssuesPairingCode(t *testing.T) {
	f := newFixture(t, testOptions(), pairingPage)

	res, err := f.manager.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if res.IsConnected || !strings.HasPrefix(res.PairingCode, automation.DataURLPrefix) {
		t.Fatalf("result = %+v", res)
	}
	if f.state.PairingCode() != res.PairingCode {
		t.Fatal("pairing code not handed to listener")
	}
	f.manager.mu.Lock()
	running := f.manager.timers != nil && f.manager.loginCancel != nil
	f.manager.mu.Unlock()
	if !running {
		t.Fatal("timers or login watcher not started")
	}
}

func TestConnectFailures(t *testing.T) {
	tests := []struct {
		name     string
		launch   error
		page     func() *automation.FakePage
		category errlog.Category
		want     error
	}{
		{
			name:     "launch fails",
			launch:   errors.New("no chrome"),
			category: errlog.BrowserInit,
		},
		{
			name:     "pairing surface missing",
			page:     func() *automation.FakePage { return automation.NewFakePage("") },
			category: errlog.AuthenticationCheck,
			want:     automation.ErrPairingTimeout,
		},
		{
			name: "navigation fails",
			page: func() *automation.FakePage {
				p := pairingPage()
				p.SetNavigateError(errors.New("net::ERR_NAME_NOT_RESOLVED"))
				return p
			},
			category: errlog.BrowserInit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testOptions(), tt.page)
			f.launcher.SetErr(tt.launch)

			_, err := f.manager.Connect(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.state.Page() != nil || f.state.IsConnected() {
				t.Fatalf("state = %+v", f.state.Snapshot())
			}
			errs := f.store.Errors()
			if len(errs) == 0 || errs[0].ErrorType != string(tt.category) {
				t.Fatalf("errors = %+v", errs)
			}
			if p := f.launcher.LastPage(); p != nil && p.CloseCount() != 1 {
				t.Fatalf("page closed %d times", p.CloseCount())
			}
			f.rec.mu.Lock()
			failed := len(f.rec.connectErrs)
			f.rec.mu.Unlock()
			if failed != 1 {
				t.Fatalf("connect failures reported = %d", failed)
			}
		})
	}
}

func TestConnectWhenConnectedIsNoop(t *testing.T) {
	f := newFixture(t, testOptions(), authedPage)
	ctx := context.Background()

	if _, err := f.manager.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := f.manager.Connect(ctx)
	if err != nil || !res.IsConnected {
		t.Fatalf("second Connect = %+v, %v", res, err)
	}
	if f.launcher.Launches() != 1 {
		t.Fatalf("launches = %d, want 1", f.launcher.Launches())
	}
}

func TestConnectRestoresSavedSession(t *testing.T) {
	f := newFixture(t, testOptions(), authedPage)
	f.state.SetBlob([]byte(`{"WABrowserId":"x"}`))

	if _, err := f.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	page := f.launcher.LastPage()
	if string(page.Restored()) != `{"WABrowserId":"x"}` || page.Reloads() != 1 {
		t.Fatalf("restored = %q, reloads = %d", page.Restored(), page.Reloads())
	}
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name          string
		connected     bool
		authenticated bool
		url           string
		runs          int
		wantReasons   []string
		wantConnected int
	}{
		{name: "page changed", connected: true, authenticated: true, url: "https://example.com", runs: 1, wantReasons: []string{ReasonPageChanged}},
		{name: "session expired", connected: true, authenticated: false, url: waURL + "/", runs: 1, wantReasons: []string{ReasonSessionExpired}},
		{name: "missed login needs confirmation", connected: false, authenticated: true, url: waURL, runs: 1},
		{name: "missed login confirmed", connected: false, authenticated: true, url: waURL, runs: 2, wantConnected: 1},
		{name: "healthy", connected: true, authenticated: true, url: waURL, runs: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testOptions(), nil)
			page := automation.NewFakePage("")
			page.SetURL(tt.url)
			page.SetAuthenticated(tt.authenticated)
			f.state.SetPage(page)
			if tt.connected {
				f.state.MarkConnected(time.Now())
			}

			for i := 0; i < tt.runs; i++ {
				f.manager.CheckHealth(context.Background())
			}

			_, connected, reasons := f.rec.snapshot()
			if connected != tt.wantConnected {
				t.Fatalf("connected events = %d, want %d", connected, tt.wantConnected)
			}
			if len(reasons) != len(tt.wantReasons) {
				t.Fatalf("reasons = %v, want %v", reasons, tt.wantReasons)
			}
			for i := range reasons {
				if reasons[i] != tt.wantReasons[i] {
					t.Fatalf("reasons = %v, want %v", reasons, tt.wantReasons)
				}
			}
		})
	}
}

func TestCheckHealthWithoutPage(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.manager.CheckHealth(context.Background())

	codes, connected, reasons := f.rec.snapshot()
	if len(codes)+connected+len(reasons) != 0 {
		t.Fatal("health check without a page produced events")
	}
}

func TestRefreshPairingTimer(t *testing.T) {
	f := newFixture(t, testOptions(), pairingPage)
	if _, err := f.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	f.manager.refreshPairing()

	codes, _, _ := f.rec.snapshot()
	if len(codes) != 2 || f.launcher.LastPage().Reloads() != 1 {
		t.Fatalf("codes = %d, reloads = %d", len(codes), f.launcher.LastPage().Reloads())
	}

	f.state.MarkConnected(time.Now())
	f.manager.refreshPairing()
	if codes, _, _ := f.rec.snapshot(); len(codes) != 2 {
		t.Fatalf("refresh ran while connected: %d codes", len(codes))
	}
}

func TestRefreshPairingCode(t *testing.T) {
	f := newFixture(t, testOptions(), pairingPage)
	ctx := context.Background()

	code, err := f.manager.RefreshPairingCode(ctx)
	if err != nil || !automation.IsImageDataURL(code) {
		t.Fatalf("RefreshPairingCode without page = %q, %v", code, err)
	}
	if f.launcher.Launches() != 1 {
		t.Fatalf("launches = %d", f.launcher.Launches())
	}

	code, err = f.manager.RefreshPairingCode(ctx)
	if err != nil || code == "" {
		t.Fatalf("RefreshPairingCode = %q, %v", code, err)
	}
	if f.launcher.LastPage().Reloads() != 1 {
		t.Fatalf("reloads = %d", f.launcher.LastPage().Reloads())
	}

	f.state.MarkConnected(time.Now())
	if _, err := f.manager.RefreshPairingCode(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("err = %v, want ErrAlreadyConnected", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoginWatcherDetectsPairing(t *testing.T) {
	opts := testOptions()
	opts.LoginPollInterval = 5 * time.Millisecond
	f := newFixture(t, opts, pairingPage)

	if _, err := f.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f.launcher.LastPage().SetAuthenticated(true)

	waitFor(t, func() bool {
		_, connected, _ := f.rec.snapshot()
		return connected == 1
	})
	if f.state.PairingCode() != "" {
		t.Fatal("pairing code survived login")
	}
}

func TestLoginWatcherTimesOut(t *testing.T) {
	opts := testOptions()
	opts.LoginPollInterval = 5 * time.Millisecond
	opts.LoginTimeout = 30 * time.Millisecond
	f := newFixture(t, opts, pairingPage)

	if _, err := f.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool {
		_, _, reasons := f.rec.snapshot()
		return len(reasons) == 1 && reasons[0] == ReasonPairingTimeout
	})
}

func TestShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t, testOptions(), pairingPage)
	if _, err := f.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	page := f.launcher.LastPage()

	f.manager.Shutdown()
	f.manager.Shutdown()

	if f.state.Page() != nil || page.CloseCount() != 1 {
		t.Fatalf("page = %v, closes = %d", f.state.Page(), page.CloseCount())
	}
}
