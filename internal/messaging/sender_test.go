package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/notify"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store"
	"wa-bot-go/internal/store/memory"
)

type harness struct {
	sender  *Sender
	state   *session.State
	page    *automation.FakePage
	store   *memory.Store
	capture *notify.Capture
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st := session.New()
	mem := memory.New()
	capture := &notify.Capture{}
	if opts.DrainInterval == 0 {
		opts.DrainInterval = time.Millisecond
	}
	s := NewSender(st, mem, errlog.NewRecorder(mem, mem), capture, opts)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return &harness{
		sender:  s,
		state:   st,
		page:    automation.NewFakePage(""),
		store:   mem,
		capture: capture,
	}
}

func (h *harness) connect() {
	h.state.SetPage(h.page)
	h.state.MarkConnected(time.Now())
}

func (h *harness) errorCount(category errlog.Category) int {
	n := 0
	for _, e := range h.store.Errors() {
		if e.ErrorType == string(category) {
			n++
		}
	}
	return n
}

func TestSendDeliversToNormalizedPhone(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	h.connect()

	out := h.sender.Send(context.Background(), Request{
		PhoneNumber: "+55 11 91234-5678",
		Text:        "Olá",
		LeadID:      "lead-1",
		UserID:      "staff-9",
	})
	if out.Status != Delivered {
		t.Fatalf("status = %v, reason = %v", out.Status, out.Reason)
	}

	opened := h.page.Opened()
	if len(opened) != 1 || opened[0] != "5511912345678" {
		t.Fatalf("opened = %v", opened)
	}
	sent := h.page.Sent()
	if len(sent) != 1 || sent[0].Text != "Olá" {
		t.Fatalf("sent = %+v", sent)
	}

	msgs := h.store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Direction != store.DirectionOutgoing || m.Text != "Olá" || m.LeadID != "lead-1" || m.SentBy != "staff-9" {
		t.Fatalf("message = %+v", m)
	}
	if h.state.LastActivity().IsZero() {
		t.Fatal("last activity not updated")
	}
	if h.capture.Count(notify.EventMessageSent) != 1 {
		t.Fatalf("events = %+v", h.capture.Events())
	}
}

func TestSendWithoutLeadSkipsMessageRow(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	h.connect()

	if out := h.sender.Send(context.Background(), Request{PhoneNumber: "5511999990000", Text: "hi"}); out.Status != Delivered {
		t.Fatalf("status = %v", out.Status)
	}
	if len(h.store.Messages()) != 0 {
		t.Fatalf("messages = %+v", h.store.Messages())
	}
}

func TestSendQueuesWhenDisconnected(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})

	out := h.sender.Send(context.Background(), Request{PhoneNumber: "5511912345678", Text: "hello"})
	if out.Status != Queued {
		t.Fatalf("status = %v", out.Status)
	}
	if h.state.QueueLen() != 1 {
		t.Fatalf("queue = %d, want 1", h.state.QueueLen())
	}
	q := h.state.Queue()[0]
	if q.RetryCount != 0 || q.EnqueuedAt.IsZero() || q.Text != "hello" {
		t.Fatalf("queued = %+v", q)
	}
	if h.capture.Count(notify.EventMessageQueued) != 1 {
		t.Fatalf("events = %+v", h.capture.Events())
	}
}

func TestSendFailureRequeues(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *automation.FakePage)
		phone string
		want  error
	}{
		{
			name:  "submit fails",
			setup: func(p *automation.FakePage) { p.FailNextSubmits(1) },
			phone: "5511912345678",
		},
		{
			name:  "not on whatsapp",
			setup: func(p *automation.FakePage) { p.SetUnreachable("5511912345678") },
			phone: "+55 (11) 91234-5678",
			want:  ErrNotOnWhatsApp,
		},
		{
			name:  "invalid phone",
			setup: func(*automation.FakePage) {},
			phone: "n/a",
			want:  ErrInvalidPhone,
		},
		{
			name:  "chat does not open",
			setup: func(p *automation.FakePage) { p.SetOpenError(errors.New("boom")) },
			phone: "5511912345678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{MaxRetries: 3})
			tt.setup(h.page)
			h.connect()

			out := h.sender.Send(context.Background(), Request{PhoneNumber: tt.phone, Text: "x"})
			if out.Status != Failed || out.Reason == nil {
				t.Fatalf("outcome = %+v", out)
			}
			if tt.want != nil && !errors.Is(out.Reason, tt.want) {
				t.Fatalf("reason = %v, want %v", out.Reason, tt.want)
			}
			if h.state.QueueLen() != 1 || h.state.Queue()[0].RetryCount != 0 {
				t.Fatalf("queue = %+v", h.state.Queue())
			}
			if h.errorCount(errlog.SendMessage) != 1 {
				t.Fatalf("errors = %+v", h.store.Errors())
			}
		})
	}
}

func TestTypingPacing(t *testing.T) {
	h := newHarness(t, Options{
		MaxRetries: 3,
		Pacing: Pacing{
			SendDelayMin:   2 * time.Second,
			SendDelayMax:   2 * time.Second,
			TypingDelayMin: 50 * time.Millisecond,
			TypingDelayMax: 50 * time.Millisecond,
			PauseChance:    0.1,
			PauseMin:       300 * time.Millisecond,
			PauseMax:       300 * time.Millisecond,
		},
	})
	var sleeps []time.Duration
	h.sender.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	// Below the pause chance on every draw.
	h.sender.random = func() float64 { return 0.05 }
	h.connect()

	if out := h.sender.Send(context.Background(), Request{PhoneNumber: "551100", Text: "abc"}); out.Status != Delivered {
		t.Fatalf("status = %v", out.Status)
	}

	want := []time.Duration{2 * time.Second, 350 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleeps[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestBetween(t *testing.T) {
	h := newHarness(t, Options{})
	h.sender.random = func() float64 { return 0.5 }

	if got := h.sender.between(time.Second, 3*time.Second); got != 2*time.Second {
		t.Fatalf("between = %v, want 2s", got)
	}
	if got := h.sender.between(time.Second, time.Second); got != time.Second {
		t.Fatalf("between = %v, want 1s", got)
	}
}

func TestDrainFIFO(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		h.sender.Send(ctx, Request{PhoneNumber: "5511912345678", Text: text})
	}
	h.connect()

	if got := h.sender.Drain(ctx); got != 3 {
		t.Fatalf("delivered = %d, want 3", got)
	}
	sent := h.page.Sent()
	for i, want := range []string{"one", "two", "three"} {
		if sent[i].Text != want {
			t.Fatalf("sent[%d] = %q, want %q (all %+v)", i, sent[i].Text, want, sent)
		}
	}
	if h.state.QueueLen() != 0 || h.state.Draining() {
		t.Fatalf("queue = %d, draining = %v", h.state.QueueLen(), h.state.Draining())
	}
}

func TestDrainRetriesThenDrops(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	ctx := context.Background()
	h.sender.Send(ctx, Request{PhoneNumber: "5511912345678", Text: "doomed"})
	h.page.FailNextSubmits(100)
	h.connect()

	if got := h.sender.Drain(ctx); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
	// first attempt plus three retries
	if got := h.errorCount(errlog.SendMessage); got != 4 {
		t.Fatalf("send errors = %d, want 4", got)
	}
	if h.state.QueueLen() != 0 {
		t.Fatalf("queue = %+v", h.state.Queue())
	}
}

func TestDrainRetryKeepsOrder(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	ctx := context.Background()
	h.sender.Send(ctx, Request{PhoneNumber: "1", Text: "a"})
	h.sender.Send(ctx, Request{PhoneNumber: "2", Text: "b"})
	h.page.FailNextSubmits(2)
	h.connect()

	if got := h.sender.Drain(ctx); got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}
	sent := h.page.Sent()
	if len(sent) != 2 || sent[0].Text != "a" || sent[1].Text != "b" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestDrainStopsOnDisconnect(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		h.sender.Send(ctx, Request{PhoneNumber: "5511912345678", Text: text})
	}
	h.page.OnSubmit = func(automation.SentMessage) { h.state.MarkDisconnected() }
	h.connect()

	if got := h.sender.Drain(ctx); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	q := h.state.Queue()
	if len(q) != 2 || q[0].Text != "two" || q[1].Text != "three" {
		t.Fatalf("queue = %+v", q)
	}
}

func TestDrainSpacing(t *testing.T) {
	const interval = 40 * time.Millisecond
	h := newHarness(t, Options{MaxRetries: 3, DrainInterval: interval})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.sender.Send(ctx, Request{PhoneNumber: "5511912345678", Text: "x"})
	}

	var mu sync.Mutex
	var at []time.Time
	h.page.OnSubmit = func(automation.SentMessage) {
		mu.Lock()
		at = append(at, time.Now())
		mu.Unlock()
	}
	h.connect()
	h.sender.Drain(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(at) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(at))
	}
	for i := 1; i < len(at); i++ {
		if gap := at[i].Sub(at[i-1]); gap < interval-5*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestDrainSingleFlight(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	ctx := context.Background()
	h.sender.Send(ctx, Request{PhoneNumber: "1", Text: "a"})
	h.connect()

	if !h.state.TryBeginDrain() {
		t.Fatal("could not claim drain")
	}
	if got := h.sender.Drain(ctx); got != 0 {
		t.Fatalf("concurrent drain delivered %d", got)
	}
	h.state.EndDrain()
	if got := h.sender.Drain(ctx); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	h := newHarness(t, Options{MaxRetries: 3})
	// yield between keystrokes so unserialized senders would interleave
	h.sender.sleep = func(context.Context, time.Duration) error {
		time.Sleep(time.Millisecond)
		return nil
	}
	ctx := context.Background()

	want := map[string]string{
		"111": "aaaaaaaaaa",
		"222": "bbbbbbbbbb",
		"333": "cccccccccc",
	}
	h.sender.Send(ctx, Request{PhoneNumber: "333", Text: want["333"]})
	h.connect()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.sender.Drain(ctx)
	}()
	for _, phone := range []string{"111", "222"} {
		go func() {
			defer wg.Done()
			if out := h.sender.Send(ctx, Request{PhoneNumber: phone, Text: want[phone]}); out.Status != Delivered {
				t.Errorf("send %s = %v (%v)", phone, out.Status, out.Reason)
			}
		}()
	}
	wg.Wait()

	sent := h.page.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %+v, want 3 messages", sent)
	}
	for _, m := range sent {
		if m.Text != want[m.Phone] {
			t.Errorf("chat %s got %q, want %q", m.Phone, m.Text, want[m.Phone])
		}
	}
}
