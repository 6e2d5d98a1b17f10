package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store/memory"
)

func newTestManager(l automation.Launcher) (*Manager, *session.State, *memory.Store) {
	st := memory.New()
	state := session.New()
	return NewManager(l, state, errlog.NewRecorder(st, st), "test-agent", time.Minute), state, st
}

func TestInitializeClosesPrevious(t *testing.T) {
	l := &automation.FakeLauncher{}
	m, state, _ := newTestManager(l)

	first, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	second, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if first.(*automation.FakePage).CloseCount() != 1 {
		t.Fatal("previous handle was not closed")
	}
	if state.Page() != second {
		t.Fatal("state does not hold the new handle")
	}
	if opts := l.Options(); opts.UserAgent != "test-agent" || opts.Timeout != time.Minute || opts.Observer == nil {
		t.Fatalf("launch options = %+v", opts)
	}
}

func TestCleanupTwice(t *testing.T) {
	m, state, _ := newTestManager(&automation.FakeLauncher{})
	if _, err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.Cleanup()
	if state.Page() != nil {
		t.Fatal("handle not nil after first cleanup")
	}
	m.Cleanup()
	if state.Page() != nil {
		t.Fatal("handle not nil after second cleanup")
	}
}

func TestCleanupSwallowsCloseError(t *testing.T) {
	l := &automation.FakeLauncher{NewPage: func() *automation.FakePage {
		p := automation.NewFakePage("")
		p.SetCloseError(errors.New("target closed"))
		return p
	}}
	m, state, _ := newTestManager(l)
	if _, err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.Cleanup()

	if state.Page() != nil {
		t.Fatal("handle must be nil even when close fails")
	}
}

func TestInitializeFailureRecorded(t *testing.T) {
	l := &automation.FakeLauncher{Err: errors.New("chrome failed to start")}
	m, state, st := newTestManager(l)

	if _, err := m.Initialize(context.Background()); err == nil {
		t.Fatal("expected launch error")
	}
	if state.Page() != nil {
		t.Fatal("no handle expected after failure")
	}
	errs := st.Errors()
	if len(errs) != 1 || errs[0].ErrorType != string(errlog.BrowserInit) {
		t.Fatalf("error log = %+v", errs)
	}
}
