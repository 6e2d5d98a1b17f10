// Package automation defines the handle the bot drives against WhatsApp.
//
// A Page is one live session (a browser tab or a socket client). The
// connection and message layers only see these interfaces, so the
// concrete driver is chosen at start-up.
package automation

import (
	"context"
	"errors"
	"time"
)

// Raw session states reported by a driver.
const (
	StateConnected  = "CONNECTED"
	StateConflict   = "CONFLICT"
	StateUnpaired   = "UNPAIRED"
	StateUnlaunched = "UNLAUNCHED"
)

var (
	// ErrPairingTimeout is returned when no pairing surface renders in time.
	ErrPairingTimeout = errors.New("pairing code did not appear in time")
	// ErrUnreachable is returned when WhatsApp rejects the target number.
	ErrUnreachable = errors.New("number is not on WhatsApp")
)

// Page is a live automation handle.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)

	// WaitAuthenticated reports whether the logged-in marker shows up
	// within timeout. A timeout is not an error.
	WaitAuthenticated(ctx context.Context, timeout time.Duration) (bool, error)
	IsAuthenticated(ctx context.Context) (bool, error)

	// WaitPairingCode returns the pairing code as a data-URL image.
	WaitPairingCode(ctx context.Context, timeout time.Duration) (string, error)
	PairingVisible(ctx context.Context) (bool, error)

	CanReceive(ctx context.Context, phone string) (bool, error)
	OpenChat(ctx context.Context, phone string) error
	TypeRune(ctx context.Context, r rune) error
	Submit(ctx context.Context) error

	ExportSession(ctx context.Context) ([]byte, error)
	RestoreSession(ctx context.Context, blob []byte) error

	Close() error
}

// Observer receives events the driver sees on its own.
type Observer interface {
	OnNewMessage(sender, text string)
	OnStateChange(state string)
	OnAuthFailure(err error)
	// OnError reports a non-fatal driver problem.
	OnError(err error)
}

// LaunchOptions configures a new Page.
type LaunchOptions struct {
	UserAgent string
	Timeout   time.Duration
	Observer  Observer
}

// Launcher starts fresh automation handles.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, error)
}

type nopObserver struct{}

func (nopObserver) OnNewMessage(string, string) {}
func (nopObserver) OnStateChange(string) {}
func (nopObserver) OnAuthFailure(error) {}
func (nopObserver) OnError(error) {}

// ObserverOrNop never returns nil.
func ObserverOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
