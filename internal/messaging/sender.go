// Package messaging delivers outbound messages and ingests inbound ones.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/notify"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store"
	"wa-bot-go/internal/utils"
)

var (
	ErrNotOnWhatsApp = errors.New("number is not on WhatsApp")
	ErrInvalidPhone  = errors.New("invalid phone number")
	errNoPage        = errors.New("no automation handle")
)

type Status int

const (
	Delivered Status = iota
	Queued
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	default:
		return "failed"
	}
}

// Outcome is the result of one Send. Reason is set only when Failed.
type Outcome struct {
	Status Status
	Reason error
}

type Request struct {
	PhoneNumber string
	Text        string
	LeadID      string
	UserID      string
}

// Pacing controls the human-like delays around every delivery.
type Pacing struct {
	SendDelayMin   time.Duration
	SendDelayMax   time.Duration
	TypingDelayMin time.Duration
	TypingDelayMax time.Duration
	PauseChance    float64
	PauseMin       time.Duration
	PauseMax       time.Duration
}

type Options struct {
	Pacing        Pacing
	DrainInterval time.Duration
	MaxRetries    int
}

type Sender struct {
	state    *session.State
	messages store.MessageStore
	errs     *errlog.Recorder
	notifier notify.Notifier
	opts     Options

	// deliverMu serializes use of the single page across Send and Drain.
	deliverMu sync.Mutex

	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
	now    func() time.Time
}

func NewSender(state *session.State, messages store.MessageStore, errs *errlog.Recorder, notifier notify.Notifier, opts Options) *Sender {
	return &Sender{
		state:    state,
		messages: messages,
		errs:     errs,
		notifier: notify.OrNop(notifier),
		opts:     opts,
		sleep:    sleepContext,
		random:   rand.Float64,
		now:      time.Now,
	}
}

// Send delivers now when connected and queues otherwise. Failed sends are queued again.
func (s *Sender) Send(ctx context.Context, req Request) Outcome {
	msg := session.QueuedMessage{
		PhoneNumber: req.PhoneNumber,
		Text:        req.Text,
		LeadID:      req.LeadID,
		UserID:      req.UserID,
		EnqueuedAt:  s.now(),
	}

	if !s.state.IsConnected() {
		s.enqueue(ctx, msg)
		logger.Info("WhatsApp not connected, message queued", "phone", req.PhoneNumber)
		return Outcome{Status: Queued}
	}

	if err := s.deliver(ctx, msg); err != nil {
		s.errs.Record(ctx, errlog.SendMessage, err)
		msg.RetryCount = 0
		s.enqueue(ctx, msg)
		return Outcome{Status: Failed, Reason: err}
	}
	return Outcome{Status: Delivered}
}

func (s *Sender) enqueue(ctx context.Context, msg session.QueuedMessage) {
	size := s.state.Enqueue(msg)
	s.notifier.Publish(ctx, notify.EventMessageQueued, map[string]any{
		"phoneNumber":      msg.PhoneNumber,
		"messageQueueSize": size,
	})
}

func (s *Sender) deliver(ctx context.Context, msg session.QueuedMessage) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	page := s.state.Page()
	if page == nil {
		return errNoPage
	}

	p := s.opts.Pacing
	if err := s.sleep(ctx, s.between(p.SendDelayMin, p.SendDelayMax)); err != nil {
		return err
	}

	phone := utils.NormalizePhone(msg.PhoneNumber)
	if phone == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, msg.PhoneNumber)
	}

	ok, err := page.CanReceive(ctx, phone)
	if err != nil {
		logger.Debug("Number check failed, assuming reachable", "phone", phone, "error", err)
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOnWhatsApp, phone)
	}

	if err := page.OpenChat(ctx, phone); err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}

	for _, r := range utils.NormalizeNewlines(msg.Text) {
		if err := page.TypeRune(ctx, r); err != nil {
			return fmt.Errorf("failed to type message: %w", err)
		}
		delay := s.between(p.TypingDelayMin, p.TypingDelayMax)
		if s.random() < p.PauseChance {
			delay += s.between(p.PauseMin, p.PauseMax)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if err := page.Submit(ctx); err != nil {
		return fmt.Errorf("failed to submit message: %w", err)
	}

	now := s.now()
	if msg.LeadID != "" {
		row := &store.Message{
			LeadID:    msg.LeadID,
			Text:      msg.Text,
			Direction: store.DirectionOutgoing,
			SentBy:    msg.UserID,
			IsRead:    true,
			CreatedAt: now,
		}
		if _, err := s.messages.InsertMessage(ctx, row); err != nil {
			logger.Warn("Message sent but not stored", "leadId", msg.LeadID, "error", err)
		}
	}
	s.state.Touch(now)

	logger.Info("Message sent", "phone", phone, "leadId", msg.LeadID)
	s.notifier.Publish(ctx, notify.EventMessageSent, map[string]any{
		"phoneNumber": phone,
		"leadId":      msg.LeadID,
	})
	return nil
}

// between returns a uniform duration in [lo, hi].
func (s *Sender) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.random()*float64(hi-lo))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
