package messaging

import (
	"context"

	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"

	"golang.org/x/time/rate"
)

// Drain delivers queued messages in FIFO order until the queue empties or the
// connection drops. Only one drain runs at a time; it returns the number delivered.
func (s *Sender) Drain(ctx context.Context) int {
	if !s.state.TryBeginDrain() {
		logger.Debug("Queue drain already running")
		return 0
	}
	defer s.state.EndDrain()

	pending := s.state.QueueLen()
	if pending == 0 {
		return 0
	}
	logger.Info("Draining message queue", "pending", pending)

	limiter := rate.NewLimiter(rate.Every(s.opts.DrainInterval), 1)
	delivered := 0

	for s.state.IsConnected() {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if !s.state.IsConnected() {
			break
		}
		msg, ok := s.state.Dequeue()
		if !ok {
			break
		}

		if err := s.deliver(ctx, msg); err != nil {
			s.errs.Record(ctx, errlog.SendMessage, err)
			if msg.RetryCount < s.opts.MaxRetries {
				msg.RetryCount++
				msg.EnqueuedAt = s.now()
				s.state.Enqueue(msg)
				continue
			}
			logger.Warn("Dropping message after retries", "phone", msg.PhoneNumber, "retries", msg.RetryCount, "error", err)
			continue
		}
		delivered++
	}

	logger.Info("Queue drain finished", "delivered", delivered, "remaining", s.state.QueueLen())
	return delivered
}
