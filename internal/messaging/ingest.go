package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/notify"
	"wa-bot-go/internal/store"
	"wa-bot-go/internal/utils"
)

// Ingestor turns inbound messages into lead and message rows.
type Ingestor struct {
	leads    store.LeadStore
	messages store.MessageStore
	assigner *Assigner
	errs     *errlog.Recorder
	notifier notify.Notifier
	now      func() time.Time

	// one lead per phone relies on lookups and creates not interleaving
	mu sync.Mutex
}

func NewIngestor(leads store.LeadStore, messages store.MessageStore, assigner *Assigner, errs *errlog.Recorder, notifier notify.Notifier) *Ingestor {
	return &Ingestor{
		leads:    leads,
		messages: messages,
		assigner: assigner,
		errs:     errs,
		notifier: notify.OrNop(notifier),
		now:      time.Now,
	}
}

// Process stores one inbound message and returns the lead it belongs to.
func (in *Ingestor) Process(ctx context.Context, sender, text string) (*store.Lead, error) {
	phone := utils.NormalizePhone(sender)
	if phone == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, sender)
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	lead, err := in.leads.GetLeadByPhone(ctx, phone)
	if err != nil {
		err = fmt.Errorf("failed to look up lead: %w", err)
		in.errs.Record(ctx, errlog.MessageProcessing, err)
		return nil, err
	}

	now := in.now()
	created := false
	if lead == nil {
		lead = &store.Lead{
			PhoneNumber:      phone,
			FirstMessageText: text,
			Status:           store.LeadStatusNew,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		id, err := in.leads.CreateLead(ctx, lead)
		if err != nil {
			err = fmt.Errorf("failed to create lead: %w", err)
			in.errs.Record(ctx, errlog.MessageProcessing, err)
			return nil, err
		}
		lead.ID = id
		created = true
		logger.Info("New lead created", "leadId", id, "phone", phone)
	}

	msg := &store.Message{
		LeadID:    lead.ID,
		Text:      text,
		Direction: store.DirectionIncoming,
		IsRead:    false,
		CreatedAt: now,
	}
	msgID, err := in.messages.InsertMessage(ctx, msg)
	if err != nil {
		err = fmt.Errorf("failed to store incoming message: %w", err)
		in.errs.Record(ctx, errlog.MessageProcessing, err)
		return lead, err
	}

	in.notifier.Publish(ctx, notify.EventMessageReceived, map[string]any{
		"leadId":      lead.ID,
		"messageId":   msgID,
		"phoneNumber": phone,
		"text":        utils.Truncate(text, 200),
	})

	if created {
		if in.assigner != nil {
			sellerID, err := in.assigner.Assign(ctx, lead.ID)
			if err != nil {
				in.errs.Record(ctx, errlog.MessageProcessing, fmt.Errorf("lead %s: %w", lead.ID, err))
			}
			if sellerID != "" {
				lead.AssignedSalespersonID = sellerID
			}
		}
		in.notifier.Publish(ctx, notify.EventLeadCreated, lead)
	}
	return lead, nil
}
