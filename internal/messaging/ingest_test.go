package messaging

import (
	"context"
	"errors"
	"testing"

	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/notify"
	"wa-bot-go/internal/store"
	"wa-bot-go/internal/store/memory"
)

func newIngestor(mem *memory.Store, capture *notify.Capture, strategy Strategy) *Ingestor {
	assigner := NewAssigner(mem, mem, mem, strategy)
	return NewIngestor(mem, mem, assigner, errlog.NewRecorder(mem, mem), capture)
}

func TestIngestCreatesOneLeadPerPhone(t *testing.T) {
	mem := memory.New()
	mem.AddProfile(store.Profile{ID: "s1", Name: "Ana", Role: store.RoleSeller})
	capture := &notify.Capture{}
	in := newIngestor(mem, capture, StrategyRoundRobin)
	ctx := context.Background()

	first, err := in.Process(ctx, "+55 11 91234-5678", "Oi, o carro ainda está disponível?")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	second, err := in.Process(ctx, "5511912345678", "Alô?")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("lead ids differ: %s vs %s", first.ID, second.ID)
	}

	leads := mem.Leads()
	if len(leads) != 1 {
		t.Fatalf("leads = %d, want 1", len(leads))
	}
	lead := leads[0]
	if lead.PhoneNumber != "5511912345678" || lead.Status != store.LeadStatusNew {
		t.Fatalf("lead = %+v", lead)
	}
	if lead.FirstMessageText != "Oi, o carro ainda está disponível?" {
		t.Fatalf("first message = %q", lead.FirstMessageText)
	}
	if lead.AssignedSalespersonID != "s1" {
		t.Fatalf("assigned = %q, want s1", lead.AssignedSalespersonID)
	}

	msgs := mem.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.LeadID != lead.ID || m.Direction != store.DirectionIncoming || m.IsRead {
			t.Fatalf("message = %+v", m)
		}
	}

	if capture.Count(notify.EventLeadCreated) != 1 || capture.Count(notify.EventMessageReceived) != 2 {
		t.Fatalf("events = %+v", capture.Events())
	}
	if len(mem.Assignments()) != 1 {
		t.Fatalf("assignments = %+v", mem.Assignments())
	}
}

func TestIngestWithoutSellersKeepsLead(t *testing.T) {
	mem := memory.New()
	in := newIngestor(mem, &notify.Capture{}, StrategyRoundRobin)

	lead, err := in.Process(context.Background(), "5511912345678", "hello")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if lead.AssignedSalespersonID != "" {
		t.Fatalf("assigned = %q", lead.AssignedSalespersonID)
	}
	if len(mem.Leads()) != 1 || len(mem.Messages()) != 1 {
		t.Fatalf("leads = %d, messages = %d", len(mem.Leads()), len(mem.Messages()))
	}

	errs := mem.Errors()
	if len(errs) != 1 || errs[0].ErrorType != string(errlog.MessageProcessing) {
		t.Fatalf("errors = %+v", errs)
	}
}

func TestIngestRejectsEmptySender(t *testing.T) {
	mem := memory.New()
	in := newIngestor(mem, &notify.Capture{}, StrategyRoundRobin)

	if _, err := in.Process(context.Background(), "status", "x"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}
	if len(mem.Leads()) != 0 {
		t.Fatal("lead created for invalid sender")
	}
}
