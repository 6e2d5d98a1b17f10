package notify

import (
	"context"
	"testing"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Capture{}, &Capture{}
	m := Multi{a, nil, b}

	m.Publish(context.Background(), EventQR, map[string]string{"qrCode": "x"})
	m.Publish(context.Background(), EventConnected, nil)

	for i, c := range []*Capture{a, b} {
		if got := len(c.Events()); got != 2 {
			t.Fatalf("capture %d got %d events, want 2", i, got)
		}
		if c.Count(EventQR) != 1 || c.Count(EventConnected) != 1 {
			t.Fatalf("capture %d events = %+v", i, c.Events())
		}
	}
}

func TestOrNop(t *testing.T) {
	OrNop(nil).Publish(context.Background(), EventState, "CONNECTED")

	c := &Capture{}
	if OrNop(c) != Notifier(c) {
		t.Fatal("OrNop replaced a non-nil notifier")
	}
}

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{EventQR, "whatsapp.bot.qr"},
		{EventMessageSent, "whatsapp.bot.message_sent"},
		{EventLeadCreated, "whatsapp.bot.lead_created"},
	}
	for _, tt := range tests {
		if got := RoutingKey(tt.event); got != tt.want {
			t.Errorf("RoutingKey(%q) = %q, want %q", tt.event, got, tt.want)
		}
	}
}
