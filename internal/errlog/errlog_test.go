package errlog

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"wa-bot-go/internal/store"
	"wa-bot-go/internal/store/memory"

	"github.com/xuri/excelize/v2"
)

func TestRecord(t *testing.T) {
	st := memory.New()
	r := NewRecorder(st, st)

	r.Record(context.Background(), BrowserInit, errors.New("chrome failed to start"))

	errs := st.Errors()
	if len(errs) != 1 || errs[0].ErrorType != "browser_init" || errs[0].ErrorMessage != "chrome failed to start" {
		t.Fatalf("error log = %+v", errs)
	}
	rec, _ := st.GetConnection(context.Background())
	if rec == nil || rec.LastError != "chrome failed to start" || rec.LastErrorAt.IsZero() {
		t.Fatalf("connection record = %+v", rec)
	}
}

func TestRecordSurvivesCanceledContext(t *testing.T) {
	st := memory.New()
	r := NewRecorder(st, st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Record(ctx, SendMessage, errors.New("boom"))

	if len(st.Errors()) != 1 {
		t.Fatal("error was not recorded under a canceled context")
	}
}

func TestRecordNil(t *testing.T) {
	st := memory.New()
	NewRecorder(st, st).Record(context.Background(), ClientError, nil)
	if len(st.Errors()) != 0 {
		t.Fatal("nil error should not be recorded")
	}
}

func TestExport(t *testing.T) {
	rows := []store.ErrorLog{
		{ErrorType: "send_message", ErrorMessage: "timeout", OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{ErrorType: "reconnection", ErrorMessage: "refused", OccurredAt: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)},
	}
	data, err := Export(rows)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(got))
	}
	if got[1][0] != "2026-01-02T03:04:05Z" || got[1][1] != "send_message" || got[2][2] != "refused" {
		t.Fatalf("unexpected rows: %v", got)
	}
}
