// Package memory is a map-backed store for tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"wa-bot-go/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	connection  *store.ConnectionRecord
	leads       map[string]*store.Lead
	leadOrder   []string
	messages    []store.Message
	errors      []store.ErrorLog
	profiles    map[string]store.Profile
	assignments []store.Assignment

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		leads:    make(map[string]*store.Lead),
		profiles: make(map[string]store.Profile),
		now:      time.Now,
	}
}

func (s *Store) GetConnection(context.Context) (*store.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connection == nil {
		return nil, nil
	}
	rec := *s.connection
	return &rec, nil
}

func (s *Store) UpdateConnection(_ context.Context, patch store.ConnectionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connection == nil {
		s.connection = &store.ConnectionRecord{ID: "whatsapp"}
	}
	patch.Apply(s.connection, s.now())
	return nil
}

func (s *Store) GetLeadByPhone(_ context.Context, phone string) (*store.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.PhoneNumber == phone {
			lead := *l
			return &lead, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateLead(_ context.Context, lead *store.Lead) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.PhoneNumber == lead.PhoneNumber {
			return "", fmt.Errorf("lead for %s already exists", lead.PhoneNumber)
		}
	}
	now := s.now()
	l := *lead
	l.ID = uuid.NewString()
	l.CreatedAt = now
	l.UpdatedAt = now
	s.leads[l.ID] = &l
	s.leadOrder = append(s.leadOrder, l.ID)
	return l.ID, nil
}

func (s *Store) AssignLead(_ context.Context, leadID, sellerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %s not found", leadID)
	}
	l.AssignedSalespersonID = sellerID
	l.UpdatedAt = s.now()
	return nil
}

func (s *Store) InsertMessage(_ context.Context, msg *store.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *msg
	m.ID = uuid.NewString()
	m.CreatedAt = s.now()
	s.messages = append(s.messages, m)
	return m.ID, nil
}

func (s *Store) AppendError(_ context.Context, entry *store.ErrorLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	e.ID = uuid.NewString()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	s.errors = append(s.errors, e)
	return nil
}

// RecentErrors returns the newest entries first.
func (s *Store) RecentErrors(_ context.Context, limit int) ([]store.ErrorLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ErrorLog, 0, len(s.errors))
	for i := len(s.errors) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.errors[i])
	}
	return out, nil
}

func (s *Store) ListProfilesByRole(_ context.Context, role string) ([]store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Profile
	for _, p := range s.profiles {
		if strings.EqualFold(p.Role, role) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RecordAssignment(_ context.Context, a *store.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *a
	rec.ID = uuid.NewString()
	if rec.AssignedAt.IsZero() {
		rec.AssignedAt = s.now()
	}
	s.assignments = append(s.assignments, rec)
	return nil
}

func (s *Store) LastAssignment(context.Context) (*store.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.assignments) == 0 {
		return nil, nil
	}
	a := s.assignments[len(s.assignments)-1]
	return &a, nil
}

func (s *Store) Close() error { return nil }

// AddProfile seeds a staff profile.
func (s *Store) AddProfile(p store.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Leads returns every lead ordered by creation.
func (s *Store) Leads() []store.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Lead, 0, len(s.leadOrder))
	for _, id := range s.leadOrder {
		out = append(out, *s.leads[id])
	}
	return out
}

// Messages returns every message in insertion order.
func (s *Store) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}

func (s *Store) Errors() []store.ErrorLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ErrorLog(nil), s.errors...)
}

func (s *Store) Assignments() []store.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Assignment(nil), s.assignments...)
}
