package firestore

import (
	"context"

	"wa-bot-go/internal/store"
)

// Store adapts the repositories to store.Store
type Store struct {
	client     *Client
	connection *ConnectionRepository
	leads      *LeadsRepository
	messages   *MessagesRepository
	errorLogs  *ErrorLogsRepository
	profiles   *ProfilesRepository
}

var _ store.Store = (*Store)(nil)

func NewStore(client *Client, connectionID string) *Store {
	return &Store{
		client:     client,
		connection: NewConnectionRepository(client, connectionID),
		leads:      NewLeadsRepository(client),
		messages:   NewMessagesRepository(client),
		errorLogs:  NewErrorLogsRepository(client),
		profiles:   NewProfilesRepository(client),
	}
}

func (s *Store) GetConnection(ctx context.Context) (*store.ConnectionRecord, error) {
	return s.connection.Get(ctx)
}

func (s *Store) UpdateConnection(ctx context.Context, patch store.ConnectionPatch) error {
	return s.connection.Upsert(ctx, patch)
}

func (s *Store) GetLeadByPhone(ctx context.Context, phone string) (*store.Lead, error) {
	return s.leads.GetByPhone(ctx, phone)
}

func (s *Store) CreateLead(ctx context.Context, lead *store.Lead) (string, error) {
	return s.leads.Create(ctx, lead)
}

func (s *Store) AssignLead(ctx context.Context, leadID, sellerID string) error {
	return s.leads.Update(ctx, leadID, map[string]interface{}{"assignedSalespersonId": sellerID})
}

func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) (string, error) {
	return s.messages.Insert(ctx, msg)
}

func (s *Store) AppendError(ctx context.Context, entry *store.ErrorLog) error {
	return s.errorLogs.Append(ctx, entry)
}

func (s *Store) RecentErrors(ctx context.Context, limit int) ([]store.ErrorLog, error) {
	return s.errorLogs.Recent(ctx, limit)
}

func (s *Store) ListProfilesByRole(ctx context.Context, role string) ([]store.Profile, error) {
	return s.profiles.ListByRole(ctx, role)
}

func (s *Store) RecordAssignment(ctx context.Context, a *store.Assignment) error {
	return s.profiles.RecordAssignment(ctx, a)
}

func (s *Store) LastAssignment(ctx context.Context) (*store.Assignment, error) {
	return s.profiles.LastAssignment(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}
