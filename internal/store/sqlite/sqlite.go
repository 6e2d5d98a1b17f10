// Package sqlite keeps the bot's durable records in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wa-bot-go/internal/store"
	"wa-bot-go/internal/utils"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db           *sql.DB
	connectionID string
	now          func() time.Time
}

var _ store.Store = (*Store)(nil)

// busyRetry covers writers that outlive busy_timeout.
var busyRetry = utils.RetryConfig{
	MaxAttempts: 3,
	Delay:       100 * time.Millisecond,
	Retryable:   utils.IsRetryableError,
}

// Open creates the database file and tables if needed.
func Open(ctx context.Context, path, connectionID string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, connectionID: connectionID, now: time.Now}
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

func (s *Store) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS whatsapp_connection (
			id TEXT PRIMARY KEY,
			is_connected INTEGER NOT NULL DEFAULT 0,
			pairing_code TEXT,
			state TEXT,
			last_connected_at INTEGER,
			last_disconnected_at INTEGER,
			disconnect_reason TEXT,
			reconnect_attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_error_at INTEGER,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL UNIQUE,
			first_message_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			assigned_salesperson_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL REFERENCES leads(id),
			text TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
			sent_by TEXT,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_lead ON messages(lead_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS error_logs (
			id TEXT PRIMARY KEY,
			error_type TEXT NOT NULL,
			error_message TEXT NOT NULL,
			occurred_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lead_assignments (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			assigned_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetConnection(ctx context.Context) (*store.ConnectionRecord, error) {
	return s.getConnection(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getConnection(ctx context.Context, q queryer) (*store.ConnectionRecord, error) {
	var (
		rec                                       store.ConnectionRecord
		connected                                 bool
		pairing, state, reason, lastErr           sql.NullString
		connectedAt, disconnectedAt, errAt, updAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, is_connected, pairing_code, state, last_connected_at, last_disconnected_at,
			disconnect_reason, reconnect_attempts, last_error, last_error_at, updated_at
		FROM whatsapp_connection WHERE id = ?
	`, s.connectionID).Scan(&rec.ID, &connected, &pairing, &state, &connectedAt, &disconnectedAt,
		&reason, &rec.ReconnectAttempts, &lastErr, &errAt, &updAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connection: %w", err)
	}

	rec.IsConnected = connected
	rec.PairingCode = pairing.String
	rec.State = state.String
	rec.DisconnectReason = reason.String
	rec.LastError = lastErr.String
	rec.LastConnectedAt = fromMillis(connectedAt)
	rec.LastDisconnectedAt = fromMillis(disconnectedAt)
	rec.LastErrorAt = fromMillis(errAt)
	rec.UpdatedAt = fromMillis(updAt)
	return &rec, nil
}

// UpdateConnection merges the patch into the stored row inside one transaction.
func (s *Store) UpdateConnection(ctx context.Context, patch store.ConnectionPatch) error {
	_, err := utils.WithRetry(ctx, busyRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.updateConnection(ctx, patch)
	})
	return err
}

func (s *Store) updateConnection(ctx context.Context, patch store.ConnectionPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.getConnection(ctx, tx)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &store.ConnectionRecord{ID: s.connectionID}
	}
	patch.Apply(rec, s.now())

	_, err = tx.ExecContext(ctx, `
		INSERT INTO whatsapp_connection (id, is_connected, pairing_code, state, last_connected_at,
			last_disconnected_at, disconnect_reason, reconnect_attempts, last_error, last_error_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_connected = excluded.is_connected,
			pairing_code = excluded.pairing_code,
			state = excluded.state,
			last_connected_at = excluded.last_connected_at,
			last_disconnected_at = excluded.last_disconnected_at,
			disconnect_reason = excluded.disconnect_reason,
			reconnect_attempts = excluded.reconnect_attempts,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			updated_at = excluded.updated_at
	`, rec.ID, rec.IsConnected, nullString(rec.PairingCode), nullString(rec.State),
		toMillis(rec.LastConnectedAt), toMillis(rec.LastDisconnectedAt), nullString(rec.DisconnectReason),
		rec.ReconnectAttempts, nullString(rec.LastError), toMillis(rec.LastErrorAt), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetLeadByPhone(ctx context.Context, phone string) (*store.Lead, error) {
	var (
		lead       store.Lead
		assigned   sql.NullString
		created, u int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone_number, first_message_text, status, assigned_salesperson_id, created_at, updated_at
		FROM leads WHERE phone_number = ?
	`, phone).Scan(&lead.ID, &lead.PhoneNumber, &lead.FirstMessageText, &lead.Status, &assigned, &created, &u)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lead: %w", err)
	}
	lead.AssignedSalespersonID = assigned.String
	lead.CreatedAt = time.UnixMilli(created)
	lead.UpdatedAt = time.UnixMilli(u)
	return &lead, nil
}

func (s *Store) CreateLead(ctx context.Context, lead *store.Lead) (string, error) {
	id := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, phone_number, first_message_text, status, assigned_salesperson_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, lead.PhoneNumber, lead.FirstMessageText, lead.Status, nullString(lead.AssignedSalespersonID),
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to create lead: %w", err)
	}
	return id, nil
}

func (s *Store) AssignLead(ctx context.Context, leadID, sellerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET assigned_salesperson_id = ?, updated_at = ? WHERE id = ?`,
		sellerID, s.now().UnixMilli(), leadID)
	if err != nil {
		return fmt.Errorf("failed to assign lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lead %s not found", leadID)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, lead_id, text, direction, sent_by, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, msg.LeadID, msg.Text, msg.Direction, nullString(msg.SentBy), msg.IsRead, s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

// MessagesForLead returns a lead's messages oldest first.
func (s *Store) MessagesForLead(ctx context.Context, leadID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, text, direction, sent_by, is_read, created_at
		FROM messages WHERE lead_id = ? ORDER BY created_at, rowid
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var (
			m       store.Message
			sentBy  sql.NullString
			created int64
		)
		if err := rows.Scan(&m.ID, &m.LeadID, &m.Text, &m.Direction, &sentBy, &m.IsRead, &created); err != nil {
			return nil, err
		}
		m.SentBy = sentBy.String
		m.CreatedAt = time.UnixMilli(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AppendError(ctx context.Context, entry *store.ErrorLog) error {
	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_logs (id, error_type, error_message, occurred_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), entry.ErrorType, entry.ErrorMessage, occurred.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append error log: %w", err)
	}
	return nil
}

func (s *Store) RecentErrors(ctx context.Context, limit int) ([]store.ErrorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, error_type, error_message, occurred_at
		FROM error_logs ORDER BY occurred_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error logs: %w", err)
	}
	defer rows.Close()

	var out []store.ErrorLog
	for rows.Next() {
		var (
			e  store.ErrorLog
			at int64
		)
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.ErrorMessage, &at); err != nil {
			return nil, err
		}
		e.OccurredAt = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListProfilesByRole(ctx context.Context, role string) ([]store.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role FROM profiles WHERE lower(role) = lower(?) ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var out []store.Profile
	for rows.Next() {
		var p store.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Role); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProfile seeds or updates a staff profile.
func (s *Store) UpsertProfile(ctx context.Context, p store.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role
	`, p.ID, p.Name, p.Role)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (s *Store) RecordAssignment(ctx context.Context, a *store.Assignment) error {
	at := a.AssignedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_assignments (id, lead_id, seller_id, strategy, assigned_at) VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), a.LeadID, a.SellerID, a.Strategy, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record assignment: %w", err)
	}
	return nil
}

func (s *Store) LastAssignment(ctx context.Context) (*store.Assignment, error) {
	var (
		a  store.Assignment
		at int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, seller_id, strategy, assigned_at
		FROM lead_assignments ORDER BY assigned_at DESC, rowid DESC LIMIT 1
	`).Scan(&a.ID, &a.LeadID, &a.SellerID, &a.Strategy, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last assignment: %w", err)
	}
	a.AssignedAt = time.UnixMilli(at)
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
