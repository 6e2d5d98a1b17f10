// Package store describes the durable records the bot reads and writes.
package store

import (
	"context"
	"time"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	LeadStatusNew = "new"
	RoleSeller    = "seller"
)

// ConnectionRecord is the single durable row describing the bot session.
type ConnectionRecord struct {
	ID                 string    `json:"id" firestore:"-"`
	IsConnected        bool      `json:"isConnected" firestore:"isConnected"`
	PairingCode        string    `json:"qrCode,omitempty" firestore:"pairingCode"`
	State              string    `json:"state,omitempty" firestore:"state"`
	LastConnectedAt    time.Time `json:"lastConnectedAt,omitempty" firestore:"lastConnectedAt,omitempty"`
	LastDisconnectedAt time.Time `json:"lastDisconnectedAt,omitempty" firestore:"lastDisconnectedAt,omitempty"`
	DisconnectReason   string    `json:"disconnectReason,omitempty" firestore:"disconnectReason"`
	ReconnectAttempts  int       `json:"reconnectAttempts" firestore:"reconnectAttempts"`
	LastError          string    `json:"lastError,omitempty" firestore:"lastError"`
	LastErrorAt        time.Time `json:"lastErrorAt,omitempty" firestore:"lastErrorAt,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt" firestore:"updatedAt"`
}

type Lead struct {
	ID                    string    `json:"id" firestore:"-"`
	PhoneNumber           string    `json:"phoneNumber" firestore:"phoneNumber"`
	FirstMessageText      string    `json:"firstMessageText" firestore:"firstMessageText"`
	Status                string    `json:"status" firestore:"status"`
	AssignedSalespersonID string    `json:"assignedSalespersonId,omitempty" firestore:"assignedSalespersonId"`
	CreatedAt             time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt" firestore:"updatedAt"`
}

type Message struct {
	ID        string    `json:"id" firestore:"-"`
	LeadID    string    `json:"leadId" firestore:"leadId"`
	Text      string    `json:"text" firestore:"text"`
	Direction string    `json:"direction" firestore:"direction"`
	SentBy    string    `json:"sentBy,omitempty" firestore:"sentBy"`
	IsRead    bool      `json:"isRead" firestore:"isRead"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
}

type ErrorLog struct {
	ID           string    `json:"id" firestore:"-"`
	ErrorType    string    `json:"errorType" firestore:"errorType"`
	ErrorMessage string    `json:"errorMessage" firestore:"errorMessage"`
	OccurredAt   time.Time `json:"occurredAt" firestore:"occurredAt"`
}

// Profile is a staff member as seen by lead assignment.
type Profile struct {
	ID   string `json:"id" firestore:"-"`
	Name string `json:"name" firestore:"name"`
	Role string `json:"role" firestore:"role"`
}

// Assignment is the audit row written when a lead gets a seller.
type Assignment struct {
	ID         string    `json:"id" firestore:"-"`
	LeadID     string    `json:"leadId" firestore:"leadId"`
	SellerID   string    `json:"sellerId" firestore:"sellerId"`
	Strategy   string    `json:"strategy" firestore:"strategy"`
	AssignedAt time.Time `json:"assignedAt" firestore:"assignedAt"`
}

type ConnectionStore interface {
	// GetConnection returns nil, nil when the row does not exist yet.
	GetConnection(ctx context.Context) (*ConnectionRecord, error)
	UpdateConnection(ctx context.Context, patch ConnectionPatch) error
}

type LeadStore interface {
	// GetLeadByPhone returns nil, nil when no lead matches.
	GetLeadByPhone(ctx context.Context, phone string) (*Lead, error)
	CreateLead(ctx context.Context, lead *Lead) (string, error)
	AssignLead(ctx context.Context, leadID, sellerID string) error
}

type MessageStore interface {
	InsertMessage(ctx context.Context, msg *Message) (string, error)
}

type ErrorLogStore interface {
	AppendError(ctx context.Context, entry *ErrorLog) error
	RecentErrors(ctx context.Context, limit int) ([]ErrorLog, error)
}

type ProfileStore interface {
	ListProfilesByRole(ctx context.Context, role string) ([]Profile, error)
}

type AssignmentStore interface {
	RecordAssignment(ctx context.Context, a *Assignment) error
	// LastAssignment returns nil, nil when nothing was assigned yet.
	LastAssignment(ctx context.Context) (*Assignment, error)
}

// Store is everything the bot needs from durable storage.
type Store interface {
	ConnectionStore
	LeadStore
	MessageStore
	ErrorLogStore
	ProfileStore
	AssignmentStore
	Close() error
}
