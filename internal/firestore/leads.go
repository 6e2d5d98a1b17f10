package firestore

import (
	"context"
	"time"

	"wa-bot-go/internal/store"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// LeadsRepository provides access to the leads collection
type LeadsRepository struct {
	client     *Client
	collection string
}

// NewLeadsRepository creates a new leads repository
func NewLeadsRepository(client *Client) *LeadsRepository {
	return &LeadsRepository{
		client:     client,
		collection: "leads",
	}
}

// GetByPhone retrieves a lead by phone number
func (r *LeadsRepository) GetByPhone(ctx context.Context, phone string) (*store.Lead, error) {
	iter := r.client.Collection(r.collection).
		Where("phoneNumber", "==", phone).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	var lead store.Lead
	if err := doc.DataTo(&lead); err != nil {
		return nil, err
	}
	lead.ID = doc.Ref.ID
	return &lead, nil
}

// Create creates a new lead
func (r *LeadsRepository) Create(ctx context.Context, lead *store.Lead) (string, error) {
	now := time.Now()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	docRef, _, err := r.client.Collection(r.collection).Add(ctx, lead)
	if err != nil {
		return "", err
	}
	return docRef.ID, nil
}

// Update updates an existing lead
func (r *LeadsRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updatedAt"] = time.Now()

	updateFields := make([]firestore.Update, 0, len(updates))
	for key, value := range updates {
		updateFields = append(updateFields, firestore.Update{Path: key, Value: value})
	}

	_, err := r.client.Collection(r.collection).Doc(id).Update(ctx, updateFields)
	return err
}
