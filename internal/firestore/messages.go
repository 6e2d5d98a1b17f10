package firestore

import (
	"context"
	"time"

	"wa-bot-go/internal/store"
)

// MessagesRepository appends conversation messages
type MessagesRepository struct {
	client     *Client
	collection string
}

func NewMessagesRepository(client *Client) *MessagesRepository {
	return &MessagesRepository{
		client:     client,
		collection: "messages",
	}
}

// Insert adds a message and returns its document id
func (r *MessagesRepository) Insert(ctx context.Context, msg *store.Message) (string, error) {
	msg.CreatedAt = time.Now()

	docRef, _, err := r.client.Collection(r.collection).Add(ctx, msg)
	if err != nil {
		return "", err
	}
	return docRef.ID, nil
}
