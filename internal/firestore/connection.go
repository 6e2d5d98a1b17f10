package firestore

import (
	"context"
	"time"

	"wa-bot-go/internal/store"
	"wa-bot-go/internal/utils"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectionRepository owns the single whatsapp_connection document
type ConnectionRepository struct {
	client     *Client
	collection string
	id         string
}

func NewConnectionRepository(client *Client, id string) *ConnectionRepository {
	return &ConnectionRepository{
		client:     client,
		collection: "whatsapp_connection",
		id:         id,
	}
}

func (r *ConnectionRepository) doc() *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(r.id)
}

// Get returns nil, nil when the document does not exist
func (r *ConnectionRepository) Get(ctx context.Context) (*store.ConnectionRecord, error) {
	snap, err := r.doc().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec store.ConnectionRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, err
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

// Upsert merges the patch into the document, retrying transient failures
func (r *ConnectionRepository) Upsert(ctx context.Context, patch store.ConnectionPatch) error {
	fields := patch.Fields(time.Now())
	_, err := utils.WithRetry(ctx, utils.DefaultRetryConfig(), func(ctx context.Context) (*firestore.WriteResult, error) {
		return r.doc().Set(ctx, fields, firestore.MergeAll)
	})
	return err
}
