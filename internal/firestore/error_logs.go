package firestore

import (
	"context"
	"time"

	"wa-bot-go/internal/store"
	"wa-bot-go/internal/utils"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// ErrorLogsRepository is the append-only diagnostic trail
type ErrorLogsRepository struct {
	client     *Client
	collection string
}

func NewErrorLogsRepository(client *Client) *ErrorLogsRepository {
	return &ErrorLogsRepository{
		client:     client,
		collection: "whatsapp_error_logs",
	}
}

func (r *ErrorLogsRepository) Append(ctx context.Context, entry *store.ErrorLog) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	_, err := utils.WithRetry(ctx, utils.DefaultRetryConfig(), func(ctx context.Context) (*firestore.DocumentRef, error) {
		ref, _, err := r.client.Collection(r.collection).Add(ctx, entry)
		return ref, err
	})
	return err
}

// Recent returns the newest entries first
func (r *ErrorLogsRepository) Recent(ctx context.Context, limit int) ([]store.ErrorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	iter := r.client.Collection(r.collection).
		OrderBy("occurredAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var logs []store.ErrorLog
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var entry store.ErrorLog
		if err := doc.DataTo(&entry); err != nil {
			continue
		}
		entry.ID = doc.Ref.ID
		logs = append(logs, entry)
	}

	return logs, nil
}
