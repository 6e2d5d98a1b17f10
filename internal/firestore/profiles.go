package firestore

import (
	"context"
	"sort"
	"time"

	"wa-bot-go/internal/store"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// ProfilesRepository reads staff profiles and writes assignment audit rows
type ProfilesRepository struct {
	client      *Client
	collection  string
	assignments string
}

func NewProfilesRepository(client *Client) *ProfilesRepository {
	return &ProfilesRepository{
		client:      client,
		collection:  "profiles",
		assignments: "lead_assignments",
	}
}

// ListByRole returns matching profiles ordered by id
func (r *ProfilesRepository) ListByRole(ctx context.Context, role string) ([]store.Profile, error) {
	iter := r.client.Collection(r.collection).
		Where("role", "==", role).
		Documents(ctx)
	defer iter.Stop()

	var profiles []store.Profile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var p store.Profile
		if err := doc.DataTo(&p); err != nil {
			continue
		}
		p.ID = doc.Ref.ID
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

func (r *ProfilesRepository) RecordAssignment(ctx context.Context, a *store.Assignment) error {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	_, _, err := r.client.Collection(r.assignments).Add(ctx, a)
	return err
}

// LastAssignment returns nil, nil when nothing was assigned yet
func (r *ProfilesRepository) LastAssignment(ctx context.Context) (*store.Assignment, error) {
	iter := r.client.Collection(r.assignments).
		OrderBy("assignedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var a store.Assignment
	if err := doc.DataTo(&a); err != nil {
		return nil, err
	}
	a.ID = doc.Ref.ID
	return &a, nil
}
