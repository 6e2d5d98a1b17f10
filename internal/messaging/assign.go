package messaging

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"wa-bot-go/internal/store"
)

type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
)

var ErrNoSellers = errors.New("no sellers available")

// Assigner picks a seller for each new lead and writes the audit row.
type Assigner struct {
	profiles store.ProfileStore
	leads    store.LeadStore
	audit    store.AssignmentStore
	strategy Strategy

	intn func(n int) int
	now  func() time.Time
}

func NewAssigner(profiles store.ProfileStore, leads store.LeadStore, audit store.AssignmentStore, strategy Strategy) *Assigner {
	if strategy != StrategyRandom {
		strategy = StrategyRoundRobin
	}
	return &Assigner{
		profiles: profiles,
		leads:    leads,
		audit:    audit,
		strategy: strategy,
		intn:     rand.IntN,
		now:      time.Now,
	}
}

// Assign returns the chosen seller id.
func (a *Assigner) Assign(ctx context.Context, leadID string) (string, error) {
	sellers, err := a.profiles.ListProfilesByRole(ctx, store.RoleSeller)
	if err != nil {
		return "", fmt.Errorf("failed to list sellers: %w", err)
	}
	if len(sellers) == 0 {
		return "", ErrNoSellers
	}
	sort.Slice(sellers, func(i, j int) bool { return sellers[i].ID < sellers[j].ID })

	var seller store.Profile
	switch a.strategy {
	case StrategyRandom:
		seller = sellers[a.intn(len(sellers))]
	default:
		seller, err = a.next(ctx, sellers)
		if err != nil {
			return "", err
		}
	}

	if err := a.leads.AssignLead(ctx, leadID, seller.ID); err != nil {
		return "", fmt.Errorf("failed to assign lead: %w", err)
	}
	audit := &store.Assignment{
		LeadID:     leadID,
		SellerID:   seller.ID,
		Strategy:   string(a.strategy),
		AssignedAt: a.now(),
	}
	if err := a.audit.RecordAssignment(ctx, audit); err != nil {
		return seller.ID, fmt.Errorf("failed to record assignment: %w", err)
	}
	return seller.ID, nil
}

// next rotates after the seller of the latest audit row.
func (a *Assigner) next(ctx context.Context, sellers []store.Profile) (store.Profile, error) {
	last, err := a.audit.LastAssignment(ctx)
	if err != nil {
		return store.Profile{}, fmt.Errorf("failed to read last assignment: %w", err)
	}
	if last == nil {
		return sellers[0], nil
	}
	for i, s := range sellers {
		if s.ID == last.SellerID {
			return sellers[(i+1)%len(sellers)], nil
		}
	}
	// Previous seller left the role; restart from the first one after it by id.
	for _, s := range sellers {
		if s.ID > last.SellerID {
			return s, nil
		}
	}
	return sellers[0], nil
}
