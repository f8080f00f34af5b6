package infraction

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gofrs/uuid/v5"
)

// MemoryRepository keeps records in process. It evaluates predicates directly and is used for tests and
// single node development setups.
type MemoryRepository struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]Infraction
	policies map[uuid.UUID]Policy
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: map[uuid.UUID]Infraction{}, policies: map[uuid.UUID]Policy{}}
}

func (r *MemoryRepository) Find(_ context.Context, pred predicate.Predicate, filter query.Filter) ([]Infraction, error) {
	r.mu.RLock()

	results := []Infraction{}

	for _, inf := range r.records {
		if predicate.Eval(pred, inf) {
			results = append(results, inf.Clone())
		}
	}

	r.mu.RUnlock()

	sortNewestFirst(results)

	return paginate(results, filter.Offset, filter.CappedLimit(maxFindResults)), nil
}

func (r *MemoryRepository) Count(_ context.Context, pred predicate.Predicate) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64

	for _, inf := range r.records {
		if predicate.Eval(pred, inf) {
			count++
		}
	}

	return count, nil
}

func (r *MemoryRepository) Get(_ context.Context, infractionID uuid.UUID) (Infraction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inf, found := r.records[infractionID]
	if !found {
		return Infraction{}, database.ErrNoResult
	}

	return inf.Clone(), nil
}

func (r *MemoryRepository) Insert(_ context.Context, inf Infraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.records[inf.InfractionID]; found {
		return database.ErrDuplicate
	}

	r.records[inf.InfractionID] = inf.Clone()

	return nil
}

func (r *MemoryRepository) Update(_ context.Context, inf Infraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.records[inf.InfractionID]; !found {
		return database.ErrNoResult
	}

	r.records[inf.InfractionID] = inf.Clone()

	return nil
}

func (r *MemoryRepository) AdminIDs(_ context.Context, name string) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adminIDs := []int64{}

	for _, inf := range r.records {
		if inf.Admin == nil || !strings.EqualFold(inf.Admin.Name, name) {
			continue
		}

		if adminID := inf.Admin.SteamID.Int64(); !slices.Contains(adminIDs, adminID) {
			adminIDs = append(adminIDs, adminID)
		}
	}

	return adminIDs, nil
}

func clonePolicy(policy Policy) Policy {
	policy.Tiers = cloneSlice(policy.Tiers, func(tier Tier) Tier {
		tier.Punishments = slices.Clone(tier.Punishments)

		return tier
	})

	if policy.ServerID != nil {
		serverID := *policy.ServerID
		policy.ServerID = &serverID
	}

	return policy
}

func (r *MemoryRepository) SavePolicy(_ context.Context, policy Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.policies[policy.PolicyID] = clonePolicy(policy)

	return nil
}

func (r *MemoryRepository) Policy(_ context.Context, policyID uuid.UUID) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, found := r.policies[policyID]
	if !found {
		return Policy{}, database.ErrNoResult
	}

	return clonePolicy(policy), nil
}

func (r *MemoryRepository) Policies(_ context.Context, serverID uuid.UUID) ([]Policy, error) {
	r.mu.RLock()

	policies := []Policy{}

	for _, policy := range r.policies {
		if policy.ServerID != nil && *policy.ServerID == serverID {
			policies = append(policies, clonePolicy(policy))
		}
	}

	r.mu.RUnlock()

	slices.SortFunc(policies, func(a, b Policy) int {
		if cmp := a.Created.Compare(b.Created); cmp != 0 {
			return cmp
		}

		return strings.Compare(a.PolicyID.String(), b.PolicyID.String())
	})

	return policies, nil
}
