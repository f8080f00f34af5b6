package vpn

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]Rule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rules: map[uuid.UUID]Rule{}}
}

func (r *MemoryRepository) filter(match func(Rule) bool) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []Rule{}

	for _, rule := range r.rules {
		if match(rule) {
			results = append(results, rule)
		}
	}

	slices.SortFunc(results, func(a Rule, b Rule) int {
		if byTime := a.AddedOn.Compare(b.AddedOn); byTime != 0 {
			return byTime
		}

		return strings.Compare(a.RuleID.String(), b.RuleID.String())
	})

	return results
}

func (r *MemoryRepository) conflicts(rule Rule) bool {
	for _, existing := range r.rules {
		if existing.RuleID != rule.RuleID && existing.Kind == rule.Kind && existing.Payload == rule.Payload {
			return true
		}
	}

	return false
}

func (r *MemoryRepository) Insert(_ context.Context, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts(rule) {
		return database.ErrDuplicate
	}

	r.rules[rule.RuleID] = rule

	return nil
}

func (r *MemoryRepository) Get(_ context.Context, ruleID uuid.UUID) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, found := r.rules[ruleID]
	if !found {
		return Rule{}, database.ErrNoResult
	}

	return rule, nil
}

func (r *MemoryRepository) Update(_ context.Context, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.rules[rule.RuleID]; !found {
		return database.ErrNoResult
	}

	if r.conflicts(rule) {
		return database.ErrDuplicate
	}

	r.rules[rule.RuleID] = rule

	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, kind Kind, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ruleID, rule := range r.rules {
		if rule.Kind == kind && rule.Payload == payload {
			delete(r.rules, ruleID)

			return nil
		}
	}

	return database.ErrNoResult
}

func matchesSearch(search string) func(Rule) bool {
	search = strings.ToLower(search)

	return func(rule Rule) bool {
		return strings.Contains(strings.ToLower(rule.Payload), search) ||
			strings.Contains(strings.ToLower(rule.Comment), search)
	}
}

func (r *MemoryRepository) Find(_ context.Context, q ListQuery) ([]Rule, error) {
	results := r.filter(matchesSearch(q.Search))

	start := min(q.Offset, uint64(len(results)))
	end := uint64(len(results))

	if limit := q.CappedLimit(maxListResults); limit > 0 {
		end = min(start+limit, end)
	}

	return results[start:end], nil
}

func (r *MemoryRepository) Count(_ context.Context, search string) (int64, error) {
	return int64(len(r.filter(matchesSearch(search)))), nil
}

func (r *MemoryRepository) ByPayload(_ context.Context, kind Kind, payload string) (Rule, bool, error) {
	matched := r.filter(func(rule Rule) bool {
		return rule.Kind == kind && rule.Payload == payload
	})
	if len(matched) == 0 {
		return Rule{}, false, nil
	}

	return matched[0], true, nil
}

func (r *MemoryRepository) CIDRRules(_ context.Context) ([]Rule, error) {
	return r.filter(func(rule Rule) bool {
		return rule.Kind == KindCIDR
	}), nil
}
