package infraction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/identity"
	"github.com/gflze/gflbans/internal/predicate"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAltDepth    = 3
	MaxAltDepth        = 10
	defaultConcurrency = 8
)

// Seed is a node of the identity graph: either an ip or a game service identity.
type Seed struct {
	IP      string `json:"ip,omitempty"`
	Service string `json:"gs_service,omitempty"`
	UserID  string `json:"gs_id,omitempty"`
}

func (s Seed) key() string {
	if s.IP != "" {
		return "ip:" + s.IP
	}

	return s.Service + ":" + s.UserID
}

func (s Seed) valid() bool {
	return s.IP != "" || (s.Service != "" && s.UserID != "")
}

func (s Seed) clause() predicate.Predicate {
	if s.IP != "" {
		return predicate.Eq{Field: FieldIP, Value: s.IP}
	}

	return predicate.And{
		predicate.Eq{Field: FieldService, Value: s.Service},
		predicate.Eq{Field: FieldUserID, Value: s.UserID},
	}
}

func seedsOf(inf Infraction) []Seed {
	var seeds []Seed

	if inf.Target.HasIP() {
		seeds = append(seeds, Seed{IP: inf.Target.IP})
	}

	if inf.Target.HasIdentity() {
		seeds = append(seeds, Seed{Service: inf.Target.Service, UserID: inf.Target.UserID})
	}

	return seeds
}

// Finder is the read side of a Repository used by the graph search.
type Finder interface {
	Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]Infraction, error)
}

type AltOpts struct {
	Depth int
	// Filter is additionally applied to every expansion query.
	Filter      predicate.Predicate
	Concurrency int
	Offset      uint64
	Limit       uint64
}

// FindAlts walks the graph of infractions linked by a shared ip or identity, breadth first, up to
// opts.Depth levels away from the seeds. Seeds within a level are queried concurrently.
func FindAlts(ctx context.Context, store Finder, seeds []Seed, opts AltOpts) ([]Infraction, error) { //nolint:cyclop
	if opts.Depth == 0 {
		opts.Depth = DefaultAltDepth
	}

	if opts.Depth < 1 || opts.Depth > MaxAltDepth {
		return nil, fmt.Errorf("%w: depth must be between 1 and %d", ErrInvalidArgument, MaxAltDepth)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	var (
		mutex       sync.Mutex
		visited     = map[string]bool{}
		found       = map[string]Infraction{}
		upstreamErr error
		frontier    []Seed
	)

	for _, seed := range seeds {
		if !seed.valid() {
			return nil, fmt.Errorf("%w: a seed requires an ip or identity", ErrInvalidArgument)
		}

		if !visited[seed.key()] {
			visited[seed.key()] = true
			frontier = append(frontier, seed)
		}
	}

	for depth := 0; depth < opts.Depth && len(frontier) > 0; depth++ {
		var next []Seed

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(opts.Concurrency)

		for _, seed := range frontier {
			group.Go(func() error {
				results, errFind := store.Find(groupCtx, predicate.AllOf(seed.clause(), opts.Filter), query.Filter{})
				if errFind != nil {
					if errors.Is(errFind, identity.ErrUpstreamTimeout) || errors.Is(errFind, context.DeadlineExceeded) {
						mutex.Lock()
						if upstreamErr == nil {
							upstreamErr = errFind
						}
						mutex.Unlock()

						return nil
					}

					return errFind
				}

				mutex.Lock()
				defer mutex.Unlock()

				for _, inf := range results {
					found[inf.InfractionID.String()] = inf

					for _, linked := range seedsOf(inf) {
						if !visited[linked.key()] {
							visited[linked.key()] = true
							next = append(next, linked)
						}
					}
				}

				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}

		frontier = next
	}

	if len(found) == 0 && upstreamErr != nil {
		return nil, upstreamErr
	}

	results := make([]Infraction, 0, len(found))
	for _, inf := range found {
		results = append(results, inf)
	}

	sortNewestFirst(results)

	return paginate(results, opts.Offset, opts.Limit), nil
}

func sortNewestFirst(records []Infraction) {
	slices.SortStableFunc(records, func(left Infraction, right Infraction) int {
		if cmp := right.Created.Compare(left.Created); cmp != 0 {
			return cmp
		}

		return strings.Compare(right.InfractionID.String(), left.InfractionID.String())
	})
}

func paginate(records []Infraction, offset uint64, limit uint64) []Infraction {
	if offset >= uint64(len(records)) {
		return []Infraction{}
	}

	records = records[offset:]

	if limit > 0 && limit < uint64(len(records)) {
		records = records[:limit]
	}

	return records
}
