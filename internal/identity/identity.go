// Package identity resolves free form player references (steam ids, profile urls and vanity names) into
// a canonical game service identity.
package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const ServiceSteam = "steam"

var (
	ErrNotFound        = errors.New("identity not found")
	ErrUpstreamTimeout = errors.New("identity provider timed out")
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "gflbans_identity_cache_hits_total",
		Help: "Identity lookups served from cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "gflbans_identity_cache_misses_total",
		Help: "Identity lookups that missed the cache.",
	})
)

// Identity is a player account on a game service.
type Identity struct {
	Service string `json:"gs_service"`
	UserID  string `json:"gs_id"`
}

type Resolver interface {
	Resolve(ctx context.Context, hint string) (Identity, error)
}

// ResolveFunc performs the upstream lookup of a hint that could not be parsed locally.
type ResolveFunc func(ctx context.Context, hint string) (steamid.SteamID, error)

type SteamResolver struct {
	cache    *expirable.LRU[string, Identity]
	limiter  *rate.Limiter
	timeout  time.Duration
	upstream ResolveFunc
}

type Opts struct {
	CacheSize int
	CacheTTL  time.Duration
	// RateLimit is the number of upstream requests allowed per second.
	RateLimit float64
	Timeout   time.Duration
	// Upstream defaults to the steam web api vanity url resolver.
	Upstream ResolveFunc
}

func NewSteamResolver(opts Opts) *SteamResolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}

	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}

	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	if opts.Upstream == nil {
		opts.Upstream = steamid.Resolve
	}

	return &SteamResolver{
		cache:    expirable.NewLRU[string, Identity](opts.CacheSize, nil, opts.CacheTTL),
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit))),
		timeout:  opts.Timeout,
		upstream: opts.Upstream,
	}
}

func fromSteamID(sid steamid.SteamID) Identity {
	return Identity{Service: ServiceSteam, UserID: strconv.FormatInt(sid.Int64(), 10)}
}

// Resolve parses steam id formats locally and only asks the steam api about vanity names and profile
// urls. Upstream failures caused by the deadline are reported as ErrUpstreamTimeout.
func (r *SteamResolver) Resolve(ctx context.Context, hint string) (Identity, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.ContainsAny(hint, " \t\n") {
		return Identity{}, ErrNotFound
	}

	if cached, found := r.cache.Get(hint); found {
		cacheHits.Inc()

		return cached, nil
	}

	cacheMisses.Inc()

	if sid := steamid.New(hint); sid.Valid() {
		ident := fromSteamID(sid)
		r.cache.Add(hint, ident)

		return ident, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if errWait := r.limiter.Wait(lookupCtx); errWait != nil {
		return Identity{}, errors.Join(errWait, ErrUpstreamTimeout)
	}

	sid, errResolve := r.upstream(lookupCtx, hint)
	if errResolve != nil {
		if errors.Is(errResolve, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			return Identity{}, errors.Join(errResolve, ErrUpstreamTimeout)
		}

		return Identity{}, ErrNotFound
	}

	if !sid.Valid() {
		return Identity{}, ErrNotFound
	}

	ident := fromSteamID(sid)
	r.cache.Add(hint, ident)

	return ident, nil
}
