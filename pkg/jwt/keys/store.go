package keys

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTimeout = 10 * time.Second
	fetchGroupKey       = "fetch"
	freshGroupKey       = "fetch:fresh"
)

// FetchObserver is told about every completed fetch ("ok" or "error").
type FetchObserver func(outcome string, d time.Duration)

// Store is a Provider backed by static keys plus an optional Source.
type Store struct {
	static           []Material
	source           Source
	logger           *slog.Logger
	fetchTimeout     time.Duration
	minFetchInterval time.Duration
	observe          FetchObserver
	now              func() time.Time

	snap      atomic.Pointer[snapshot]
	lastFetch atomic.Int64
	group     singleflight.Group
}

var _ Provider = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithSource sets the remote or inline key set consulted on cache misses.
func WithSource(src Source) Option {
	return func(s *Store) { s.source = src }
}

// WithStaticKeys adds keys that are present in every snapshot, typically
// HMAC secrets from configuration.
func WithStaticKeys(ms ...Material) Option {
	return func(s *Store) { s.static = append(s.static, ms...) }
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithFetchTimeout bounds a single fetch. Default: 10s.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) { s.fetchTimeout = d }
}

// WithMinFetchInterval stops cache misses from fetching more often than d.
// Explicit Refresh calls are not throttled. Default: no limit.
func WithMinFetchInterval(d time.Duration) Option {
	return func(s *Store) { s.minFetchInterval = d }
}

// WithFetchObserver registers a callback for fetch outcomes.
func WithFetchObserver(fn FetchObserver) Option {
	return func(s *Store) { s.observe = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store holding the static keys. Remote keys are fetched
// lazily on the first miss, or eagerly with Refresh.
func NewStore(opts ...Option) *Store {
	s := &Store{
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.snap.Store(newSnapshot(s.static, nil, time.Time{}))
	return s
}

// Resolve returns the key for (alg, kid), fetching the key set once on a miss.
// When the source is an Invalidator and its cached set also lacks the key, the
// cache is dropped and the set is read again from the origin.
func (s *Store) Resolve(ctx context.Context, alg, kid string) (Material, error) {
	if m, ok := s.snap.Load().lookup(alg, kid); ok {
		return m, nil
	}
	if s.source == nil {
		return Material{}, notFound(alg, kid)
	}
	if !s.fetchAllowed() {
		return Material{}, fmt.Errorf("%w: alg=%s kid=%q (refresh throttled)", ErrKeyNotFound, alg, kid)
	}
	if err := s.sharedFetch(ctx, false); err != nil {
		return Material{}, err
	}
	if m, ok := s.snap.Load().lookup(alg, kid); ok {
		return m, nil
	}
	if _, ok := s.source.(Invalidator); !ok {
		return Material{}, notFound(alg, kid)
	}
	if err := s.sharedFetch(ctx, true); err != nil {
		return Material{}, err
	}
	if m, ok := s.snap.Load().lookup(alg, kid); ok {
		return m, nil
	}
	return Material{}, notFound(alg, kid)
}

// Refresh drops any cached copy held by the source, then fetches the key set
// and swaps it in. Concurrent callers share the same fetch.
func (s *Store) Refresh(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	return s.sharedFetch(ctx, true)
}

// Keys lists the current snapshot ordered by algorithm and key id.
func (s *Store) Keys() []Material {
	snap := s.snap.Load()
	out := make([]Material, 0, len(snap.all))
	out = append(out, snap.all...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Algorithm != out[j].Algorithm {
			return out[i].Algorithm < out[j].Algorithm
		}
		return out[i].KeyID < out[j].KeyID
	})
	return out
}

// FetchedAt is the completion time of the last successful fetch, zero if none.
func (s *Store) FetchedAt() time.Time {
	return s.snap.Load().fetchedAt
}

// Start refreshes the key set every interval until ctx is done. Periodic
// refreshes read through the source's cache, so instances sharing a cache
// share one upstream fetch per cache lifetime.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if s.source == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sharedFetch(ctx, false); err != nil {
				s.logger.Warn("key set refresh failed", "err", err)
			}
		}
	}
}

// sharedFetch joins the in-flight fetch, if any. The fetch itself is detached
// from ctx so that a caller giving up does not cancel it for the others; each
// caller still stops waiting when its own ctx is done. A fresh fetch never
// joins a cached one.
func (s *Store) sharedFetch(ctx context.Context, fresh bool) error {
	key := fetchGroupKey
	if fresh {
		key = freshGroupKey
	}
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return nil, s.fetch(fctx, fresh)
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

func (s *Store) fetch(ctx context.Context, fresh bool) error {
	if inv, ok := s.source.(Invalidator); ok && fresh {
		if err := inv.Invalidate(ctx); err != nil {
			s.logger.Warn("key set cache invalidation failed", "err", err)
		}
	}
	start := s.now()
	fetched, err := s.source.Fetch(ctx)
	done := s.now()
	s.lastFetch.Store(done.UnixNano())
	if err != nil {
		s.notify("error", done.Sub(start))
		s.logger.Warn("key set fetch failed", "err", err)
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	s.snap.Store(newSnapshot(s.static, fetched, done))
	s.notify("ok", done.Sub(start))
	s.logger.Debug("key set refreshed", "keys", len(fetched))
	return nil
}

func (s *Store) fetchAllowed() bool {
	if s.minFetchInterval <= 0 {
		return true
	}
	last := s.lastFetch.Load()
	if last == 0 {
		return true
	}
	return s.now().Sub(time.Unix(0, last)) >= s.minFetchInterval
}

func (s *Store) notify(outcome string, d time.Duration) {
	if s.observe != nil {
		s.observe(outcome, d)
	}
}

func notFound(alg, kid string) error {
	return fmt.Errorf("%w: alg=%s kid=%q", ErrKeyNotFound, alg, kid)
}

type lookupKey struct {
	alg string
	kid string
}

// snapshot is never mutated after newSnapshot returns.
type snapshot struct {
	byID      map[lookupKey]Material
	byAlg     map[string][]Material
	all       []Material
	fetchedAt time.Time
}

// newSnapshot indexes fetched keys first so that static keys win on conflict.
func newSnapshot(static, fetched []Material, fetchedAt time.Time) *snapshot {
	s := &snapshot{
		byID:      make(map[lookupKey]Material, len(static)+len(fetched)),
		byAlg:     make(map[string][]Material),
		fetchedAt: fetchedAt,
	}
	for _, group := range [][]Material{fetched, static} {
		for _, m := range group {
			s.byID[lookupKey{m.Algorithm, m.KeyID}] = m
		}
	}
	for _, m := range s.byID {
		s.byAlg[m.Algorithm] = append(s.byAlg[m.Algorithm], m)
		s.all = append(s.all, m)
	}
	return s
}

// lookup matches (alg, kid) exactly. A token without kid matches the only key
// of its algorithm; a kid nobody declares matches the algorithm's configured
// secret that has no kid. Asymmetric keys are never matched by an unknown kid.
func (s *snapshot) lookup(alg, kid string) (Material, bool) {
	if m, ok := s.byID[lookupKey{alg, kid}]; ok {
		return m, true
	}
	if kid == "" {
		if candidates := s.byAlg[alg]; len(candidates) == 1 {
			return candidates[0], true
		}
		return Material{}, false
	}
	m, ok := s.byID[lookupKey{alg, ""}]
	if !ok || m.Type != Symmetric {
		return Material{}, false
	}
	return m, true
}
