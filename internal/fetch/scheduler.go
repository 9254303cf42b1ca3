// ABOUTME: Bounded-concurrency fetch scheduler with per-source loading state
// ABOUTME: Skips sources already in flight, stores validators, and hands non-empty bodies to a callback

package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/harper/feedradar/internal/condcache"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/metrics"
)

const (
	DefaultWorkers    = 8
	DefaultClearDelay = 200 * time.Millisecond
)

// OnEach receives the body of a feed that changed since the last fetch.
type OnEach func(ctx context.Context, body []byte, source string)

// Scheduler runs feed downloads on a greedy bounded worker pool.
type Scheduler struct {
	client     *Client
	cache      *condcache.Cache
	log        logging.Logger
	workers    int
	clearDelay time.Duration
	hosts      *hostLimiter

	mu       sync.Mutex
	loading  map[string]bool
	observer func(source string, loading bool)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the maximum number of concurrent downloads.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClearDelay sets how long a source stays marked as loading after its
// download finishes.
func WithClearDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.clearDelay = d }
}

// WithHostRate spaces requests to the same host. rps <= 0 disables pacing.
func WithHostRate(rps float64, burst int) Option {
	return func(s *Scheduler) {
		if rps > 0 {
			s.hosts = newHostLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLoadingObserver registers fn to be called whenever a source's loading
// flag changes. fn is called without the scheduler's lock held.
func WithLoadingObserver(fn func(source string, loading bool)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// NewScheduler creates a Scheduler.
func NewScheduler(client *Client, cache *condcache.Cache, log logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:     client,
		cache:      cache,
		log:        log,
		workers:    DefaultWorkers,
		clearDelay: DefaultClearDelay,
		loading:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsLoading reports whether source is currently being fetched.
func (s *Scheduler) IsLoading(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[source]
}

// Loading returns every source currently being fetched.
func (s *Scheduler) Loading() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sources := make([]string, 0, len(s.loading))
	for source, busy := range s.loading {
		if busy {
			sources = append(sources, source)
		}
	}
	return sources
}

// Fetch downloads sources with at most the configured number of workers and
// returns when every download it started has finished. Sources already in
// flight are skipped. onEach only sees non-empty bodies; failures are logged.
func (s *Scheduler) Fetch(ctx context.Context, sources []string, onEach OnEach) {
	pending := s.claim(sources)
	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, source := range pending {
		g.Go(func() error {
			s.fetchOne(ctx, source, onEach)
			return nil
		})
	}
	_ = g.Wait()
}

// claim marks every idle source as loading and returns them.
func (s *Scheduler) claim(sources []string) []string {
	s.mu.Lock()
	var claimed []string
	for _, source := range sources {
		if s.loading[source] {
			continue
		}
		s.loading[source] = true
		claimed = append(claimed, source)
	}
	s.mu.Unlock()

	for _, source := range claimed {
		s.notify(source, true)
	}
	return claimed
}

func (s *Scheduler) release(source string) {
	done := func() {
		s.mu.Lock()
		delete(s.loading, source)
		s.mu.Unlock()
		s.notify(source, false)
	}
	if s.clearDelay <= 0 {
		done()
		return
	}
	time.AfterFunc(s.clearDelay, done)
}

func (s *Scheduler) notify(source string, loading bool) {
	if s.observer != nil {
		s.observer(source, loading)
	}
}

func (s *Scheduler) fetchOne(ctx context.Context, source string, onEach OnEach) {
	defer s.release(source)

	metrics.FetchInFlight.Inc()
	defer metrics.FetchInFlight.Dec()
	start := time.Now()

	if s.hosts != nil {
		if err := s.hosts.wait(ctx, source); err != nil {
			s.log.Debug(ctx, "fetch cancelled", "source", source, "error", err)
			metrics.RecordFetch(metrics.OutcomeError, time.Since(start).Seconds())
			return
		}
	}

	res, err := s.client.Fetch(ctx, source, s.cache)
	if err != nil {
		s.log.Debug(ctx, "fetch failed", "source", source, "error", err)
		metrics.RecordFetch(metrics.OutcomeError, time.Since(start).Seconds())
		return
	}

	if err := s.cache.Store(source, res.Header); err != nil {
		s.log.Debug(ctx, "failed to store conditional headers", "source", source, "error", err)
	}

	if res.NotModified() {
		metrics.RecordFetch(metrics.OutcomeNotModified, time.Since(start).Seconds())
		return
	}
	metrics.RecordFetch(metrics.OutcomeOK, time.Since(start).Seconds())
	onEach(ctx, res.Body, source)
}

// hostLimiter hands out one token bucket per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newHostLimiter(r rate.Limit, burst int) *hostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (h *hostLimiter) wait(ctx context.Context, rawURL string) error {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(h.rate, h.burst)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
