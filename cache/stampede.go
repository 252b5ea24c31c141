package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Fetcher computes the value for a key on a cache miss. It is only invoked by
// the caller elected as the sole fetcher for the key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// maxPollDelay caps the exponential backoff of the lock-wait poll loop.
const maxPollDelay = 2 * time.Second

// errValueNotReady drives the poll loop while another fetcher is working.
var errValueNotReady = errors.New("value not yet available")

// Protector coordinates concurrent refills of cache keys. Local callers
// serialize on a lazily created per-key mutex; across instances a SETNX lock
// entry in the shared cache elects one fetcher per key. Both tiers degrade
// toward availability: lock-layer failures log and fall back to uncoordinated
// fetching rather than failing the caller.
type Protector struct {
	store  Store
	config *ProtectionConfig
	logger *slog.Logger
	locks  sync.Map // key -> *sync.Mutex
	stats  *protectionStats
}

// NewProtector creates a Protector over the given store.
//
// Example:
//
//	protector := cache.NewProtector(store,
//	    cache.WithLockTimeout(10*time.Second),
//	    cache.WithMaxLockWaitRetries(5),
//	)
func NewProtector(store Store, opts ...ProtectionOption) *Protector {
	config := DefaultProtectionConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Second
	}
	if config.LockRetryDelay <= 0 {
		config.LockRetryDelay = 50 * time.Millisecond
	}
	if config.MaxLockWaitRetries < 0 {
		config.MaxLockWaitRetries = 0
	}
	if config.Beta <= 0 {
		config.Beta = 1.0
	}

	return &Protector{
		store:  store,
		config: config,
		logger: config.Logger,
		stats:  &protectionStats{},
	}
}

// GetWithProtection returns the cached value for key, computing it via fetch
// on a miss with at most one concurrent fetcher per key. The outcome is either
// a value or a definitive miss; cache, lock, and fetch failures are logged and
// downgraded, never raised.
//
// Callers must treat a miss as a valid non-exceptional result: it covers
// failed fetches and waits on a concurrent fetcher that exhausted the poll
// budget.
//
// Example:
//
//	tracks, ok := cache.GetWithProtection(ctx, protector, "playlist:42", 5*time.Minute,
//	    func(ctx context.Context) ([]Track, error) { return repo.LoadPlaylist(ctx, 42) },
//	    cache.NewJSONCodec[[]Track](),
//	)
func GetWithProtection[T any](
	ctx context.Context,
	p *Protector,
	key string,
	ttl time.Duration,
	fetch Fetcher[T],
	codec Codec[T],
) (T, bool) {
	var zero T

	// Fast path, no locking.
	if value, ok := lookup(ctx, p, key, codec); ok {
		p.stats.hit()
		return value, true
	}

	// Local tier: callers in this process queue here instead of all racing
	// for the distributed lock.
	lock := p.localLock(key)
	lock.Lock()
	defer lock.Unlock()

	// A local caller ahead of us may have filled the key while we waited.
	if value, ok := lookup(ctx, p, key, codec); ok {
		p.stats.hit()
		return value, true
	}

	// Distributed tier: owning the lock entry elects this process the sole
	// fetcher cluster-wide until release or TTL expiry.
	owner := uuid.NewString()
	acquired, err := p.store.SetNX(ctx, lockKeyFor(key), owner, p.config.LockTimeout)
	if err != nil {
		// Lock layer unreachable. Duplicate work across instances beats
		// failing the caller.
		p.logger.Warn("distributed lock acquisition failed, fetching uncoordinated",
			"key", key, "error", err)
		acquired = true
	}

	if !acquired {
		return waitForValue(ctx, p, key, codec)
	}
	defer p.releaseLock(ctx, key, owner)

	// Another instance may have finished between the first read and the lock
	// grant.
	if value, ok := lookup(ctx, p, key, codec); ok {
		p.stats.hit()
		return value, true
	}

	value, ferr := fetch(ctx)
	p.stats.fetch()
	if ferr != nil {
		p.logger.Warn("fetch failed, reporting miss", "key", key, "error", ferr)
		p.stats.miss()
		return zero, false
	}

	storeValue(ctx, p, key, value, ttl, codec)
	return value, true
}

// GetWithProbabilisticExpiration is GetWithProtection plus early refresh:
// alongside the value it tracks when the last recompute happened (xfetch) and
// how long it took (delta), and recomputes once now >= xfetch + delta*beta so
// a popular key refreshes before its TTL instead of expiring under full load.
// A non-positive beta uses the configured default.
//
// When a refresh fails or is already running on another instance, the
// previous value is served; staleness wins over unavailability.
func GetWithProbabilisticExpiration[T any](
	ctx context.Context,
	p *Protector,
	key string,
	ttl time.Duration,
	beta float64,
	fetch Fetcher[T],
	codec Codec[T],
) (T, bool) {
	var zero T
	if beta <= 0 {
		beta = p.config.Beta
	}

	raw, hasValue, refresh := p.shouldRefresh(ctx, key, beta, time.Now())
	if !refresh && hasValue {
		value, err := codec.Decode(raw)
		if err == nil {
			p.stats.hit()
			return value, true
		}
		p.logger.Warn("cache value failed to decode, refreshing", "key", key, "error", err)
	}

	// Refresh under the same two tiers as a protected get. The value is not
	// removed first: readers keep hitting the old entry until the new one
	// lands.
	lock := p.localLock(key)
	lock.Lock()
	defer lock.Unlock()

	// A local caller ahead of us may have just refreshed.
	raw, hasValue, refresh = p.shouldRefresh(ctx, key, beta, time.Now())
	var previous T
	hasPrevious := false
	if hasValue {
		if v, err := codec.Decode(raw); err == nil {
			previous = v
			hasPrevious = true
		}
	}
	if !refresh && hasPrevious {
		p.stats.hit()
		return previous, true
	}

	owner := uuid.NewString()
	acquired, err := p.store.SetNX(ctx, lockKeyFor(key), owner, p.config.LockTimeout)
	if err != nil {
		p.logger.Warn("distributed lock acquisition failed, refreshing uncoordinated",
			"key", key, "error", err)
		acquired = true
	}

	if !acquired {
		// Another instance is already refreshing this key.
		if hasPrevious {
			p.stats.staleServe()
			return previous, true
		}
		return waitForValue(ctx, p, key, codec)
	}
	defer p.releaseLock(ctx, key, owner)

	// The refresher before us may have finished between the re-check and the
	// lock grant.
	if raw, hasValue, refresh = p.shouldRefresh(ctx, key, beta, time.Now()); !refresh && hasValue {
		if v, err := codec.Decode(raw); err == nil {
			p.stats.hit()
			return v, true
		}
	}

	started := time.Now()
	value, ferr := fetch(ctx)
	took := time.Since(started)
	p.stats.fetch()
	if ferr != nil {
		p.logger.Warn("refresh fetch failed", "key", key, "error", ferr)
		if hasPrevious {
			p.stats.staleServe()
			return previous, true
		}
		p.stats.miss()
		return zero, false
	}

	storeValueWithTiming(ctx, p, key, value, ttl, took, codec)
	if hasPrevious {
		p.stats.earlyRefresh()
	}
	return value, true
}

// waitForValue polls for the value a concurrent fetcher is computing, backing
// off exponentially from LockRetryDelay up to MaxLockWaitRetries polls beyond
// the first check. Exhaustion is a definitive miss.
func waitForValue[T any](ctx context.Context, p *Protector, key string, codec Codec[T]) (T, bool) {
	var zero T
	p.stats.lockWait()

	var value T
	found := false
	backoff := retry.WithMaxRetries(
		uint64(p.config.MaxLockWaitRetries), // #nosec G115 - clamped non-negative in NewProtector
		retry.WithCappedDuration(maxPollDelay, retry.NewExponential(p.config.LockRetryDelay)),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if v, ok := lookup(ctx, p, key, codec); ok {
			value = v
			found = true
			return nil
		}
		return retry.RetryableError(errValueNotReady)
	})
	if err != nil || !found {
		p.logger.Debug("gave up waiting for concurrent fetcher", "key", key)
		p.stats.miss()
		return zero, false
	}

	p.stats.hit()
	return value, true
}

// lookup reads and decodes key. Read and decode failures are logged and
// reported as a miss.
func lookup[T any](ctx context.Context, p *Protector, key string, codec Codec[T]) (T, bool) {
	var zero T

	raw, found, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		return zero, false
	}
	if !found {
		return zero, false
	}

	value, err := codec.Decode(raw)
	if err != nil {
		p.logger.Warn("cache value failed to decode, treating as miss", "key", key, "error", err)
		return zero, false
	}
	return value, true
}

// storeValue encodes and stores a fetched value. Store failures never fail the
// caller; the fetch already produced the value being returned.
func storeValue[T any](ctx context.Context, p *Protector, key string, value T, ttl time.Duration, codec Codec[T]) {
	encoded, err := codec.Encode(value)
	if err != nil {
		p.logger.Warn("value failed to encode, skipping store", "key", key, "error", err)
		return
	}
	if err := p.store.Set(ctx, key, encoded, ttl); err != nil {
		p.logger.Warn("cache store failed", "key", key, "error", err)
	}
}

// storeValueWithTiming stores the value plus the xfetch/delta bookkeeping
// entries, all under the same TTL so they expire together.
func storeValueWithTiming[T any](ctx context.Context, p *Protector, key string, value T, ttl time.Duration, took time.Duration, codec Codec[T]) {
	storeValue(ctx, p, key, value, ttl, codec)

	now := time.Now()
	if err := p.store.Set(ctx, xfetchKeyFor(key), strconv.FormatInt(now.UnixMilli(), 10), ttl); err != nil {
		p.logger.Warn("xfetch bookkeeping store failed", "key", key, "error", err)
	}
	if err := p.store.Set(ctx, deltaKeyFor(key), strconv.FormatInt(took.Milliseconds(), 10), ttl); err != nil {
		p.logger.Warn("delta bookkeeping store failed", "key", key, "error", err)
	}
}

// shouldRefresh reads the value and its bookkeeping and decides whether a
// recompute is due. With a value and timing present, the value refreshes once
// now >= xfetch + delta*beta; with a value but no timing it is served until
// TTL expiry; with no value a refresh is always due.
func (p *Protector) shouldRefresh(ctx context.Context, key string, beta float64, now time.Time) (raw string, hasValue, refresh bool) {
	raw, found, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		return "", false, true
	}
	if !found {
		return "", false, true
	}

	xfetch, delta, ok := p.readTiming(ctx, key)
	if !ok {
		return raw, true, false
	}

	deadline := xfetch.Add(time.Duration(float64(delta) * beta))
	return raw, true, !now.Before(deadline)
}

// readTiming loads the xfetch/delta pair. Missing or malformed entries report
// as absent.
func (p *Protector) readTiming(ctx context.Context, key string) (time.Time, time.Duration, bool) {
	rawFetch, foundFetch, err := p.store.Get(ctx, xfetchKeyFor(key))
	if err != nil || !foundFetch {
		return time.Time{}, 0, false
	}
	rawDelta, foundDelta, err := p.store.Get(ctx, deltaKeyFor(key))
	if err != nil || !foundDelta {
		return time.Time{}, 0, false
	}

	fetchMillis, err := strconv.ParseInt(rawFetch, 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	deltaMillis, err := strconv.ParseInt(rawDelta, 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	return time.UnixMilli(fetchMillis), time.Duration(deltaMillis) * time.Millisecond, true
}

// localLock returns the in-process lock for key, creating it on first use.
func (p *Protector) localLock(key string) *sync.Mutex {
	actual, _ := p.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// releaseLock deletes the distributed lock entry if this caller still owns
// it. An entry that expired and was re-acquired elsewhere is left alone.
// Release failures are logged; the TTL is the backstop.
func (p *Protector) releaseLock(ctx context.Context, key, owner string) {
	lockKey := lockKeyFor(key)

	current, found, err := p.store.Get(ctx, lockKey)
	if err != nil {
		p.logger.Warn("distributed lock release read failed", "key", key, "error", err)
		return
	}
	if !found || current != owner {
		return
	}
	if err := p.store.Delete(ctx, lockKey); err != nil {
		p.logger.Warn("distributed lock release failed", "key", key, "error", err)
	}
}

// ClearLocks drops every local lock. Intended for memory hygiene on
// long-running processes with high key cardinality; a caller racing the clear
// may briefly fetch under a retired lock, with the distributed tier still
// bounding concurrent fetches.
func (p *Protector) ClearLocks() {
	p.locks.Range(func(key, _ any) bool {
		p.locks.Delete(key)
		return true
	})
}

// Sweep drops local locks not currently held and reports how many were
// removed. Held locks stay, so an in-flight fetch keeps its queue.
func (p *Protector) Sweep() int {
	removed := 0
	p.locks.Range(func(key, value any) bool {
		mu := value.(*sync.Mutex)
		if mu.TryLock() {
			p.locks.Delete(key)
			mu.Unlock()
			removed++
		}
		return true
	})
	return removed
}

// LockCount reports the number of local locks currently tracked.
func (p *Protector) LockCount() int {
	count := 0
	p.locks.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// protectionStats tracks protection outcomes.
type protectionStats struct {
	mu             sync.Mutex
	hits           uint64
	misses         uint64
	fetches        uint64
	lockWaits      uint64
	staleServes    uint64
	earlyRefreshes uint64
}

func (s *protectionStats) hit()          { s.mu.Lock(); s.hits++; s.mu.Unlock() }
func (s *protectionStats) miss()         { s.mu.Lock(); s.misses++; s.mu.Unlock() }
func (s *protectionStats) fetch()        { s.mu.Lock(); s.fetches++; s.mu.Unlock() }
func (s *protectionStats) lockWait()     { s.mu.Lock(); s.lockWaits++; s.mu.Unlock() }
func (s *protectionStats) staleServe()   { s.mu.Lock(); s.staleServes++; s.mu.Unlock() }
func (s *protectionStats) earlyRefresh() { s.mu.Lock(); s.earlyRefreshes++; s.mu.Unlock() }

// ProtectionStats holds statistics about protection outcomes.
type ProtectionStats struct {
	// Hits is the number of values served from the cache, from any of the
	// read checks or the poll loop.
	Hits uint64

	// Misses is the number of definitive misses: failed fetches and exhausted
	// poll budgets.
	Misses uint64

	// Fetches is the number of fetcher invocations.
	Fetches uint64

	// LockWaits is the number of calls that found the distributed lock held
	// by another instance.
	LockWaits uint64

	// StaleServes is the number of previous values served because a refresh
	// failed or was running elsewhere.
	StaleServes uint64

	// EarlyRefreshes is the number of successful refreshes triggered before
	// TTL expiry.
	EarlyRefreshes uint64
}

// Stats returns a snapshot of protection outcomes. Thread-safe.
func (p *Protector) Stats() ProtectionStats {
	p.stats.mu.Lock()
	defer p.stats.mu.Unlock()

	return ProtectionStats{
		Hits:           p.stats.hits,
		Misses:         p.stats.misses,
		Fetches:        p.stats.fetches,
		LockWaits:      p.stats.lockWaits,
		StaleServes:    p.stats.staleServes,
		EarlyRefreshes: p.stats.earlyRefreshes,
	}
}
