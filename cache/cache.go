// Package cache provides stampede protection for expensive fetch-or-compute
// operations backed by a shared key-value cache.
//
// A Protector coordinates concurrent refills of the same key with a two-tier
// lock: an in-process mutex keeps local callers off the network, and a
// distributed lock (a SETNX entry in the shared cache) elects a single fetcher
// cluster-wide. The probabilistic early-expiration variant additionally
// refreshes values shortly before they expire so a popular key's callers never
// expire in lockstep.
//
// Cache and lock failures never propagate to callers: the outcome of a
// protected get is either a value (possibly stale) or a definitive miss.
package cache

import (
	"context"
	"time"
)

// Store is the shared key-value cache boundary. Implementations must make
// SetNX atomic: the check and the write happen as one operation at the cache
// layer.
//
// Get reports a missing key as (_, false, nil); errors are reserved for the
// cache itself being unreachable or misbehaving.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Per-key derived entries live next to the value under suffixed keys: the
// distributed lock, and the bookkeeping pair driving probabilistic early
// expiration.
const (
	lockSuffix   = ":lock"
	xfetchSuffix = ":xfetch"
	deltaSuffix  = ":delta"
)

func lockKeyFor(key string) string   { return key + lockSuffix }
func xfetchKeyFor(key string) string { return key + xfetchSuffix }
func deltaKeyFor(key string) string  { return key + deltaSuffix }
