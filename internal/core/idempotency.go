package core

import (
	"RaffleLedger/internal/observability"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultIdempotencyCapacity bounds the in-memory tier.
const DefaultIdempotencyCapacity = 100_000

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication of commands.
// Safe for concurrent use. Keys being dispatched are held in an in-flight
// set so concurrent deliveries of one command apply it once.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *lru.Cache[string, struct{}]

	mu       sync.Mutex
	inflight map[string]chan struct{}

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		panic(fmt.Sprintf("FATAL: idempotency LRU: %v", err))
	}
	return &IdempotencyChecker{
		lru:       cache,
		inflight:  make(map[string]chan struct{}),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

func compositeKey(commandType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", commandType, idempotencyKey)
}

// IsDuplicate checks if a command has been processed (two-tier lookup).
// Commands without a key are never deduplicated.
func (ic *IdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false
	}
	key := compositeKey(commandType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.recordDuplicate(commandType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if err != nil {
			// Fail open: a DB outage must not block command processing.
			ic.logger.Warn().Err(err).Str("command", commandType).Msg("tier-2 dedup lookup failed")
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}

		if isDup {
			ic.recordDuplicate(commandType, "postgres")
			ic.lru.Add(key, struct{}{})
			return true
		}
	}

	return false
}

// Acquire reserves a key for one dispatch. A concurrent holder of the same
// key is waited for, then the key is checked again. When duplicate is false
// the caller must call release exactly once; release(true) marks the key
// processed, release(false) leaves it retryable.
func (ic *IdempotencyChecker) Acquire(commandType string, idempotencyKey string) (release func(processed bool), duplicate bool) {
	if idempotencyKey == "" {
		return func(bool) {}, false
	}
	key := compositeKey(commandType, idempotencyKey)

	for {
		ic.mu.Lock()
		wait, busy := ic.inflight[key]
		if !busy {
			ic.inflight[key] = make(chan struct{})
			ic.mu.Unlock()
			break
		}
		ic.mu.Unlock()
		<-wait
	}

	if ic.IsDuplicate(commandType, idempotencyKey) {
		ic.finish(key)
		return nil, true
	}

	var once sync.Once
	return func(processed bool) {
		once.Do(func() {
			if processed {
				ic.MarkProcessed(commandType, idempotencyKey)
			}
			ic.finish(key)
		})
	}, false
}

func (ic *IdempotencyChecker) finish(key string) {
	ic.mu.Lock()
	wait := ic.inflight[key]
	delete(ic.inflight, key)
	ic.mu.Unlock()
	if wait != nil {
		close(wait)
	}
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	if idempotencyKey == "" {
		return
	}
	ic.lru.Add(compositeKey(commandType, idempotencyKey), struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// WarmFromKeys loads recently processed composite keys on restart so they
// do not fall through to Postgres.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

// Size returns current number of entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}
