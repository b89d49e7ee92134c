package collect

import (
	"sync"
	"time"

	"github.com/otakumori/petals/pkg/petals"
)

// MemoryResultStore is a keyed in-process ResultStore for single-process
// deployments. Multi-process deployments swap in an external cache behind the
// same interface.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]memoryResult
	ttl     time.Duration
}

type memoryResult struct {
	receipt   petals.Receipt
	expiresAt time.Time
}

const defaultResultTTL = time.Hour

// NewMemoryResultStore creates a store whose records expire after ttl. A
// non-positive ttl falls back to a default; the janitor ticker rejects
// non-positive intervals.
func NewMemoryResultStore(ttl time.Duration) *MemoryResultStore {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	store := &MemoryResultStore{
		results: make(map[string]memoryResult),
		ttl:     ttl,
	}
	go store.cleanup()
	return store
}

// Get returns the recorded receipt for a key, if any.
func (store *MemoryResultStore) Get(key string) (petals.Receipt, bool, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	result, exists := store.results[key]
	if !exists || time.Now().After(result.expiresAt) {
		return petals.Receipt{}, false, nil
	}
	return result.receipt, true, nil
}

// Put records a receipt for a key.
func (store *MemoryResultStore) Put(key string, receipt petals.Receipt) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.results[key] = memoryResult{
		receipt:   receipt,
		expiresAt: time.Now().Add(store.ttl),
	}
	return nil
}

func (store *MemoryResultStore) cleanup() {
	ticker := time.NewTicker(store.ttl)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		store.mu.Lock()
		for key, result := range store.results {
			if now.After(result.expiresAt) {
				delete(store.results, key)
			}
		}
		store.mu.Unlock()
	}
}
