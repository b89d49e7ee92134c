package petals

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// memStore is an in-memory Store whose WithTx serializes writers the way a
// database transaction over a locked user row does.
type memStore struct {
	mu      sync.Mutex
	inTx    bool
	users   map[string]*UserRecord
	entries []Entry
	nextID  int

	getUserError       error
	updateBalanceError error
	insertEntryError   error
	listEntriesError   error
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*UserRecord)}
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.inTx = true
	defer func() { store.inTx = false }()

	usersBefore := make(map[string]UserRecord, len(store.users))
	for id, user := range store.users {
		usersBefore[id] = *user
	}
	entriesBefore := len(store.entries)

	if err := fn(ctx, (*txMemStore)(store)); err != nil {
		for id := range store.users {
			if _, existed := usersBefore[id]; !existed {
				delete(store.users, id)
			}
		}
		for id, user := range usersBefore {
			restored := user
			store.users[id] = &restored
		}
		store.entries = store.entries[:entriesBefore]
		return err
	}
	return nil
}

// txMemStore is memStore viewed from inside a transaction: same data, no
// re-locking.
type txMemStore memStore

func (store *txMemStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *txMemStore) GetOrCreateUser(_ context.Context, userID UserID) (UserRecord, error) {
	if store.getUserError != nil {
		return UserRecord{}, store.getUserError
	}
	user, exists := store.users[userID.String()]
	if !exists {
		user = &UserRecord{UserID: userID.String()}
		store.users[userID.String()] = user
	}
	return *user, nil
}

func (store *txMemStore) UpdateUserBalance(_ context.Context, userID UserID, balance int64, lifetimeEarned int64) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	user, exists := store.users[userID.String()]
	if !exists {
		return fmt.Errorf("user %q not found", userID.String())
	}
	user.PetalBalance = balance
	user.LifetimeEarned = lifetimeEarned
	return nil
}

func (store *txMemStore) InsertEntry(_ context.Context, input EntryInput) (Entry, error) {
	if store.insertEntryError != nil {
		return Entry{}, store.insertEntryError
	}
	collectKey := ""
	if input.CollectKey != nil {
		collectKey = input.CollectKey.String()
		for _, existing := range store.entries {
			if existing.UserID == input.UserID.String() && existing.CollectKey == collectKey {
				return Entry{}, ErrDuplicateCollect
			}
		}
	}
	store.nextID++
	entry := Entry{
		EntryID:        fmt.Sprintf("entry-%d", store.nextID),
		UserID:         input.UserID.String(),
		Kind:           input.Kind,
		Amount:         input.Amount,
		Negative:       input.Negative,
		BalanceAfter:   input.BalanceAfter,
		Reason:         input.Reason.String(),
		CollectKey:     collectKey,
		MetadataJSON:   input.Metadata.String(),
		CreatedUnixUTC: input.CreatedUnixUTC,
	}
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *txMemStore) FindEntryByCollectKey(_ context.Context, userID UserID, key CollectKey) (Entry, error) {
	for _, entry := range store.entries {
		if entry.UserID == userID.String() && entry.CollectKey == key.String() {
			return entry, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (store *txMemStore) ListEntries(_ context.Context, userID UserID, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	entries := make([]Entry, 0, limit)
	for index := len(store.entries) - 1; index >= 0 && len(entries) < limit; index-- {
		if store.entries[index].UserID == userID.String() {
			entries = append(entries, store.entries[index])
		}
	}
	return entries, nil
}

// Read paths outside a transaction share the same data under the lock.
func (store *memStore) GetOrCreateUser(ctx context.Context, userID UserID) (UserRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*txMemStore)(store).GetOrCreateUser(ctx, userID)
}

func (store *memStore) UpdateUserBalance(ctx context.Context, userID UserID, balance int64, lifetimeEarned int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*txMemStore)(store).UpdateUserBalance(ctx, userID, balance, lifetimeEarned)
}

func (store *memStore) InsertEntry(ctx context.Context, input EntryInput) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*txMemStore)(store).InsertEntry(ctx, input)
}

func (store *memStore) FindEntryByCollectKey(ctx context.Context, userID UserID, key CollectKey) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*txMemStore)(store).FindEntryByCollectKey(ctx, userID, key)
}

func (store *memStore) ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*txMemStore)(store).ListEntries(ctx, userID, limit)
}

func (store *memStore) userBalance(test *testing.T, userID string) int64 {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	user, exists := store.users[userID]
	if !exists {
		test.Fatalf("user %q not found", userID)
	}
	return user.PetalBalance
}

func (store *memStore) entrySnapshot(test *testing.T) []Entry {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]Entry(nil), store.entries...)
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustDelta(test *testing.T, raw int64) Delta {
	test.Helper()
	delta, err := NewDelta(raw)
	if err != nil {
		test.Fatalf("delta %d: %v", raw, err)
	}
	return delta
}

func mustReason(test *testing.T, raw string) Reason {
	test.Helper()
	reason, err := NewReason(raw)
	if err != nil {
		test.Fatalf("reason %q: %v", raw, err)
	}
	return reason
}

func mustCollectKey(test *testing.T, raw string) CollectKey {
	test.Helper()
	key, err := NewCollectKey(raw)
	if err != nil {
		test.Fatalf("collect key %q: %v", raw, err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}
