package settings

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Listener is called with the key of a setting whose value changed.
// Listeners run synchronously on the writer's goroutine, after the write is
// committed and without any store lock held.
type Listener func(key string)

// Store is a SQLite-backed settings store with a write-through cache.
//
// All methods are safe for concurrent use.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	values map[string]string

	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64

	now func() time.Time
}

// NewStore loads every stored setting into memory.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{
		db:        db,
		values:    make(map[string]string),
		listeners: make(map[uint64]Listener),
		now:       time.Now,
	}

	rows, err := db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		s.values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return s, nil
}

// Get returns the value of key and whether it is set.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Credentials returns the current connection settings.
func (s *Store) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Credentials{
		ServerURL:    s.values[KeyServerURL],
		Username:     s.values[KeyUsername],
		Password:     s.values[KeyPassword],
		AccessToken:  s.values[KeyAccessToken],
		RefreshToken: s.values[KeyRefreshToken],
	}
}

// All returns a copy of every stored setting.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Redacted returns every stored setting with secret values masked.
// Empty secrets stay empty so callers can tell "unset" from "set".
func (s *Store) Redacted() map[string]string {
	out := s.All()
	for k, v := range out {
		if secretKeys[k] && v != "" {
			out[k] = redactedValue
		}
	}
	return out
}

// Set writes key and notifies listeners.
//
// Credential keys notify on every successful write, even when the value is
// unchanged: re-saving the same credentials is how an operator retries a
// gateway session. Token keys notify only when the stored value changed.
// An unchanged value is never rewritten to the database.
//
// Parameters:
//   - ctx: Context for the database write
//   - key: One of the known setting keys
//   - value: New value
//
// Returns:
//   - error: ErrUnknownKey for an unknown key, or the database error
func (s *Store) Set(ctx context.Context, key, value string) error {
	if !knownKeys[key] {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	changed, err := s.write(ctx, key, value)
	if err != nil {
		return err
	}
	if changed || IsCredentialKey(key) {
		s.notify(key)
	}
	return nil
}

// SetCredential is Set restricted to operator-writable keys.
func (s *Store) SetCredential(ctx context.Context, key, value string) error {
	if IsTokenKey(key) {
		return fmt.Errorf("%w: %q", ErrReadOnlyKey, key)
	}
	return s.Set(ctx, key, value)
}

// SetDefault writes key only if it has never been set. It is used to seed
// the store from the config file and notifies like Set.
func (s *Store) SetDefault(ctx context.Context, key, value string) error {
	if value == "" {
		return nil
	}
	if _, ok := s.Get(key); ok {
		return nil
	}
	return s.Set(ctx, key, value)
}

// Delete removes key. Listeners are notified when a value was removed.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.values[key]
	if existed {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("deleting setting %s: %w", key, err)
		}
		delete(s.values, key)
	}
	s.mu.Unlock()

	if existed {
		s.notify(key)
	}
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. The returned function is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) write(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.values[key]; ok && old == value {
		return false, nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("writing setting %s: %w", key, err)
	}
	s.values[key] = value
	return true, nil
}

func (s *Store) notify(key string) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
}
