package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/zsiec/framecap/internal/errors"
	"github.com/zsiec/framecap/internal/metrics"
)

// ErrSessionNotFound is returned when a session does not exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// UpdateFunc mutates a session inside Store.Update. Returning an error
// aborts the update and leaves the stored session untouched.
type UpdateFunc func(s *Session) error

// Store persists capture sessions. Sessions expire after the store's TTL,
// which every write refreshes.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// Update applies fn to the latest stored copy of the session atomically
	// and returns the updated session.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// observe records a store call. Missing sessions and errors raised by an
// UpdateFunc are not backend failures.
func observe(backend, operation string, start time.Time, err error) {
	if errors.Is(err, ErrSessionNotFound) || apperrors.IsAppError(err) {
		err = nil
	}
	metrics.ObserveStoreOperation(backend, operation, start, err)
}

func encodeSession(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Sessions are stored encoded so
// callers never share state with the store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
	closed   bool
}

// NewMemoryStore creates an in-process session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

const memoryBackend = "memory"

var errStoreClosed = errors.New("session store closed")

func (m *MemoryStore) Get(ctx context.Context, id string) (s *Session, err error) {
	defer func(start time.Time) { observe(memoryBackend, "get", start, err) }(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.load(id)
	if err != nil {
		return nil, err
	}
	return decodeSession(data)
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) (err error) {
	defer func(start time.Time) { observe(memoryBackend, "save", start, err) }(time.Now())

	data, err := encodeSession(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errStoreClosed
	}
	m.store(s.ID, data)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe(memoryBackend, "delete", start, err) }(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.load(id); err != nil {
		return err
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (s *Session, err error) {
	defer func(start time.Time) { observe(memoryBackend, "update", start, err) }(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.load(id)
	if err != nil {
		return nil, err
	}
	s, err = decodeSession(data)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if data, err = encodeSession(s); err != nil {
		return nil, err
	}
	m.store(id, data)
	return s, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]memoryEntry)
	return nil
}

// Len returns the number of sessions held, including expired ones not yet
// swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, e := range m.sessions {
		if !now.Before(e.expiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// load must be called with mu held.
func (m *MemoryStore) load(id string) ([]byte, error) {
	if m.closed {
		return nil, errStoreClosed
	}
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}
	return e.data, nil
}

// store must be called with mu held.
func (m *MemoryStore) store(id string, data []byte) {
	m.sessions[id] = memoryEntry{data: data, expiresAt: m.now().Add(m.ttl)}
}
