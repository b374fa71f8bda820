package composition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
)

// ErrSessionNotFound is returned for unknown composition ids
var ErrSessionNotFound = errors.New("composition not found")

// Settings are the output properties of a composition
type Settings struct {
	FPS    int `json:"fps"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Session is one editing session. It exclusively owns its overlay
// collection and its keyframe cache.
type Session struct {
	ID        string
	Settings  Settings
	Overlays  *Collection
	Keyframes *keyframes.Cache
	CreatedAt time.Time
}

// CacheFactory builds the keyframe cache for a new session
type CacheFactory func(sessionID string) *keyframes.Cache

// Manager tracks open editing sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newCache CacheFactory
	defaults Settings
}

// NewManager creates a session manager
func NewManager(defaults Settings, newCache CacheFactory) *Manager {
	if newCache == nil {
		newCache = func(string) *keyframes.Cache {
			return keyframes.NewCache(keyframes.NewMemoryStore(), keyframes.DefaultTTL)
		}
	}
	return &Manager{
		sessions: make(map[string]*Session),
		newCache: newCache,
		defaults: defaults,
	}
}

// Create opens a session; zero settings fall back to the manager defaults
func (m *Manager) Create(settings Settings) *Session {
	if settings.FPS <= 0 {
		settings.FPS = m.defaults.FPS
	}
	if settings.Width <= 0 {
		settings.Width = m.defaults.Width
	}
	if settings.Height <= 0 {
		settings.Height = m.defaults.Height
	}

	id := uuid.New().String()
	s := &Session{
		ID:        id,
		Settings:  settings,
		Overlays:  NewCollection(),
		Keyframes: m.newCache(id),
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns an open session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close ends a session and tears down its keyframe cache
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := s.Keyframes.Close(ctx); err != nil {
		return fmt.Errorf("failed to tear down keyframe cache: %w", err)
	}
	return nil
}

// CloseAll ends every session, used on shutdown
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
