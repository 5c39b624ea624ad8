package streammanager

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rapidcast/pkg/models"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrExists      = errors.New("session already registered")
	ErrLimit       = errors.New("session limit reached")
	ErrStillActive = errors.New("session is still running")
)

type entry struct {
	info    *models.SessionInfo
	stop    func()
	done    chan struct{}
	err     error
	running bool
}

// Manager is the in-memory registry of sessions
type Manager struct {
	sessions    map[string]*entry // session ID -> entry
	maxSessions int
	mu          sync.RWMutex
}

// New creates a registry allowing maxSessions running sessions, 0 for no limit
func New(maxSessions int) *Manager {
	return &Manager{
		sessions:    make(map[string]*entry),
		maxSessions: maxSessions,
	}
}

// Register adds a running session. stop is called by Stop to end it. The
// returned finish func must be called once the session has shut down.
func (m *Manager) Register(info *models.SessionInfo, stop func()) (finish func(error), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[info.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, info.ID)
	}
	if m.maxSessions > 0 && m.runningLocked() >= m.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrLimit, m.maxSessions)
	}

	e := &entry{
		info:    info,
		stop:    stop,
		done:    make(chan struct{}),
		running: true,
	}
	m.sessions[info.ID] = e

	var once sync.Once
	finish = func(err error) {
		once.Do(func() {
			m.mu.Lock()
			e.err = err
			e.running = false
			m.mu.Unlock()
			close(e.done)
		})
	}
	return finish, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*models.SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.sessions[id]
	if !exists {
		return nil, false
	}
	return e.info, true
}

// Result reports whether the session is still running and, if not, the
// error it finished with
func (m *Manager) Result(id string) (running bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.sessions[id]
	if !exists {
		return false, ErrNotFound
	}
	return e.running, e.err
}

// List returns all sessions, oldest first
func (m *Manager) List() []*models.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]*models.SessionInfo, 0, len(m.sessions))
	for _, e := range m.sessions {
		infos = append(infos, e.info)
	}

	sort.Slice(infos, func(i, j int) bool {
		a, _ := infos[i].Times()
		b, _ := infos[j].Times()
		if a.Equal(b) {
			return infos[i].ID < infos[j].ID
		}
		return a.Before(b)
	})
	return infos
}

// Stop asks a running session to end and returns a channel closed once
// it has shut down
func (m *Manager) Stop(id string) (<-chan struct{}, error) {
	m.mu.RLock()
	e, exists := m.sessions[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.stop != nil {
		e.stop()
	}
	return e.done, nil
}

// StopAll asks every running session to end and waits for them
func (m *Manager) StopAll() {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if e.stop != nil {
			e.stop()
		}
	}
	for _, e := range entries {
		<-e.done
	}
}

// Remove deletes a finished session from the registry
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.sessions[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.running {
		return fmt.Errorf("%w: %s", ErrStillActive, id)
	}
	delete(m.sessions, id)
	return nil
}

// Count returns the total number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RunningCount returns the number of sessions that have not finished
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

func (m *Manager) runningLocked() int {
	count := 0
	for _, e := range m.sessions {
		if e.running {
			count++
		}
	}
	return count
}
