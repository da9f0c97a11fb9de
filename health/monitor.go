package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Set records a level and message for the named component
func (m *Monitor) Set(name string, level Level, message string) {
	m.Update(Status{Component: name, Level: level, Message: message})
}

// Update stores status under its component name
func (m *Monitor) Update(status Status) {
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.statuses[status.Component] = status
	m.mu.Unlock()
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Overall aggregates every tracked component, ordered by name
func (m *Monitor) Overall(system string) Status {
	m.mu.RLock()
	parts := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		parts = append(parts, s)
	}
	m.mu.RUnlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].Component < parts[j].Component })
	return Aggregate(system, parts)
}
