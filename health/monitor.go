package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest status per component. A nil *Monitor ignores
// updates and reports healthy, so callers need no guards.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name.
func (m *Monitor) Update(name string, status Status) {
	if m == nil {
		return
	}
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

// UpdateHealthy marks name healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks name degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks name unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status recorded for name.
func (m *Monitor) Get(name string) (Status, bool) {
	if m == nil {
		return Status{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove forgets name.
func (m *Monitor) Remove(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// AggregateHealth rolls every recorded status into one, sub-statuses
// sorted by component name.
func (m *Monitor) AggregateHealth(system string) Status {
	if m == nil {
		return Aggregate(system, nil)
	}

	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(system, subs)
}
