// Package presence tracks which users currently hold live connections.
//
// A Registry is built once at startup and injected where it is needed. It is
// process-local: running several instances needs a shared presence layer in
// front of it.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
)

// Transition online/offline edge of a user
type Transition int

const (
	WentOnline Transition = iota + 1
	WentOffline
)

func (t Transition) String() string {
	switch t {
	case WentOnline:
		return "online"
	case WentOffline:
		return "offline"
	}
	return "unknown"
}

// Entry one live connection
type Entry struct {
	ConnID      string
	UserID      uint64
	TenantID    string
	Role        domain.Role
	DisplayName string
	ConnectedAt time.Time
}

// Change is handed to the listener on a 0->1 or 1->0 connection count edge.
// ConnID is the connection that caused it.
type Change struct {
	Transition  Transition
	ConnID      string
	UserID      uint64
	TenantID    string
	DisplayName string
}

// Listener is invoked with the registry lock held and must not block
// or call back into the registry.
type Listener func(Change)

// Registry userID -> set(connID)
type Registry struct {
	mu       sync.Mutex
	users    map[uint64]map[string]struct{}
	conns    map[string]Entry
	listener Listener
	closed   bool
}

// New creates a registry. listener may be nil.
func New(listener Listener) *Registry {
	return &Registry{
		users:    make(map[uint64]map[string]struct{}),
		conns:    make(map[string]Entry),
		listener: listener,
	}
}

// SetListener replaces the listener. Used when the listener depends on
// components constructed after the registry.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Register adds a connection and reports whether it was the user's first
func (r *Registry) Register(e Entry) bool {
	if e.ConnectedAt.IsZero() {
		e.ConnectedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, dup := r.conns[e.ConnID]; dup {
		return false
	}

	set, ok := r.users[e.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.users[e.UserID] = set
	}
	set[e.ConnID] = struct{}{}
	r.conns[e.ConnID] = e
	r.updateGauges()

	first := len(set) == 1
	if first && r.listener != nil {
		r.listener(Change{
			Transition:  WentOnline,
			ConnID:      e.ConnID,
			UserID:      e.UserID,
			TenantID:    e.TenantID,
			DisplayName: e.DisplayName,
		})
	}
	return first
}

// Unregister removes a connection and reports whether it was the user's last.
// Unknown connection ids are ignored.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.conns, connID)

	set := r.users[e.UserID]
	delete(set, connID)
	last := len(set) == 0
	if last {
		delete(r.users, e.UserID)
	}
	r.updateGauges()

	if last && r.listener != nil {
		r.listener(Change{
			Transition:  WentOffline,
			ConnID:      connID,
			UserID:      e.UserID,
			TenantID:    e.TenantID,
			DisplayName: e.DisplayName,
		})
	}
	return e, last
}

func (r *Registry) IsOnline(userID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// OnlineUsersInTenant returns online user ids of a tenant in ascending order
func (r *Registry) OnlineUsersInTenant(tenantID string, excluding uint64) []uint64 {
	r.mu.Lock()
	seen := make(map[uint64]struct{})
	for _, e := range r.conns {
		if e.TenantID == tenantID && e.UserID != excluding {
			seen[e.UserID] = struct{}{}
		}
	}
	r.mu.Unlock()

	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connections returns the live connection ids of a user
func (r *Registry) Connections(userID uint64) []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Lookup returns the entry of a live connection
func (r *Registry) Lookup(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	return e, ok
}

// Count returns the number of online users and live connections
func (r *Registry) Count() (users, conns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), len(r.conns)
}

// CountInTenant returns online users and live connections of one tenant
func (r *Registry) CountInTenant(tenantID string) (users, conns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uint64]struct{})
	for _, e := range r.conns {
		if e.TenantID == tenantID {
			seen[e.UserID] = struct{}{}
			conns++
		}
	}
	return len(seen), conns
}

// Close drops every entry without emitting transitions. Later Register calls are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.users = make(map[uint64]map[string]struct{})
	r.conns = make(map[string]Entry)
	r.updateGauges()
}

func (r *Registry) updateGauges() {
	metrics.OnlineUsers.Set(float64(len(r.users)))
	metrics.LiveConnections.Set(float64(len(r.conns)))
}
