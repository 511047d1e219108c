package ws

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
)

// Conn is a live connection the router can deliver to
type Conn interface {
	ID() string
	UserID() uint64
	// Enqueue must not block. It returns false when the frame was dropped.
	Enqueue(data []byte) bool
}

// UserKey routing key reaching every device of a user
func UserKey(userID uint64) string {
	return "user:" + strconv.FormatUint(userID, 10)
}

// TenantKey routing key of a tenant. Tenant-less accounts share "tenant:-".
func TenantKey(tenantID string) string {
	if tenantID == "" {
		return "tenant:-"
	}
	return "tenant:" + tenantID
}

// GroupKey routing key of a group room
func GroupKey(roomID uint64) string {
	return "group:" + strconv.FormatUint(roomID, 10)
}

// Router maps live connections to subscription keys and fans events out
type Router struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	byUser map[uint64]map[string]struct{}
	subs   map[string]map[string]struct{} // key -> conn ids
	keysOf map[string]map[string]struct{} // conn id -> keys
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		conns:  make(map[string]Conn),
		byUser: make(map[uint64]map[string]struct{}),
		subs:   make(map[string]map[string]struct{}),
		keysOf: make(map[string]map[string]struct{}),
	}
}

// Attach makes a connection addressable
func (r *Router) Attach(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	r.conns[id] = c
	set, ok := r.byUser[c.UserID()]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[c.UserID()] = set
	}
	set[id] = struct{}{}
	if r.keysOf[id] == nil {
		r.keysOf[id] = make(map[string]struct{})
	}
}

// Detach unsubscribes a connection from every key and forgets it
func (r *Router) Detach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeAllLocked(connID)
	delete(r.keysOf, connID)
	if c, ok := r.conns[connID]; ok {
		if set := r.byUser[c.UserID()]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byUser, c.UserID())
			}
		}
		delete(r.conns, connID)
	}
}

// Subscribe adds key to an attached connection
func (r *Router) Subscribe(connID, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeLocked(connID, key)
}

func (r *Router) subscribeLocked(connID, key string) bool {
	keys, ok := r.keysOf[connID]
	if !ok {
		return false
	}
	keys[key] = struct{}{}
	set, ok := r.subs[key]
	if !ok {
		set = make(map[string]struct{})
		r.subs[key] = set
	}
	set[connID] = struct{}{}
	return true
}

// Unsubscribe removes key from a connection
func (r *Router) Unsubscribe(connID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(connID, key)
}

func (r *Router) unsubscribeLocked(connID, key string) {
	if keys := r.keysOf[connID]; keys != nil {
		delete(keys, key)
	}
	if set := r.subs[key]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.subs, key)
		}
	}
}

// UnsubscribeAll removes every key of a connection but keeps it attached
func (r *Router) UnsubscribeAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeAllLocked(connID)
}

func (r *Router) unsubscribeAllLocked(connID string) {
	for key := range r.keysOf[connID] {
		r.unsubscribeLocked(connID, key)
	}
}

// SubscribeUser subscribes every live connection of a user to key
func (r *Router) SubscribeUser(userID uint64, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for connID := range r.byUser[userID] {
		if r.subscribeLocked(connID, key) {
			n++
		}
	}
	return n
}

// UnsubscribeUser removes key from every live connection of a user
func (r *Router) UnsubscribeUser(userID uint64, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.byUser[userID] {
		r.unsubscribeLocked(connID, key)
	}
}

// Publish delivers ev to every connection subscribed to key except excludeConnID.
// Returns the number of connections the event was enqueued on.
func (r *Router) Publish(key string, ev domain.Event, excludeConnID string) int {
	data, err := json.Marshal(ev)
	if err != nil {
		pkglogger.GetLogger().Error().Err(err).Str("event", ev.Type).Msg("event marshal failed")
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for connID := range r.subs[key] {
		if connID == excludeConnID {
			continue
		}
		if r.deliverLocked(connID, ev.Type, data) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers ev to one connection
func (r *Router) SendTo(connID string, ev domain.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		pkglogger.GetLogger().Error().Err(err).Str("event", ev.Type).Msg("event marshal failed")
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deliverLocked(connID, ev.Type, data)
}

func (r *Router) deliverLocked(connID, eventType string, data []byte) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	if !c.Enqueue(data) {
		metrics.Drops.WithLabelValues(eventType).Inc()
		pkglogger.GetLogger().Warn().
			Str("conn_id", connID).
			Uint64("user_id", c.UserID()).
			Str("event", eventType).
			Msg("slow consumer, event dropped")
		return false
	}
	metrics.Deliveries.WithLabelValues(eventType).Inc()
	return true
}

// Subscribers returns the connection ids subscribed to key
func (r *Router) Subscribers(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subs[key]))
	for id := range r.subs[key] {
		ids = append(ids, id)
	}
	return ids
}

// IsSubscribed reports whether connID receives events for key
func (r *Router) IsSubscribed(connID, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[key][connID]
	return ok
}

// CloseAll closes every attached connection that supports it (shutdown)
func (r *Router) CloseAll() {
	r.mu.RLock()
	closers := make([]interface{ Close() }, 0, len(r.conns))
	for _, c := range r.conns {
		if cl, ok := c.(interface{ Close() }); ok {
			closers = append(closers, cl)
		}
	}
	r.mu.RUnlock()

	for _, cl := range closers {
		cl.Close()
	}
}
