package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Registry tracks live connections and the room delivery groups they are
// attached to. It holds no business state: who belongs to which room is the
// coordinator's decision, mirrored here through attach/detach intents so
// multicasts reach exactly the participants the coordinator admitted.
type Registry struct {
	logger *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn               // participantID -> connection
	groups map[string]map[string]struct{} // roomID -> participant ids
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		conns:  make(map[string]*Conn),
		groups: make(map[string]map[string]struct{}),
	}
}

// Register adds a connection under its participant id. A second connection
// reusing an id replaces the first; the old socket is closed asynchronously
// to keep registration from blocking on a dead peer.
func (r *Registry) Register(conn *Conn) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[conn.ID()]; ok && existing != conn {
		go func() { _ = existing.Close() }()
	}
	r.conns[conn.ID()] = conn
	return nil
}

// Unregister removes the connection and its group memberships. Idempotent,
// and a stale connection cannot evict a newer one registered under the same
// id.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.conns[conn.ID()]
	if !ok || registered != conn {
		return
	}
	delete(r.conns, conn.ID())
	for roomID := range r.groups {
		r.detachLocked(roomID, conn.ID())
	}
}

// Get returns the live connection for a participant.
func (r *Registry) Get(participantID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[participantID]
	return conn, ok
}

// Attach adds a participant to a room's delivery group.
func (r *Registry) Attach(roomID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[roomID] == nil {
		r.groups[roomID] = make(map[string]struct{})
	}
	r.groups[roomID][participantID] = struct{}{}
}

// Detach removes a participant from a room's delivery group.
func (r *Registry) Detach(roomID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(roomID, participantID)
}

// DetachAll empties a room's delivery group after a reset.
func (r *Registry) DetachAll(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, roomID)
}

func (r *Registry) detachLocked(roomID, participantID string) {
	group, ok := r.groups[roomID]
	if !ok {
		return
	}
	delete(group, participantID)
	if len(group) == 0 {
		delete(r.groups, roomID)
	}
}

// GroupConnections returns the live connections attached to a room.
func (r *Registry) GroupConnections(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.groups[roomID]))
	for participantID := range r.groups[roomID] {
		if conn, ok := r.conns[participantID]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// CloseAll closes every connection and empties the registry. Shutdown needs
// this because http.Server.Shutdown leaves hijacked websocket connections
// alone; without an explicit close the peers would sit on dead sockets.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.groups = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	if len(conns) > 0 {
		r.logger.Info("closed remaining connections", zap.Int("count", len(conns)))
	}
}

// Stats reports connection and group counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections": len(r.conns),
		"rooms":       len(r.groups),
	}
}
