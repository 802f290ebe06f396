package server

import (
	"fmt"
	"sync"

	"github.com/teris-io/shortid"
)

// Registry is the authoritative set of open connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	max   int
}

func NewRegistry(maxConnections int) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		max:   maxConnections,
	}
}

// Accept assigns a fresh id and registers the connection built for it. It
// fails with ErrCapacityExceeded, registering nothing, once the registry
// holds max connections.
func (r *Registry) Accept(build func(id string) *Connection) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.max {
		return nil, ErrCapacityExceeded
	}

	id, err := r.newId()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	c := build(id)
	r.conns[id] = c
	return c, nil
}

func (r *Registry) newId() (string, error) {
	for {
		id, err := shortid.Generate()
		if err != nil {
			return "", err
		}
		if _, taken := r.conns[id]; !taken {
			return id, nil
		}
	}
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ListByRoom returns the authenticated connections currently in roomId.
func (r *Registry) ListByRoom(roomId string) []*Connection {
	var members []*Connection
	for _, c := range r.snapshot() {
		if c.inRoom(roomId) {
			members = append(members, c)
		}
	}
	return members
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
