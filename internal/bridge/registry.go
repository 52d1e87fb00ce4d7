// Package bridge connects a browser-side widget mount to a server-side panel
// over a websocket.
package bridge

import (
	"context"
	"log/slog"
	"sync"
)

// Peer is one connected browser mount.
type Peer interface {
	Send(ctx context.Context, v any) error
	Close(reason string) error
}

// Registry tracks the live mounts of every user.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]Peer),
	}
}

// Register adds a peer. A previous peer with the same id is closed once the
// registry lock is released.
func (m *Registry) Register(userID, connID string, p Peer) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Peer)
	}
	replaced := m.active[userID][connID]
	m.active[userID][connID] = p
	m.mu.Unlock()

	if replaced != nil && replaced != p {
		if err := replaced.Close("connection replaced"); err != nil {
			slog.Debug("Failed to close replaced panel", "user_id", userID, "conn_id", connID, "error", err)
		}
	}
	slog.Info("Panel connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes p if it is still the registered peer for connID.
func (m *Registry) Unregister(userID, connID string, p Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == p {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Panel connection unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// Broadcast sends v to every mount of userID and returns how many accepted it.
func (m *Registry) Broadcast(ctx context.Context, userID string, v any) int {
	m.mu.RLock()
	peers := make([]Peer, 0, len(m.active[userID]))
	for _, p := range m.active[userID] {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	sent := 0
	for _, p := range peers {
		if err := p.Send(ctx, v); err != nil {
			slog.Debug("Broadcast to panel failed", "user_id", userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of live mounts.
func (m *Registry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}
