package maestro

import (
	"fmt"
	"sync"

	"maestro/dispatch"
)

// Manager keeps one Client per paired device address. There is no
// connection pooling: exactly one RFCOMM channel exists per paired earbud
// case, so there is nothing to pool.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates an empty device manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*Client)}
}

// Open binds a Client for addr over transport and registers it. Opening an
// address that is already open replaces the previous Client; the old
// Client is closed after the new one is registered.
func (m *Manager) Open(addr string, transport dispatch.Transport, channelID uint32, opts ...dispatch.Option) *Client {
	c := Open(transport, channelID, opts...)

	m.mu.Lock()
	old, existed := m.clients[addr]
	m.clients[addr] = c
	m.mu.Unlock()

	if existed {
		old.Close()
	}
	return c
}

// Get returns the Client registered for addr, if any.
func (m *Manager) Get(addr string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	return c, ok
}

// Close tears down and unregisters the Client for addr.
func (m *Manager) Close(addr string) error {
	m.mu.Lock()
	c, ok := m.clients[addr]
	delete(m.clients, addr)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("maestro: no client open for device %q", addr)
	}
	return c.Close()
}

// CloseAll tears down every registered Client, returning the first error
// encountered (if any) after attempting all of them.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
