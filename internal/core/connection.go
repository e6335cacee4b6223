package core

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/duplex-relay/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrAlreadyIdentified = errors.New("connection already identified")
	ErrConnectionClosed  = errors.New("connection closed")
)

type ConnectionID string

type ConnState int

const (
	StateUnidentified ConnState = iota
	StateIdentified
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is the per-connection record. Identity is set at most once.
// Only the registry entry that references it may close its signal.
type Connection struct {
	id     ConnectionID
	signal SignalConnection

	mu           sync.RWMutex
	role         domain.Role
	state        ConnState
	lastActivity time.Time
}

func NewConnection(signal SignalConnection) *Connection {
	return &Connection{
		id:     ConnectionID("conn_" + uuid.NewString()),
		signal: signal,
	}
}

func (c *Connection) ID() ConnectionID         { return c.id }
func (c *Connection) Signal() SignalConnection { return c.signal }

func (c *Connection) Role() (domain.Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role, c.role != ""
}

func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identify moves Unidentified -> Identified(role).
func (c *Connection) Identify(role domain.Role, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return ErrConnectionClosed
	case StateIdentified:
		if c.role == role {
			return nil
		}
		return ErrAlreadyIdentified
	}
	c.role = role
	c.state = StateIdentified
	c.lastActivity = now
	return nil
}

// MarkClosed reports whether this call performed the transition.
func (c *Connection) MarkClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	return true
}

func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
}

func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Connection) ClearActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Time{}
}
