package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/dkeye/duplex-relay/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownRole = errors.New("unknown role")

// Registry maps each role to at most one live connection.
// Every mutation runs under mu, so a role is connected exactly when it has
// a registered connection once any method returns.
type Registry struct {
	roles domain.Roles

	mu       sync.Mutex
	active   map[domain.Role]*core.Connection
	status   map[domain.Role]domain.Status
	sessions int
}

func NewRegistry(roles domain.Roles) *Registry {
	r := &Registry{
		roles:  roles,
		active: make(map[domain.Role]*core.Connection, 2),
		status: make(map[domain.Role]domain.Status, 2),
	}
	for _, role := range roles.All() {
		r.status[role] = domain.StatusDisconnected
	}
	return r
}

func (r *Registry) Roles() domain.Roles { return r.roles }

// RegisterResult describes what Register changed.
type RegisterResult struct {
	// Changed is false when c already held role.
	Changed bool
	// Superseded is the connection displaced by the takeover, if any.
	Superseded *core.Connection
}

// Register binds c to role. A different connection holding role is sent
// notice and closed before c is installed, all under the registry lock.
func (r *Registry) Register(c *core.Connection, role domain.Role, notice core.Frame, now time.Time) (RegisterResult, error) {
	if !r.roles.Has(role) {
		return RegisterResult{}, ErrUnknownRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.active[role]
	if prev == c {
		return RegisterResult{}, nil
	}
	if err := c.Identify(role, now); err != nil {
		return RegisterResult{}, err
	}

	res := RegisterResult{Changed: true}
	if prev != nil {
		prev.MarkClosed()
		if notice != nil {
			if err := prev.Signal().TrySend(notice); err != nil {
				log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(prev.ID())).Msg("supersede notice not delivered")
			}
		}
		prev.Signal().Close(core.CloseSuperseded)
		res.Superseded = prev
		log.Info().Str("module", "app.registry").Str("role", string(role)).Str("old", string(prev.ID())).Str("new", string(c.ID())).Msg("identity takeover")
	}

	r.active[role] = c
	r.status[role] = domain.StatusConnected
	r.recount()
	log.Info().Str("module", "app.registry").Str("role", string(role)).Str("conn", string(c.ID())).Int("sessions", r.sessions).Msg("registered")
	return res, nil
}

// Release handles the close of c. It reports true only when c was the
// registered holder of its role; a superseded connection releases nothing.
func (r *Registry) Release(c *core.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.MarkClosed()
	role, ok := c.Role()
	if !ok || r.active[role] != c {
		return false
	}
	r.clear(role)
	log.Info().Str("module", "app.registry").Str("role", string(role)).Str("conn", string(c.ID())).Int("sessions", r.sessions).Msg("released")
	return true
}

// Touch records activity for role if it is registered.
func (r *Registry) Touch(role domain.Role, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[role]
	if !ok {
		return false
	}
	c.Touch(now)
	return true
}

// Active returns the connection registered for role.
func (r *Registry) Active(role domain.Role) (*core.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[role]
	return c, ok
}

// EvictIdle removes every connected role whose last activity is older than
// timeout and closes its transport with the heartbeat-timeout reason.
func (r *Registry) EvictIdle(now time.Time, timeout time.Duration) []*core.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*core.Connection
	for _, role := range r.roles.All() {
		if r.status[role] != domain.StatusConnected {
			continue
		}
		c, ok := r.active[role]
		if !ok {
			continue
		}
		idle := now.Sub(c.LastActivity())
		if idle <= timeout {
			continue
		}
		r.clear(role)
		c.ClearActivity()
		c.MarkClosed()
		c.Signal().Close(core.CloseHeartbeatTimeout)
		evicted = append(evicted, c)
		log.Warn().Str("module", "app.registry").Str("role", string(role)).Str("conn", string(c.ID())).Dur("idle", idle).Msg("heartbeat timeout, evicted")
	}
	return evicted
}

// Sweep drops entries whose transport is no longer open but whose close
// was never reported. It returns the number of entries removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, role := range r.roles.All() {
		c, ok := r.active[role]
		if !ok {
			if r.status[role] != domain.StatusDisconnected {
				r.status[role] = domain.StatusDisconnected
				removed++
			}
			continue
		}
		if c.Signal().IsOpen() && c.State() != core.StateClosed {
			continue
		}
		c.MarkClosed()
		r.clear(role)
		removed++
		log.Warn().Str("module", "app.registry").Str("role", string(role)).Str("conn", string(c.ID())).Msg("stale entry swept")
	}
	return removed
}

// Drain sends notice to every registered connection, closes them and
// empties the registry.
func (r *Registry) Drain(notice core.Frame, reason core.CloseReason) []*core.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var drained []*core.Connection
	for _, role := range r.roles.All() {
		c, ok := r.active[role]
		if !ok {
			continue
		}
		c.MarkClosed()
		if notice != nil {
			if err := c.Signal().TrySend(notice); err != nil {
				log.Debug().Err(err).Str("module", "app.registry").Str("conn", string(c.ID())).Msg("drain notice not delivered")
			}
		}
		c.Signal().Close(reason)
		r.clear(role)
		drained = append(drained, c)
	}
	log.Info().Str("module", "app.registry").Int("drained", len(drained)).Msg("registry drained")
	return drained
}

// Snapshot is a read-only view for status replies and HTTP.
type Snapshot struct {
	Users        map[domain.Role]domain.Status `json:"users"`
	Sessions     int                           `json:"sessions"`
	LastActivity map[domain.Role]time.Time     `json:"last_activity,omitempty"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Publish renders the current snapshot with build and queues the frame to
// every registered connection without releasing the lock, so presence
// frames reach each peer in registry order. Sends never block. It returns
// the snapshot used and how many connections accepted the frame.
func (r *Registry) Publish(build func(Snapshot) (core.Frame, error)) (Snapshot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snapshot()
	frame, err := build(snap)
	if err != nil {
		return snap, 0, err
	}
	sent := 0
	for _, role := range r.roles.All() {
		c, ok := r.active[role]
		if !ok {
			continue
		}
		if err := c.Signal().TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(c.ID())).Msg("publish send failed")
			continue
		}
		sent++
	}
	return snap, sent, nil
}

func (r *Registry) snapshot() Snapshot {
	snap := Snapshot{
		Users:        make(map[domain.Role]domain.Status, 2),
		Sessions:     r.sessions,
		LastActivity: make(map[domain.Role]time.Time, 2),
	}
	for _, role := range r.roles.All() {
		snap.Users[role] = r.status[role]
		if c, ok := r.active[role]; ok {
			snap.LastActivity[role] = c.LastActivity()
		}
	}
	return snap
}

func (r *Registry) clear(role domain.Role) {
	delete(r.active, role)
	r.status[role] = domain.StatusDisconnected
	r.recount()
}

func (r *Registry) recount() {
	r.sessions = len(r.active)
}
