package orch

import (
	"sync"
	"time"

	"github.com/dkeye/duplex-relay/internal/app"
	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/dkeye/duplex-relay/internal/domain"
	"github.com/dkeye/duplex-relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ServerName string
	// HeartbeatTimeout is the idle window after which a role is evicted.
	HeartbeatTimeout time.Duration
	CheckPeriod      time.Duration
	CleanupPeriod    time.Duration
	KeepalivePeriod  time.Duration
	StatusLogPeriod  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Orchestrator struct {
	Registry *app.Registry
	Decoder  *protocol.Decoder
	Roles    domain.Roles
	Opts     Options
	Stats    Stats

	mu   sync.Mutex
	live map[core.ConnectionID]*core.Connection
}

func New(reg *app.Registry, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		Registry: reg,
		Decoder:  protocol.NewDecoder(reg.Roles()),
		Roles:    reg.Roles(),
		Opts:     opts,
		live:     make(map[core.ConnectionID]*core.Connection),
	}
}

func (o *Orchestrator) now() time.Time { return o.Opts.Now() }

// Connect creates the record for a freshly accepted transport and greets it.
func (o *Orchestrator) Connect(sig core.SignalConnection) *core.Connection {
	c := core.NewConnection(sig)
	o.mu.Lock()
	o.live[c.ID()] = c
	o.mu.Unlock()
	o.Stats.ConnectionsAccepted.Add(1)

	log.Info().Str("module", "orch").Str("conn", string(c.ID())).Msg("connection accepted")
	o.send(c, protocol.NewWelcome(o.Opts.ServerName, o.Roles, c.ID(), o.now()))
	return c
}

// Disconnect handles transport close or error. Only the registered holder
// of a role triggers a presence broadcast.
func (o *Orchestrator) Disconnect(c *core.Connection, cause error) {
	o.mu.Lock()
	delete(o.live, c.ID())
	o.mu.Unlock()

	role, identified := c.Role()
	ev := log.Info()
	if cause != nil {
		ev = log.Warn().Err(cause)
	}
	ev = ev.Str("module", "orch").Str("conn", string(c.ID()))
	if identified {
		ev = ev.Str("role", string(role))
	}
	ev.Msg("connection closed")

	if o.Registry.Release(c) {
		o.BroadcastPresence()
	}
}

// Live returns every open transport, identified or not.
func (o *Orchestrator) Live() []*core.Connection {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*core.Connection, 0, len(o.live))
	for _, c := range o.live {
		out = append(out, c)
	}
	return out
}

// OnMessage routes one inbound frame. The type discriminator decides first;
// identification is only tried when no known type matched. Frames still
// arriving on a superseded or evicted record are dropped.
func (o *Orchestrator) OnMessage(c *core.Connection, data []byte) {
	if c.State() == core.StateClosed {
		log.Debug().Str("module", "orch").Str("conn", string(c.ID())).Int("bytes", len(data)).Msg("frame on closed connection dropped")
		return
	}
	msg := o.Decoder.Decode(data)
	log.Debug().Str("module", "orch").Str("conn", string(c.ID())).Stringer("kind", msg.Kind).Int("bytes", len(data)).Msg("inbound")

	switch msg.Kind {
	case protocol.KindHeartbeat:
		o.onHeartbeat(c, msg)
	case protocol.KindPing:
		o.onPing(c)
	case protocol.KindStatusRequest:
		o.onStatusRequest(c)
	case protocol.KindAudio:
		o.onAudio(c, msg)
	case protocol.KindListening:
		o.onListening(c, msg)
	case protocol.KindTelemetry:
		o.onTelemetry(c, msg)
	case protocol.KindIdentify:
		o.onIdentify(c, msg.Claim)
	default:
		o.send(c, protocol.NewDebug(msg.Raw, o.Roles, o.now()))
	}
}

// identity is the role c may act as. A closed record keeps its role for
// logging but no longer speaks for it.
func identity(c *core.Connection) (domain.Role, bool) {
	if c.State() != core.StateIdentified {
		return "", false
	}
	return c.Role()
}

func (o *Orchestrator) onHeartbeat(c *core.Connection, msg protocol.Message) {
	role := msg.From
	if role == "" {
		role, _ = identity(c)
	}
	if !o.Roles.Has(role) {
		log.Debug().Str("module", "orch").Str("conn", string(c.ID())).Str("from", string(msg.From)).Msg("heartbeat for unknown role")
		return
	}
	o.Registry.Touch(role, o.now())
}

func (o *Orchestrator) onPing(c *core.Connection) {
	now := o.now()
	if role, ok := identity(c); ok {
		o.Registry.Touch(role, now)
	}
	o.send(c, protocol.NewPong(now))
}

func (o *Orchestrator) onStatusRequest(c *core.Connection) {
	snap := o.Registry.Snapshot()
	o.send(c, protocol.NewUserStatus(snap.Users, snap.Sessions, o.now()))
}

func (o *Orchestrator) onAudio(c *core.Connection, msg protocol.Message) {
	role, ok := identity(c)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(c.ID())).Stringer("state", c.State()).Msg("audio without identification")
		o.send(c, protocol.NewError("identification required before sending audio", o.now()))
		return
	}
	o.Registry.Touch(role, o.now())
	o.Relay(c, role, msg.Audio)
}

// onListening forwards the A->B listening signal tagged with A as sender.
func (o *Orchestrator) onListening(c *core.Connection, msg protocol.Message) {
	o.touchDeclared(c, msg, o.Roles.A)
	o.forward(o.Roles.B, msg, o.Roles.A)
}

// onTelemetry forwards the B->A status signal as received.
func (o *Orchestrator) onTelemetry(c *core.Connection, msg protocol.Message) {
	o.touchDeclared(c, msg, o.Roles.B)
	o.forward(o.Roles.A, msg, "")
}

// touchDeclared counts the signal as activity of want when the sender,
// declared or bound to the connection, is want.
func (o *Orchestrator) touchDeclared(c *core.Connection, msg protocol.Message, want domain.Role) {
	sender := msg.From
	if sender == "" {
		sender, _ = identity(c)
	}
	if sender == want {
		o.Registry.Touch(want, o.now())
	}
}

func (o *Orchestrator) forward(to domain.Role, msg protocol.Message, from domain.Role) {
	dst, ok := o.Registry.Active(to)
	if !ok || !dst.Signal().IsOpen() {
		log.Debug().Str("module", "orch").Str("type", msg.Type).Str("to", string(to)).Msg("signal target not connected")
		return
	}
	frame, err := protocol.Retag(msg.Fields, from, o.now())
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", msg.Type).Msg("retag signal")
		return
	}
	if err := dst.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("type", msg.Type).Str("to", string(to)).Msg("signal forward failed")
	}
}

func (o *Orchestrator) onIdentify(c *core.Connection, role domain.Role) {
	now := o.now()
	if cur, ok := c.Role(); ok && cur != role {
		log.Warn().Str("module", "orch").Str("conn", string(c.ID())).Str("role", string(cur)).Str("claim", string(role)).Msg("identity already bound")
		o.send(c, protocol.NewError("already identified as "+string(cur), now))
		return
	}

	notice, err := protocol.Encode(protocol.NewDisconnected("new connection for the same client", now))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode supersede notice")
	}
	res, err := o.Registry.Register(c, role, notice, now)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(c.ID())).Str("claim", string(role)).Msg("identification rejected")
		o.send(c, protocol.NewError("identification rejected: "+err.Error(), now))
		return
	}
	if res.Superseded != nil {
		o.Stats.Takeovers.Add(1)
	}

	o.send(c, protocol.NewConnectionConfirmed(role, c.ID(), now))
	if res.Changed {
		log.Info().Str("module", "orch").Str("conn", string(c.ID())).Str("role", string(role)).Msg("client identified")
		o.BroadcastPresence()
	}
}

func (o *Orchestrator) send(c *core.Connection, v any) {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("send encode")
		return
	}
	if err := c.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(c.ID())).Msg("send failed")
	}
}
