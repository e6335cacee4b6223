package orch

import (
	"context"

	"github.com/dkeye/duplex-relay/internal/app"
	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/dkeye/duplex-relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Tasks returns the periodic jobs of the relay for the scheduler.
func (o *Orchestrator) Tasks() []app.Task {
	return []app.Task{
		{Name: "heartbeat-timeout", Period: o.Opts.CheckPeriod, Run: func(context.Context) { o.CheckHeartbeats() }},
		{Name: "stale-cleanup", Period: o.Opts.CleanupPeriod, Run: func(context.Context) { o.SweepStale() }},
		{Name: "keepalive", Period: o.Opts.KeepalivePeriod, Run: func(context.Context) { o.Keepalive() }},
		{Name: "status-log", Period: o.Opts.StatusLogPeriod, Run: func(context.Context) { o.LogStatus() }},
	}
}

// CheckHeartbeats evicts every role idle for longer than the timeout and
// broadcasts presence once if anything changed.
func (o *Orchestrator) CheckHeartbeats() int {
	evicted := o.Registry.EvictIdle(o.now(), o.Opts.HeartbeatTimeout)
	if len(evicted) == 0 {
		return 0
	}
	o.Stats.Evictions.Add(int64(len(evicted)))
	o.BroadcastPresence()
	return len(evicted)
}

// SweepStale is the backstop for closes the lifecycle never reported.
func (o *Orchestrator) SweepStale() int {
	n := o.Registry.Sweep()
	if n > 0 {
		log.Info().Str("module", "orch").Int("removed", n).Msg("stale cleanup")
		o.BroadcastPresence()
	}
	return n
}

// Keepalive pings every open transport so dead peers surface as read errors.
func (o *Orchestrator) Keepalive() {
	for _, c := range o.Live() {
		if err := c.Signal().Ping(); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn", string(c.ID())).Msg("keepalive ping failed")
		}
	}
}

func (o *Orchestrator) LogStatus() {
	snap := o.Registry.Snapshot()
	ev := log.Info().Str("module", "orch").Int("sessions", snap.Sessions).Int("open", len(o.Live()))
	for role, status := range snap.Users {
		ev = ev.Str(string(role), string(status))
	}
	ev.Int64("audio_relayed", o.Stats.AudioRelayed.Load()).Msg("status")
}

// Shutdown notifies and closes every registered connection, then every
// remaining open transport. Call it before the listener stops.
func (o *Orchestrator) Shutdown() {
	notice, err := protocol.Encode(protocol.NewServerShutdown(o.now()))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode shutdown notice")
	}
	drained := o.Registry.Drain(notice, core.CloseShutdown)

	others := 0
	for _, c := range o.Live() {
		if !c.Signal().IsOpen() {
			continue
		}
		c.MarkClosed()
		if notice != nil {
			if err := c.Signal().TrySend(notice); err != nil {
				log.Debug().Err(err).Str("module", "orch").Str("conn", string(c.ID())).Msg("shutdown notice not delivered")
			}
		}
		c.Signal().Close(core.CloseShutdown)
		others++
	}
	log.Info().Str("module", "orch").Int("registered", len(drained)).Int("unidentified", others).Msg("connections closed for shutdown")
}
