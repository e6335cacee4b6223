package orch

import (
	"github.com/dkeye/duplex-relay/internal/app"
	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/dkeye/duplex-relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// BroadcastPresence sends both roles' status to every registered
// connection. The snapshot and the fan-out happen in one registry critical
// section, so the last frame a peer receives reflects the latest state.
// A failed recipient is logged and skipped.
func (o *Orchestrator) BroadcastPresence() {
	now := o.now()
	snap, sent, err := o.Registry.Publish(func(s app.Snapshot) (core.Frame, error) {
		return protocol.Encode(protocol.NewUserStatus(s.Users, s.Sessions, now))
	})
	if err != nil {
		log.Error().Err(err).Str("module", "orch.presence").Msg("encode user status")
		return
	}
	o.Stats.PresenceBroadcasts.Add(1)
	log.Debug().Str("module", "orch.presence").Int("sent_to", sent).Int("sessions", snap.Sessions).Msg("presence broadcast")
}
