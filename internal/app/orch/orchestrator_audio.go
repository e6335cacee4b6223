package orch

import (
	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/dkeye/duplex-relay/internal/domain"
	"github.com/dkeye/duplex-relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay forwards one audio chunk that src, identified as sender, sent to
// the declared recipient. Delivery is at most once: nothing is buffered or
// retried, and only src learns about a missing recipient.
func (o *Orchestrator) Relay(src *core.Connection, sender domain.Role, p protocol.AudioPayload) {
	logger := log.With().Str("module", "orch.audio").Str("from", string(sender)).Str("to", string(p.To)).Logger()

	if p.Empty() {
		logger.Warn().Msg("empty audio payload dropped")
		o.Stats.AudioDropped.Add(1)
		return
	}
	if !o.Roles.Has(p.To) {
		logger.Warn().Msg("unknown recipient, audio dropped")
		o.Stats.AudioDropped.Add(1)
		return
	}
	if p.From != sender {
		logger.Warn().Str("declared", string(p.From)).Msg("sender mismatch, audio dropped")
		o.Stats.AudioDropped.Add(1)
		return
	}

	now := o.now()
	fail := func(reason string) {
		o.Stats.AudioFailed.Add(1)
		o.send(src, protocol.NewDeliveryFailed(p.To, reason, now))
	}

	dst, ok := o.Registry.Active(p.To)
	if !ok || !dst.Signal().IsOpen() {
		logger.Debug().Msg("recipient not connected")
		fail(protocol.ReasonRecipientNotConnected)
		return
	}

	frame, err := protocol.Encode(protocol.NewAudioEnvelope(p, now))
	if err != nil {
		logger.Error().Err(err).Msg("encode audio envelope")
		return
	}
	if err := dst.Signal().TrySend(frame); err != nil {
		logger.Warn().Err(err).Msg("audio send failed")
		fail(protocol.ReasonRecipientSendFailed)
		return
	}
	o.Stats.AudioRelayed.Add(1)
}
