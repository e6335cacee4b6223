package orch

import "sync/atomic"

type Stats struct {
	ConnectionsAccepted atomic.Int64
	AudioRelayed        atomic.Int64
	AudioFailed         atomic.Int64
	AudioDropped        atomic.Int64
	PresenceBroadcasts  atomic.Int64
	Takeovers           atomic.Int64
	Evictions           atomic.Int64
}

type StatsSnapshot struct {
	ConnectionsAccepted int64 `json:"connections_accepted"`
	AudioRelayed        int64 `json:"audio_relayed"`
	AudioFailed         int64 `json:"audio_failed"`
	AudioDropped        int64 `json:"audio_dropped"`
	PresenceBroadcasts  int64 `json:"presence_broadcasts"`
	Takeovers           int64 `json:"takeovers"`
	Evictions           int64 `json:"evictions"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ConnectionsAccepted: s.ConnectionsAccepted.Load(),
		AudioRelayed:        s.AudioRelayed.Load(),
		AudioFailed:         s.AudioFailed.Load(),
		AudioDropped:        s.AudioDropped.Load(),
		PresenceBroadcasts:  s.PresenceBroadcasts.Load(),
		Takeovers:           s.Takeovers.Load(),
		Evictions:           s.Evictions.Load(),
	}
}
