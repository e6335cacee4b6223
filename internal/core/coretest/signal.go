// Package coretest provides an in-memory SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/duplex-relay/internal/core"
)

var ErrClosed = errors.New("coretest: signal closed")

// Signal records every frame and close request.
type Signal struct {
	mu     sync.Mutex
	frames []core.Frame
	pings  int
	closed bool
	reason core.CloseReason
	// FailSends makes TrySend return an error without recording.
	FailSends bool
}

func NewSignal() *Signal { return &Signal{} }

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.FailSends {
		return errors.New("coretest: send failed")
	}
	s.frames = append(s.frames, append(core.Frame(nil), f...))
	return nil
}

func (s *Signal) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pings++
	return nil
}

func (s *Signal) Close(reason core.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
}

func (s *Signal) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Drop simulates the transport going away without a Close call.
func (s *Signal) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Signal) Reason() core.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Signal) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Messages decodes every recorded frame as a JSON object.
func (s *Signal) Messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			m = map[string]any{"raw": string(f)}
		}
		out = append(out, m)
	}
	return out
}

// OfType returns recorded messages whose "type" equals typ.
func (s *Signal) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range s.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets recorded frames.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}
