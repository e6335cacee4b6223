package signal

import (
	"context"
	"time"

	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer func() { _ = c.conn.Close() }()

	done := ctx.Done()
	for {
		select {
		case <-done:
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			// drain what is queued, then the closed channel ends the loop
			c.Close(core.CloseShutdown)
			done = nil
		case data, ok := <-c.send:
			if !ok {
				ctl.writeClose(c)
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close(core.CloseNormal)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close(core.CloseNormal)
				return
			}
		case <-c.ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				c.Close(core.CloseNormal)
				return
			}
		}
	}
}

func (ctl *SignalWSController) writeClose(c *WsSignalConn) {
	reason := c.closeReason()
	msg := websocket.FormatCloseMessage(reason.Code, reason.Text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Int("code", reason.Code).Msg("writePump close frame")
	}
}

func (ctl *SignalWSController) readPump(rec *core.Connection, c *WsSignalConn) {
	var cause error
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(rec.ID())).Msg("readPump closing")
		c.Close(core.CloseNormal)
		ctl.Orch.Disconnect(rec, cause)
	}()

	if ctl.Opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	}
	extend := func() {
		if ctl.Opts.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
		}
	}
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			expected := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
			if c.IsOpen() && !expected {
				cause = err
			}
			log.Debug().Err(err).Str("module", "signal").Str("conn", string(rec.ID())).Msg("readPump read end")
			return
		}
		extend()
		ctl.Orch.OnMessage(rec, data)
	}
}
