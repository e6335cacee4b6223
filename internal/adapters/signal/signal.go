package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/duplex-relay/internal/app/orch"
	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	Opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		Opts: opts.withDefaults(),
	}
}

// WsSignalConn is the transport handle of one peer. Sends are queued and
// never block; a full queue reports ErrBackpressure.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	ping chan struct{}

	mu     sync.RWMutex
	closed bool
	reason core.CloseReason
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
		ping: make(chan struct{}, 1),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close lets the write pump flush queued frames, then send a close frame
// carrying reason.
func (c *WsSignalConn) Close(reason core.CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	close(c.send)
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *WsSignalConn) closeReason() core.CloseReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side closes or ctx is cancelled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")

	// Cookies set by the middleware ride on the upgrade response.
	header := http.Header{}
	for _, v := range c.Writer.Header().Values("Set-Cookie") {
		header.Add("Set-Cookie", v)
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("client", client).Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts.SendBuffer)
	rec := ctl.Orch.Connect(conn)
	log.Info().Str("module", "signal").Str("conn", string(rec.ID())).Str("client", client).Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(rec, conn)
}
