package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// Options tune a websocket signaling connection.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

// WsSignalConn is a core.SignalConnection over a gorilla websocket. Frames
// are queued and written by a single pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	opts Options
	log  zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(ws *websocket.Conn, opts Options, logger zerolog.Logger) *WsSignalConn {
	opts = opts.withDefaults()
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, opts.SendBuffer),
		opts: opts,
		log:  logger,
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *WsSignalConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data, ok := <-c.send:
			if !ok {
				c.log.Debug().Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Warn().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump feeds every text frame to handle until the socket fails or ctx
// ends. It closes the connection on return.
func (c *WsSignalConn) readPump(ctx context.Context, handle func([]byte)) error {
	defer c.Close()

	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	})

	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handle(data)
	}
}
