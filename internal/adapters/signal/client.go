package signal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Client is the participant end of the signaling channel. It satisfies
// core.SignalingPort.
type Client struct {
	conn *WsSignalConn
	log  zerolog.Logger
}

// Dial opens a signaling connection to url. header may carry the identity
// cookie of a previous session.
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger := log.With().Str("module", "signal.client").Logger()
	logger.Info().Str("url", url).Msg("connected")
	return &Client{conn: NewWsSignalConn(ws, opts, logger), log: logger}, nil
}

func (c *Client) Send(msg core.Message) error {
	frame, err := core.Encode(msg)
	if err != nil {
		return err
	}
	return c.conn.TrySend(frame)
}

func (c *Client) Join(room domain.RoomName, name string) error {
	return c.Send(core.Message{Type: core.MsgJoin, Room: room, Name: name})
}

// Run pumps the connection until it closes or ctx ends, handing every
// decoded message to onMessage in arrival order.
func (c *Client) Run(ctx context.Context, onMessage func(core.Message)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { c.conn.writePump(ctx) })
	err := c.conn.readPump(ctx, func(data []byte) {
		msg, err := core.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			return
		}
		onMessage(msg)
	})
	cancel()
	wg.Wait()
	return err
}

func (c *Client) Close() { c.conn.Close() }
