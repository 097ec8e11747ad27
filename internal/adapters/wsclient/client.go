// Package wsclient implements core.Transport over a gorilla websocket
// connection to the signaling relay.
package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 54 * time.Second
)

type Client struct {
	conn *websocket.Conn
	recv chan core.Message

	writeMu sync.Mutex
	once    sync.Once
	cancel  context.CancelFunc
}

// Dial connects to the relay. token is the session join JWT; the relay
// validates it during the upgrade.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		conn:   conn,
		recv:   make(chan core.Message, 32),
		cancel: cancel,
	}
	go c.readPump(ctx)
	go c.pingLoop(ctx)
	return c, nil
}

func (c *Client) Send(m core.Message) error {
	b, err := core.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s frame: %w", m.Kind, err)
	}
	return nil
}

// Receive's channel closes when the relay connection is gone; the
// session loop treats that as a full disconnect.
func (c *Client) Receive() <-chan core.Message { return c.recv }

func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		close(c.recv)
		_ = c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("read error, closing")
			return
		}
		m, err := core.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad frame, dropping")
			continue
		}
		select {
		case c.recv <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("module", "wsclient").Msg("ping failed")
				return
			}
		}
	}
}
