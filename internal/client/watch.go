package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// helloChannel carries the server's greeting frame.
	helloChannel = "ws"
)

// Frame is one event forwarded by the server's websocket hub.
type Frame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Watch connects to the event stream, subscribes to channels and calls fn
// for every frame until ctx is cancelled or the connection drops. The hub's
// greeting frame is skipped. Channels ending in "*" match by prefix, e.g.
// "ch:market:*".
func (c *Client) Watch(ctx context.Context, channels []string, fn func(Frame)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	if len(channels) > 0 {
		sub := map[string]any{"action": "subscribe", "channels": channels}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("client: subscribe: %w", err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("client: read frame: %w", err)
		}
		if f.Channel == helloChannel {
			continue
		}
		fn(f)
	}
}
