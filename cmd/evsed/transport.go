package main

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pazzk-labs/evse-go/pkg/csms"
)

// websocketDialer implements csms.Dialer over gorilla/websocket, the
// same library the ruslan-hut OCPP emulator in the example pack depends
// on for its CSMS-side connections.
type websocketDialer struct{}

func (websocketDialer) Dial(ctx context.Context, url string) (csms.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Subprotocols: []string{"ocpp1.6"}}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteMessage(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Ping(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
