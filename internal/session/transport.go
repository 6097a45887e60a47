package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/rallypoint/rallypoint/internal/protocol"
)

// Transport moves whole encoded messages over a connection.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	RemoteAddr() string
	Close() error
}

// tcpTransport frames messages with a length prefix.
type tcpTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	buf    []byte
}

func NewTCPTransport(conn net.Conn) Transport {
	return &tcpTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		buf:    make([]byte, 2048),
	}
}

func (t *tcpTransport) ReadMessage() ([]byte, error) {
	frame, err := protocol.ReadFrame(t.reader, t.buf)
	if err != nil {
		return nil, err
	}
	t.buf = frame
	return frame, nil
}

func (t *tcpTransport) WriteMessage(data []byte) error {
	return protocol.WriteFrame(t.conn, data)
}

func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
func (t *tcpTransport) Close() error       { return t.conn.Close() }

// wsTransport carries one message per binary WebSocket message.
type wsTransport struct {
	conn *websocket.Conn
}

func NewWebSocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(protocol.MaxMessageSize)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if len(data) > protocol.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrMessageTooLarge, len(data))
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
func (t *wsTransport) Close() error       { return t.conn.Close() }

// Dial connects to address, which is either host:port for the TCP endpoint or
// a ws:// (wss://) URL for the WebSocket endpoint.
func Dial(ctx context.Context, address string) (Transport, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", address, err)
		}
		return NewWebSocketTransport(conn), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return NewTCPTransport(conn), nil
}
