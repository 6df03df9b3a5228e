package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketDialer connects to a server over gorilla/websocket.
type WebSocketDialer struct {
	options Options
	log     *zap.Logger
}

func NewWebSocketDialer(options Options) *WebSocketDialer {
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &WebSocketDialer{
		options: options,
		log:     log.Named("websocket"),
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, addr string, clientName string) (Conn, error) {
	target, err := ServerURL(addr, clientName)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.options.HandshakeTimeout,
		ReadBufferSize:   d.options.ReadBufferSize,
		WriteBufferSize:  d.options.WriteBufferSize,
		Subprotocols:     Subprotocols,
	}

	d.log.Debug("Dialing server", zap.String("url", target))

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed with status %d: %w", target, resp.StatusCode, err)
		}

		return nil, err
	}

	d.log.Info("Connected to server",
		zap.String("url", target),
		zap.String("subprotocol", conn.Subprotocol()))

	return &wsConn{
		conn:         conn,
		writeTimeout: d.options.WriteTimeout,
		trace:        d.options.Trace,
		log:          d.log.With(zap.String("url", target)),
		closed:       make(chan struct{}),
	}, nil
}

// ServerURL builds the websocket URL for a server address. The address may
// be a bare host, a host:port pair or a ws:// or wss:// URL.
func ServerURL(addr string, clientName string) (string, error) {
	if addr == "" {
		return "", errors.New("transport: empty server address")
	}

	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		u, err := url.Parse(addr)
		if err != nil {
			return "", fmt.Errorf("transport: invalid server url %q: %w", addr, err)
		}

		if u.Path == "" || u.Path == "/" {
			u.Path = "/nt/" + clientName
		}

		return u.String(), nil
	}

	host := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		host = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}

	u := url.URL{
		Scheme: "ws",
		Host:   host,
		Path:   "/nt/" + clientName,
	}

	return u.String(), nil
}

type wsConn struct {
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}

	trace bool
	log   *zap.Logger
}

func (c *wsConn) Send(ctx context.Context, frame Frame) error {
	var messageType int

	switch frame.Kind {
	case FrameText:
		messageType = websocket.TextMessage
	case FrameBinary:
		messageType = websocket.BinaryMessage
	default:
		return fmt.Errorf("transport: cannot send a %s frame", frame.Kind)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	if c.trace {
		c.log.Debug("Send", zap.Stringer("kind", frame.Kind), zap.Binary("data", frame.Data))
	}

	return c.conn.WriteMessage(messageType, frame.Data)
}

func (c *wsConn) Receive() (Frame, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return Frame{}, ErrClosed
		default:
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("Server closed the connection",
				zap.Int("code", closeErr.Code),
				zap.String("reason", closeErr.Text))

			return Frame{Kind: FrameClose}, nil
		}

		return Frame{}, err
	}

	frame := Frame{Data: data}

	switch messageType {
	case websocket.TextMessage:
		frame.Kind = FrameText
	case websocket.BinaryMessage:
		frame.Kind = FrameBinary
	default:
		return Frame{}, fmt.Errorf("transport: unexpected websocket message type %d", messageType)
	}

	if c.trace {
		c.log.Debug("Receive", zap.Stringer("kind", frame.Kind), zap.Binary("data", frame.Data))
	}

	return frame, nil
}

func (c *wsConn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil {
			c.log.Debug("Failed to send close message", zap.Error(werr))
		}
		c.writeMu.Unlock()

		err = c.conn.Close()
	})

	return err
}

var _ Dialer = (*WebSocketDialer)(nil)
var _ Conn = (*wsConn)(nil)
