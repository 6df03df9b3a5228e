package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPort             = 5810
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// Subprotocols are offered during the handshake, newest first.
var Subprotocols = []string{
	"v4.1.networktables.first.wpi.edu",
	"networktables.first.wpi.edu",
}

type Options struct {
	// HandshakeTimeout bounds the websocket handshake when the dial context
	// has no earlier deadline.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single Send when its context has no deadline.
	WriteTimeout time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	// Trace will log every frame. This is only useful in local debugging
	Trace bool

	Log *zap.Logger
}
