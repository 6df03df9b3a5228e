package client

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luma/nt4/registry"
	"github.com/luma/nt4/storage"
	"github.com/luma/nt4/transport"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultQueueCapacity  = 1024
	DefaultDrainTimeout   = 2 * time.Second
	DefaultEventBuffer    = 128
	DefaultMinBackoff     = 250 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
)

type ReconnectOptions struct {
	Enabled bool

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// MaxElapsed stops reconnecting after this long, zero retries forever
	MaxElapsed time.Duration
}

type Options struct {
	// Address of the server, a host, host:port or ws:// URL
	Address string

	// ClientName identifies us to the server, defaults to a random name
	ClientName string

	ConnectTimeout time.Duration
	Reconnect      ReconnectOptions

	// QueueCapacity bounds the frames waiting for the write loop
	QueueCapacity int

	// BlockOnFull makes callers wait for queue space instead of failing with
	// protocol.ErrQueueFull
	BlockOnFull bool

	// DrainTimeout bounds how long queued frames are still written once the
	// connection is closing
	DrainTimeout time.Duration

	UnsubscribeGrace time.Duration
	PendingLimit     int

	// DeferUnannounced holds values for a topic the server unannounced until
	// it is announced again, instead of dropping them
	DeferUnannounced bool

	// TimeSyncInterval is how often the server clock is sampled, zero disables
	// time synchronisation
	TimeSyncInterval time.Duration

	Dialer     transport.Dialer
	Store      storage.Store
	Registerer prometheus.Registerer

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ClientName == "" {
		o.ClientName = "nt4-" + uuid.NewString()[:8]
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.Reconnect.MinBackoff <= 0 {
		o.Reconnect.MinBackoff = DefaultMinBackoff
	}

	if o.Reconnect.MaxBackoff < o.Reconnect.MinBackoff {
		o.Reconnect.MaxBackoff = DefaultMaxBackoff
	}

	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}

	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}

	if o.UnsubscribeGrace <= 0 {
		o.UnsubscribeGrace = registry.DefaultUnsubscribeGrace
	}

	if o.PendingLimit <= 0 {
		o.PendingLimit = registry.DefaultPendingLimit
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	if o.Dialer == nil {
		o.Dialer = transport.NewWebSocketDialer(transport.Options{
			HandshakeTimeout: o.ConnectTimeout,
			Log:              o.Log.Named("transport"),
		})
	}

	if o.Registerer == nil {
		o.Registerer = prometheus.NewRegistry()
	}

	return o
}
