// Package client is a NetworkTables 4 client.
//
// A Client keeps one connection to a server. Publishing, subscribing and
// property changes are queued for a single write loop; a read loop applies
// what the server sends to the registry and hands values to subscribers.
// When the connection drops the client can reconnect on its own, announcing
// its topics and persistent subscriptions again.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/registry"
	"github.com/luma/nt4/storage"
)

var ErrAlreadyConnected = errors.New("client: already connected")

type Client struct {
	options  Options
	registry *registry.Registry
	store    storage.Store
	metrics  *metrics
	log      *zap.Logger

	// ownsStore is true when the store was created by New
	ownsStore bool

	// ctx is cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	state       State
	session     *session
	subscribers map[int32]*Subscriber
	closed      bool

	// publishMu orders values published around an announcement
	publishMu sync.Mutex

	supervisors sync.WaitGroup
}

func New(options Options) *Client {
	options = options.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		options: options,
		registry: registry.New(registry.Options{
			UnsubscribeGrace: options.UnsubscribeGrace,
			PendingLimit:     options.PendingLimit,
		}),
		store:       options.Store,
		metrics:     newMetrics(options.Registerer, options.ClientName),
		log:         options.Log.With(zap.String("client", options.ClientName)),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[int32]*Subscriber),
	}

	if c.store == nil {
		c.store = storage.NewInmemoryStore()
		c.ownsStore = true
	}

	return c
}

func (c *Client) Name() string {
	return c.options.ClientName
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Connect dials the server and starts the read and write loops. It fails with
// protocol.ErrConnectTimeout when the handshake does not finish within
// Options.ConnectTimeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.ChannelClosed("client is closed")
	}

	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	c.state = StateConnecting
	c.mu.Unlock()

	log := c.log.With(zap.String("address", c.options.Address))
	log.Info("Connecting")

	dialCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	conn, err := c.options.Dialer.Dial(dialCtx, c.options.Address, c.options.ClientName)
	if err != nil {
		c.setState(StateDisconnected)

		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return protocol.ConnectTimeout(err)
		}

		return protocol.Transport(err)
	}

	s := newSession(c, conn)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return multierr.Append(protocol.ChannelClosed("client is closed"), conn.Close())
	}

	c.session = s
	c.mu.Unlock()

	s.start()

	c.supervisors.Add(1)
	go c.supervise(s)

	if err := c.restore(s); err != nil {
		log.Warn("Failed to restore topics and subscriptions", zap.Error(err))
		s.stop()

		return err
	}

	c.mu.Lock()
	if c.session != s || c.state != StateConnecting {
		c.mu.Unlock()
		return protocol.ChannelClosed("connection ended while connecting")
	}

	c.state = StateConnected
	c.metrics.connected.Set(1)
	c.mu.Unlock()

	log.Info("Connected")

	return nil
}

// restore sends the topics we publish and the subscriptions that survived a
// previous connection.
func (c *Client) restore(s *session) error {
	for _, topic := range c.registry.LocalTopics() {
		err := s.enqueueWait(c.ctx, controlFrame(&protocol.Publish{
			Name:       topic.Name,
			PubUID:     topic.PubUID,
			Type:       topic.Type,
			Properties: topic.Properties,
		}))
		if err != nil {
			return err
		}
	}

	for _, sub := range c.registry.Subscriptions() {
		err := s.enqueueWait(c.ctx, controlFrame(&protocol.Subscribe{
			SubUID:  sub.ID,
			Topics:  sub.Patterns,
			Options: sub.Options,
		}))
		if err != nil {
			return err
		}
	}

	return nil
}

// supervise waits for a session to end, cleans up after it and reconnects
// when configured to.
func (c *Client) supervise(s *session) {
	defer c.supervisors.Done()

	<-s.done

	log := c.log.Named("supervisor")

	if s.err != nil {
		log.Warn("Connection lost", zap.Error(s.err))
	}

	c.teardown(s)

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	if closed || !c.options.Reconnect.Enabled {
		return
	}

	c.reconnect(log)
}

func (c *Client) teardown(s *session) {
	c.mu.Lock()

	if c.session == s {
		c.session = nil
	}

	c.state = StateDisconnected
	c.metrics.connected.Set(0)

	result := c.registry.Reset()

	for _, id := range result.Dropped {
		if sub, ok := c.subscribers[id]; ok {
			sub.close()
			delete(c.subscribers, id)
		}
	}

	c.mu.Unlock()

	for _, name := range result.Removed {
		if err := c.store.Delete(context.Background(), name); err != nil && !errors.Is(err, storage.ErrClosed) {
			c.log.Debug("Failed to forget latest value", zap.String("name", name), zap.Error(err))
		}
	}
}

func (c *Client) reconnect(log *zap.Logger) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.options.Reconnect.MinBackoff
	policy.MaxInterval = c.options.Reconnect.MaxBackoff
	policy.MaxElapsedTime = c.options.Reconnect.MaxElapsed

	attempt := func() error {
		c.metrics.reconnects.Inc()

		err := c.Connect(c.ctx)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyConnected):
			return nil

		case errors.Is(err, protocol.ErrChannelClosed):
			// the client was closed, or the new session died and its own
			// supervisor is reconnecting
			return nil
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Info("Reconnect failed", zap.Error(err), zap.Duration("retryIn", wait))
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(policy, c.ctx), notify); err != nil {
		log.Warn("Giving up reconnecting", zap.Error(err))
	}
}

// Close stops the connection, writing out what is still queued, and ends
// every subscription. The client cannot be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	s := c.session
	if s != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	c.cancel()

	var err error

	if s != nil {
		s.stop()
		<-s.done

		if s.err != nil && !errors.Is(s.err, protocol.ErrChannelClosed) {
			err = s.err
		}
	}

	c.supervisors.Wait()

	c.mu.Lock()
	for id, sub := range c.subscribers {
		sub.close()
		delete(c.subscribers, id)
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if c.ownsStore {
		err = multierr.Append(err, c.store.Close())
	}

	c.log.Info("Closed")

	return err
}

// closing marks the client as Closing while s drains.
func (c *Client) closing(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == s && c.state == StateConnected {
		c.state = StateClosing
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
}

// connected returns the active session. Operations are only valid while
// connected, anything else fails with protocol.ErrChannelClosed.
func (c *Client) connected() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateConnected || c.session == nil {
		return nil, protocol.ChannelClosed("not connected")
	}

	return c.session, nil
}

// dispatch hands an event to every subscriber whose patterns match.
func (c *Client) dispatch(event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.registry.Matching(event.Topic.Name) {
		if sub, ok := c.subscribers[id]; ok {
			sub.deliver(event)
		}
	}
}
