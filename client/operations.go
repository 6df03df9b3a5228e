package client

import (
	"context"
	"errors"
	"time"

	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/registry"
)

var ErrUnknownSubscriber = errors.New("client: unknown subscriber")

// topicPollInterval is how often WaitForTopic looks at the registry.
const topicPollInterval = 10 * time.Millisecond

// Announce declares a topic this client publishes to and tells the server.
// Announcing the same name and type again returns the existing handle.
func (c *Client) Announce(ctx context.Context, name string, typ protocol.Type, properties protocol.Properties) (registry.TopicHandle, error) {
	s, err := c.connected()
	if err != nil {
		return registry.TopicHandle{}, err
	}

	handle, created, err := c.registry.RegisterLocalTopic(name, typ)
	if err != nil || !created {
		return handle, err
	}

	err = s.enqueue(ctx, controlFrame(&protocol.Publish{
		Name:       name,
		PubUID:     handle.PubUID,
		Type:       typ,
		Properties: properties,
	}))
	if err != nil {
		c.registry.UnregisterLocalTopic(name)
		return registry.TopicHandle{}, err
	}

	return handle, nil
}

// Publish sends a value, announcing the topic first when needed. Values sent
// before the server has announced the topic are held and sent once it does.
func (c *Client) Publish(ctx context.Context, name string, typ protocol.Type, value interface{}) error {
	handle, err := c.Announce(ctx, name, typ, nil)
	if err != nil {
		return err
	}

	return c.PublishTo(ctx, handle, value)
}

func (c *Client) PublishTo(ctx context.Context, handle registry.TopicHandle, value interface{}) error {
	s, err := c.connected()
	if err != nil {
		return err
	}

	topic, ok := c.registry.Get(handle.Name)
	if !ok || !topic.Local {
		return registry.ErrNotPublished
	}

	if topic.Type != handle.Type {
		return protocol.TypeMismatch(handle.Name, topic.Type, handle.Type)
	}

	payload, err := protocol.EncodeValue(handle.Type, value)
	if err != nil {
		return err
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	timestamp := s.serverTime()

	id, ok, err := c.registry.PrepareData(handle.Name, timestamp, payload)
	if err != nil {
		return err
	}

	if !ok {
		c.metrics.pendingParked.Inc()
		return nil
	}

	return s.enqueue(ctx, dataFrame(handle, id, timestamp, payload))
}

// Unpublish withdraws a topic declared with Announce or Publish.
func (c *Client) Unpublish(ctx context.Context, name string) error {
	s, err := c.connected()
	if err != nil {
		return err
	}

	pubuid, ok := c.registry.UnregisterLocalTopic(name)
	if !ok {
		return registry.ErrNotPublished
	}

	return s.enqueue(ctx, controlFrame(&protocol.Unpublish{PubUID: pubuid}))
}

// Subscribe asks the server for the topics matching patterns. Announcements,
// values and property changes of those topics are delivered on the returned
// Subscriber.
func (c *Client) Subscribe(ctx context.Context, patterns []string, options SubscribeOptions) (*Subscriber, error) {
	s, err := c.connected()
	if err != nil {
		return nil, err
	}

	handle, err := c.registry.Subscribe(patterns, options.SubscriptionOptions, options.Persist)
	if err != nil {
		return nil, err
	}

	sub := newSubscriber(handle.ID, patterns, options, c.metrics.eventsDropped)

	c.mu.Lock()
	c.subscribers[handle.ID] = sub
	c.mu.Unlock()

	err = s.enqueue(ctx, controlFrame(&protocol.Subscribe{
		SubUID:  handle.ID,
		Topics:  patterns,
		Options: options.SubscriptionOptions,
	}))
	if err != nil {
		// the server never heard of it, so the id is free again
		c.registry.Unsubscribe(handle)
		c.registry.ReleaseSubscription(handle.ID)
		c.removeSubscriber(handle.ID)

		return nil, err
	}

	return sub, nil
}

// Unsubscribe ends a subscription and closes its event channel.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscriber) error {
	s, err := c.connected()
	if err != nil {
		return err
	}

	if _, ok := c.registry.Subscription(sub.ID()); !ok {
		return ErrUnknownSubscriber
	}

	if err := s.enqueue(ctx, controlFrame(&protocol.Unsubscribe{SubUID: sub.ID()})); err != nil {
		return err
	}

	c.registry.Unsubscribe(registry.SubscriptionHandle{ID: sub.ID()})
	c.removeSubscriber(sub.ID())

	return nil
}

func (c *Client) removeSubscriber(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subscribers[id]; ok {
		sub.close()
		delete(c.subscribers, id)
	}
}

// SetProperties changes topic properties. A nil value deletes a property.
func (c *Client) SetProperties(ctx context.Context, name string, properties protocol.Properties) error {
	s, err := c.connected()
	if err != nil {
		return err
	}

	if _, err := c.registry.SetProperties(name, properties); err != nil {
		return err
	}

	return s.enqueue(ctx, controlFrame(&protocol.SetProperties{
		Name:   name,
		Update: properties,
	}))
}

// Flush returns once everything queued before it has been written to the
// server, including values held for a topic the server has since announced.
// It fails with protocol.ErrChannelClosed when the connection ends first.
func (c *Client) Flush(ctx context.Context) error {
	s, err := c.connected()
	if err != nil {
		return err
	}

	marker := &outbound{kind: outboundFlush, done: make(chan error, 1)}

	// values held until an announcement are queued under publishMu, so the
	// marker lands behind them
	c.publishMu.Lock()
	err = s.enqueueWait(ctx, marker)
	c.publishMu.Unlock()

	if err != nil {
		return err
	}

	select {
	case err := <-marker.done:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Topics returns every topic currently known, announced or not.
func (c *Client) Topics() []registry.Topic {
	return c.registry.Topics()
}

// Topic returns what is known about a single topic.
func (c *Client) Topic(name string) (registry.Topic, bool) {
	return c.registry.Get(name)
}

// Latest returns the last value received for a topic, as JSON.
func (c *Client) Latest(ctx context.Context, name string) ([]byte, error) {
	return c.store.Get(ctx, name)
}

// ServerTime estimates the current time on the server.
func (c *Client) ServerTime() time.Time {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()

	if s == nil {
		return time.Now()
	}

	micros := s.serverTime()

	return time.Unix(0, micros*int64(time.Microsecond))
}

// WaitForTopic blocks until the server has announced name.
func (c *Client) WaitForTopic(ctx context.Context, name string) (registry.Topic, error) {
	ticker := time.NewTicker(topicPollInterval)
	defer ticker.Stop()

	for {
		if topic, ok := c.registry.Get(name); ok && topic.Announced() {
			return topic, nil
		}

		if c.State() != StateConnected && c.State() != StateConnecting {
			return registry.Topic{}, protocol.ChannelClosed("not connected")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return registry.Topic{}, ctx.Err()
		}
	}
}
