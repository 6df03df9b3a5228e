package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/registry"
	"github.com/luma/nt4/transport"
)

// maxBatch is the most queued frames the write loop folds into one pass.
const maxBatch = 256

type outboundKind uint8

const (
	outboundControl outboundKind = iota
	outboundData
	outboundFlush
)

type outbound struct {
	kind outboundKind

	control protocol.Message

	name      string
	id        int64
	typ       protocol.Type
	timestamp int64
	payload   []byte

	// done is answered once every frame queued before a flush was written
	done chan error
}

// session is a single connection to the server. It owns a read loop, a write
// loop and, optionally, a time sync loop. Everything that wants to write to
// the server goes through out.
type session struct {
	client *Client
	conn   transport.Conn
	log    *zap.Logger

	out chan *outbound

	// sendMu is held for reading while enqueueing, stop takes it for writing
	// so nothing is added to out once stopping is closed.
	sendMu   sync.RWMutex
	stopping chan struct{}
	stopOnce sync.Once

	done chan struct{}
	err  error

	// offset is the estimated server clock minus the local clock, in
	// microseconds
	offset int64
}

func newSession(c *Client, conn transport.Conn) *session {
	return &session{
		client:   c,
		conn:     conn,
		log:      c.log.Named("session"),
		out:      make(chan *outbound, c.options.QueueCapacity),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *session) start() {
	var g errgroup.Group

	g.Go(s.readLoop)
	g.Go(s.writeLoop)

	if s.client.options.TimeSyncInterval > 0 {
		g.Go(s.timeSyncLoop)
	}

	go func() {
		s.err = g.Wait()
		close(s.done)
	}()
}

// stop stops accepting new frames and lets the write loop drain.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		close(s.stopping)
		s.client.closing(s)

		// wait out anyone still inside enqueue
		s.sendMu.Lock()
		s.sendMu.Unlock() //nolint:staticcheck
	})
}

func (s *session) isStopping() bool {
	select {
	case <-s.stopping:
		return true

	default:
		return false
	}
}

// enqueue queues a frame for the write loop. When the queue is full it waits
// or fails with protocol.ErrQueueFull, depending on Options.BlockOnFull.
func (s *session) enqueue(ctx context.Context, f *outbound) error {
	return s.push(ctx, f, s.client.options.BlockOnFull)
}

// enqueueWait always waits for queue space. It is used for protocol
// housekeeping that must not be lost to a momentarily full queue.
func (s *session) enqueueWait(ctx context.Context, f *outbound) error {
	return s.push(ctx, f, true)
}

func (s *session) push(ctx context.Context, f *outbound, block bool) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.isStopping() {
		return protocol.ChannelClosed("connection is closing")
	}

	if !block {
		select {
		case s.out <- f:
			s.client.metrics.queueDepth.Set(float64(len(s.out)))
			return nil

		default:
			return protocol.QueueFull(cap(s.out))
		}
	}

	select {
	case s.out <- f:
		s.client.metrics.queueDepth.Set(float64(len(s.out)))
		return nil

	case <-s.stopping:
		return protocol.ChannelClosed("connection is closing")

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) readLoop() error {
	log := s.log.Named("readLoop")

	defer func() {
		s.stop()
		log.Debug("Read loop exited")
	}()

	for {
		frame, err := s.conn.Receive()
		if err != nil {
			if s.isStopping() {
				return nil
			}

			log.Warn("Failed to read from server", zap.Error(err))
			return protocol.Transport(err)
		}

		s.client.metrics.framesReceived.WithLabelValues(frame.Kind.String()).Inc()

		switch frame.Kind {
		case transport.FrameClose:
			if s.isStopping() {
				return nil
			}

			return protocol.ChannelClosed("server closed the connection")

		case transport.FrameText:
			s.handleControl(frame.Data)

		case transport.FrameBinary:
			s.handleData(frame.Data)
		}
	}
}

func (s *session) handleControl(data []byte) {
	msgs, err := protocol.DecodeControl(data)
	if err != nil {
		s.client.metrics.decodeErrors.WithLabelValues("control").Inc()
		s.log.Warn("Failed to decode control frame",
			zap.ByteString("frame", data),
			zap.Error(err))
	}

	for _, msg := range msgs {
		switch m := msg.(type) {
		case *protocol.Announce:
			s.handleAnnounce(m)

		case *protocol.Unannounce:
			topic, ok := s.client.registry.OnUnannounce(m.ID)
			if !ok {
				s.log.Debug("Unannounce for unknown topic",
					zap.String("name", m.Name),
					zap.Int64("id", m.ID))
				continue
			}

			if err := s.client.store.Delete(context.Background(), topic.Name); err != nil {
				s.log.Debug("Failed to forget latest value", zap.String("name", topic.Name), zap.Error(err))
			}

			s.client.dispatch(Event{Kind: EventUnannounce, Topic: topic})

		case *protocol.PropertiesUpdate:
			topic, ok := s.client.registry.OnProperties(m.Name, m.Update)
			if !ok {
				s.log.Debug("Properties for unknown topic", zap.String("name", m.Name))
				continue
			}

			s.client.dispatch(Event{Kind: EventProperties, Topic: topic})

		default:
			s.log.Warn("Ignoring unexpected control message from server",
				zap.String("method", string(msg.GetMethod())))
		}
	}
}

func (s *session) handleAnnounce(a *protocol.Announce) {
	c := s.client

	// held across the pending flush so a concurrent publish cannot overtake
	// the values published before the announcement
	c.publishMu.Lock()
	result, err := c.registry.OnAnnounce(a)
	if err != nil {
		s.log.Warn("Server announced a topic with a different type",
			zap.String("name", a.Name),
			zap.Int64("id", a.ID),
			zap.Error(err))
	}

	for _, pending := range result.Pending {
		f := &outbound{
			kind:      outboundData,
			name:      result.Topic.Name,
			id:        result.Topic.ID,
			typ:       result.Topic.Type,
			timestamp: pending.Timestamp,
			payload:   pending.Payload,
		}

		if err := s.enqueueWait(context.Background(), f); err != nil {
			s.log.Debug("Dropping held values", zap.String("name", a.Name), zap.Error(err))
			break
		}
	}
	c.publishMu.Unlock()

	if result.Superseded != 0 {
		s.log.Debug("Topic id replaced",
			zap.String("name", a.Name),
			zap.Int64("old", result.Superseded),
			zap.Int64("new", a.ID))
	}

	c.dispatch(Event{Kind: EventAnnounce, Topic: result.Topic})
}

func (s *session) handleData(data []byte) {
	records, err := protocol.DecodeRecords(data)
	if err != nil {
		s.client.metrics.decodeErrors.WithLabelValues("data").Inc()
		s.log.Warn("Failed to decode data frame", zap.Error(err))
	}

	for _, record := range records {
		if record.TopicID == protocol.TimeSyncID {
			s.handleTimeSync(record)
			continue
		}

		if err := s.handleRecord(record); err != nil {
			s.client.metrics.decodeErrors.WithLabelValues("value").Inc()
			s.log.Warn("Dropping value",
				zap.Int64("id", record.TopicID),
				zap.Uint64("code", record.Code),
				zap.Error(err))
		}
	}
}

func (s *session) handleRecord(record protocol.Record) error {
	c := s.client

	topic, ok := c.registry.Lookup(record.TopicID)
	if !ok {
		return errors.New("value for a topic that is not announced")
	}

	wireType, err := protocol.FromWireCode(record.Code)
	if err != nil {
		return err
	}

	if wireType.WireCode() != topic.Type.WireCode() {
		return protocol.TypeMismatch(topic.Name, topic.Type, wireType)
	}

	value, err := protocol.DecodeValue(topic.Type, record.Value)
	if err != nil {
		return err
	}

	c.dispatch(Event{
		Kind:      EventValue,
		Topic:     topic,
		Timestamp: record.Timestamp,
		Value:     value,
	})

	if err := c.store.Set(context.Background(), topic.Name, storedValue(topic.Type, value)); err != nil {
		s.log.Debug("Failed to store latest value", zap.String("name", topic.Name), zap.Error(err))
	}

	return nil
}

// storedValue keeps json topics as json documents in the store.
func storedValue(typ protocol.Type, value interface{}) interface{} {
	if typ != protocol.TypeJSON {
		return value
	}

	if s, ok := value.(string); ok && gjson.Valid(s) {
		return json.RawMessage(s)
	}

	return value
}

func (s *session) handleTimeSync(record protocol.Record) {
	value, err := protocol.DecodeValue(protocol.TypeInt, record.Value)
	if err != nil {
		s.log.Warn("Invalid time sync reply", zap.Error(err))
		return
	}

	sent := value.(int64)
	now := nowMicros()
	rtt := now - sent
	if rtt < 0 {
		return
	}

	offset := record.Timestamp + rtt/2 - now
	atomic.StoreInt64(&s.offset, offset)

	s.log.Debug("Time synchronised",
		zap.Int64("rttMicros", rtt),
		zap.Int64("offsetMicros", offset))
}

func (s *session) timeSyncLoop() error {
	ticker := time.NewTicker(s.client.options.TimeSyncInterval)
	defer ticker.Stop()

	for {
		if err := s.sendTimeSync(); err != nil && !s.isStopping() {
			s.log.Debug("Failed to queue time sync", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-s.stopping:
			return nil
		}
	}
}

func (s *session) sendTimeSync() error {
	payload, err := protocol.EncodeValue(protocol.TypeInt, nowMicros())
	if err != nil {
		return err
	}

	return s.push(context.Background(), &outbound{
		kind:    outboundData,
		id:      protocol.TimeSyncID,
		typ:     protocol.TypeInt,
		payload: payload,
	}, false)
}

// serverTime estimates the server clock in microseconds.
func (s *session) serverTime() int64 {
	return nowMicros() + atomic.LoadInt64(&s.offset)
}

func (s *session) writeLoop() (err error) {
	log := s.log.Named("writeLoop")

	defer func() {
		if cerr := s.conn.Close(); cerr != nil {
			log.Debug("Failed to close connection cleanly", zap.Error(cerr))
		}

		log.Debug("Write loop exited")
	}()

	for {
		select {
		case f := <-s.out:
			batch := s.collect(f)

			if err := s.write(context.Background(), batch); err != nil {
				log.Warn("Failed to write to server", zap.Error(err))

				s.stop()
				s.failQueued()

				return protocol.Transport(err)
			}

		case <-s.stopping:
			return s.drain()
		}
	}
}

// collect gathers whatever else is already queued behind first.
func (s *session) collect(first *outbound) []*outbound {
	batch := []*outbound{first}

	for len(batch) < maxBatch {
		select {
		case f := <-s.out:
			batch = append(batch, f)

		default:
			s.client.metrics.queueDepth.Set(float64(len(s.out)))
			return batch
		}
	}

	s.client.metrics.queueDepth.Set(float64(len(s.out)))

	return batch
}

// drain writes what is left in the queue, giving up after DrainTimeout.
func (s *session) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.options.DrainTimeout)
	defer cancel()

	// a push that passed isStopping may still be adding to out
	s.sendMu.Lock()
	s.sendMu.Unlock() //nolint:staticcheck

	var remaining []*outbound

	for {
		select {
		case f := <-s.out:
			remaining = append(remaining, f)
			continue

		default:
		}

		break
	}

	s.client.metrics.queueDepth.Set(0)

	if len(remaining) == 0 {
		return nil
	}

	s.log.Debug("Draining queued frames", zap.Int("count", len(remaining)))

	if err := s.write(ctx, remaining); err != nil {
		s.log.Info("Could not drain every queued frame", zap.Error(err))
	}

	return nil
}

// failQueued answers every flush still in the queue. Only called once
// stopping is closed.
func (s *session) failQueued() {
	for {
		select {
		case f := <-s.out:
			if f.kind == outboundFlush {
				f.done <- protocol.ChannelClosed("connection closed before flush")
			}

		default:
			s.client.metrics.queueDepth.Set(0)
			return
		}
	}
}

// write sends batch in order. Runs of control messages become one text
// frame, runs of values become one binary frame. On failure every flush
// not yet answered is failed.
func (s *session) write(ctx context.Context, batch []*outbound) (err error) {
	var (
		control []protocol.Message
		data    []byte
	)

	flushControl := func() error {
		if len(control) == 0 {
			return nil
		}

		frame, err := protocol.EncodeControl(control...)
		control = control[:0]
		if err != nil {
			// one bad message must not take the connection down
			s.log.Error("Failed to encode control frame", zap.Error(err))
			return nil
		}

		return s.send(ctx, transport.Frame{Kind: transport.FrameText, Data: frame})
	}

	flushData := func() error {
		if len(data) == 0 {
			return nil
		}

		frame := data
		data = nil

		return s.send(ctx, transport.Frame{Kind: transport.FrameBinary, Data: frame})
	}

	for i, f := range batch {
		switch f.kind {
		case outboundControl:
			if err = flushData(); err == nil {
				control = append(control, f.control)
			}

		case outboundData:
			if err = flushControl(); err != nil {
				break
			}

			record, ok := s.record(f)
			if ok {
				data = append(data, record...)
			}

		case outboundFlush:
			if err = multierr.Append(flushControl(), flushData()); err == nil {
				f.done <- nil
			}
		}

		if err != nil {
			for _, rest := range batch[i:] {
				if rest.kind == outboundFlush {
					rest.done <- protocol.ChannelClosed("connection closed before flush")
				}
			}

			return err
		}
	}

	return multierr.Append(flushControl(), flushData())
}

// record encodes a queued value, dropping it if its topic id went stale
// while it was queued.
func (s *session) record(f *outbound) ([]byte, bool) {
	c := s.client

	if f.id != protocol.TimeSyncID && !c.registry.IsLive(f.name, f.id) {
		if c.options.DeferUnannounced {
			if _, announced := c.registry.ResolveID(f.name); !announced {
				if _, _, err := c.registry.PrepareData(f.name, f.timestamp, f.payload); err == nil {
					c.metrics.pendingParked.Inc()
					return nil, false
				}
			}
		}

		c.metrics.staleDropped.Inc()
		s.log.Debug("Dropping value for stale topic id",
			zap.String("name", f.name),
			zap.Int64("id", f.id))

		return nil, false
	}

	record, err := protocol.EncodeRecord(f.id, f.timestamp, f.typ, f.payload)
	if err != nil {
		s.log.Error("Failed to encode value", zap.String("name", f.name), zap.Error(err))
		return nil, false
	}

	return record, true
}

func (s *session) send(ctx context.Context, frame transport.Frame) error {
	if err := s.conn.Send(ctx, frame); err != nil {
		return err
	}

	s.client.metrics.framesSent.WithLabelValues(frame.Kind.String()).Inc()

	return nil
}

func controlFrame(msg protocol.Message) *outbound {
	return &outbound{kind: outboundControl, control: msg}
}

func dataFrame(topic registry.TopicHandle, id int64, timestamp int64, payload []byte) *outbound {
	return &outbound{
		kind:      outboundData,
		name:      topic.Name,
		id:        id,
		typ:       topic.Type,
		timestamp: timestamp,
		payload:   payload,
	}
}

func nowMicros() int64 {
	return time.Now().UnixNano() / int64(time.Microsecond)
}
