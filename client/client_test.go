package client_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luma/nt4/client"
	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/transport"
)

func newTestClient(dialer transport.Dialer, configure func(*client.Options)) *client.Client {
	options := client.Options{
		Address:      "test",
		ClientName:   "tester",
		Dialer:       dialer,
		DrainTimeout: time.Second,
		Registerer:   prometheus.NewRegistry(),
	}

	if configure != nil {
		configure(&options)
	}

	return client.New(options)
}

var _ = Describe("client / Client", func() {
	var (
		ctx    context.Context
		server *fakeServer
		c      *client.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = newFakeServer()
	})

	AfterEach(func() {
		if c != nil {
			Expect(c.Close()).To(Succeed())
			c = nil
		}
	})

	Describe("Connect()", func() {
		It("moves to connected", func() {
			c = newTestClient(server, nil)
			Expect(c.State()).To(Equal(client.StateDisconnected))

			Expect(c.Connect(ctx)).To(Succeed())
			Expect(c.State()).To(Equal(client.StateConnected))

			Expect(c.Connect(ctx)).To(MatchError(client.ErrAlreadyConnected))
		})

		It("times out when the handshake does not finish", func() {
			hang := transport.DialerFunc(func(ctx context.Context, addr string, name string) (transport.Conn, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

			c = newTestClient(hang, func(o *client.Options) {
				o.ConnectTimeout = 50 * time.Millisecond
			})

			err := c.Connect(ctx)
			Expect(errors.Is(err, protocol.ErrConnectTimeout)).To(BeTrue())
			Expect(c.State()).To(Equal(client.StateDisconnected))
		})

		It("reports other dial failures as transport errors", func() {
			refuse := transport.DialerFunc(func(ctx context.Context, addr string, name string) (transport.Conn, error) {
				return nil, errors.New("connection refused")
			})

			c = newTestClient(refuse, nil)

			err := c.Connect(ctx)
			Expect(errors.Is(err, protocol.ErrTransport)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("connection refused"))
		})

		It("fails when the connection drops while restoring", func() {
			gate := make(chan struct{})
			dials := 0
			dialer := transport.DialerFunc(func(ctx context.Context, addr string, name string) (transport.Conn, error) {
				dials++
				conn, err := server.Dial(ctx, addr, name)
				if dials == 1 {
					return conn, err
				}

				return &gatedConn{Conn: conn, gate: gate}, err
			})

			c = newTestClient(dialer, func(o *client.Options) {
				o.QueueCapacity = 1
				o.BlockOnFull = true
			})
			Expect(c.Connect(ctx)).To(Succeed())
			first := server.accept()

			for _, name := range []string{"a", "b", "c", "d"} {
				_, err := c.Announce(ctx, name, protocol.TypeInt, nil)
				Expect(err).To(Succeed())
				first.expectPublish()
			}

			first.close()
			Eventually(c.State, waitFor).Should(Equal(client.StateDisconnected))

			// the second server hangs up while the topics are still being restored
			go func() {
				second := <-server.peers
				time.Sleep(100 * time.Millisecond)
				_ = second.conn.Close()
			}()

			err := c.Connect(ctx)
			Expect(errors.Is(err, protocol.ErrChannelClosed)).To(BeTrue())
			Expect(c.State()).NotTo(Equal(client.StateConnected))

			close(gate)
			Eventually(c.State, waitFor).Should(Equal(client.StateDisconnected))
		})

		It("cannot be used after Close()", func() {
			c = newTestClient(server, nil)
			Expect(c.Close()).To(Succeed())

			Expect(errors.Is(c.Connect(ctx), protocol.ErrChannelClosed)).To(BeTrue())
		})
	})

	Describe("operations while not connected", func() {
		It("fail with a channel closed error", func() {
			c = newTestClient(server, nil)

			_, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(errors.Is(err, protocol.ErrChannelClosed)).To(BeTrue())

			Expect(errors.Is(c.Publish(ctx, "a", protocol.TypeInt, 1), protocol.ErrChannelClosed)).To(BeTrue())
			Expect(errors.Is(c.SetProperties(ctx, "a", protocol.Properties{"x": 1}), protocol.ErrChannelClosed)).To(BeTrue())
			Expect(errors.Is(c.Flush(ctx), protocol.ErrChannelClosed)).To(BeTrue())

			_, err = c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{})
			Expect(errors.Is(err, protocol.ErrChannelClosed)).To(BeTrue())

			Expect(c.Topics()).To(BeEmpty())
		})
	})

	Describe("Publish()", func() {
		It("holds a value until the server announces the topic", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			Expect(c.Publish(ctx, "temp", protocol.TypeDouble, 21.5)).To(Succeed())

			publish := peer.expectPublish()
			Expect(publish.Name).To(Equal("temp"))
			Expect(publish.Type).To(Equal(protocol.TypeDouble))
			Consistently(peer.frames, 100*time.Millisecond).ShouldNot(Receive())

			peer.announce(publish, 3)

			record := peer.nextRecord()
			Expect(record.TopicID).To(Equal(int64(3)))
			Expect(record.Code).To(Equal(uint64(protocol.CodeDouble)))
			Expect(protocol.DecodeValue(protocol.TypeDouble, record.Value)).To(Equal(21.5))
		})

		It("sends straight to the announced id afterwards", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "count", protocol.TypeInt, protocol.Properties{"retained": true})
			Expect(err).To(Succeed())

			publish := peer.expectPublish()
			Expect(publish.Properties).To(Equal(protocol.Properties{"retained": true}))
			peer.announce(publish, 9)

			_, err = c.WaitForTopic(ctx, "count")
			Expect(err).To(Succeed())

			Expect(c.PublishTo(ctx, handle, int64(42))).To(Succeed())

			record := peer.nextRecord()
			Expect(record.TopicID).To(Equal(int64(9)))
			Expect(protocol.DecodeValue(protocol.TypeInt, record.Value)).To(Equal(int64(42)))
		})

		It("only announces a topic once", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			Expect(c.Publish(ctx, "a", protocol.TypeInt, 1)).To(Succeed())
			Expect(c.Publish(ctx, "a", protocol.TypeInt, 2)).To(Succeed())

			peer.announce(peer.expectPublish(), 1)

			Expect(protocol.DecodeValue(protocol.TypeInt, peer.nextRecord().Value)).To(Equal(int64(1)))
			Expect(protocol.DecodeValue(protocol.TypeInt, peer.nextRecord().Value)).To(Equal(int64(2)))
			Expect(peer.messages).To(BeEmpty())
		})

		It("rejects a value of the wrong Go type", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())

			err := c.Publish(ctx, "a", protocol.TypeInt, "not a number")
			Expect(errors.Is(err, protocol.ErrCodec)).To(BeTrue())
		})

		It("follows the server when it announces another type", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(err).To(Succeed())

			publish := peer.expectPublish()
			publish.Type = protocol.TypeDouble
			peer.announce(publish, 4)

			Eventually(func() protocol.Type {
				topic, _ := c.Topic("a")
				return topic.Type
			}, waitFor).Should(Equal(protocol.TypeDouble))

			err = c.PublishTo(ctx, handle, int64(1))
			Expect(errors.Is(err, protocol.ErrTypeMismatch)).To(BeTrue())
		})

		It("keeps each producer's concurrent publishes in order", func() {
			const (
				producers   = 8
				perProducer = 16
				total       = producers * perProducer
			)

			c = newTestClient(server, func(o *client.Options) {
				o.QueueCapacity = total * 2
			})
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "n", protocol.TypeInt, nil)
			Expect(err).To(Succeed())
			peer.announce(peer.expectPublish(), 2)
			_, err = c.WaitForTopic(ctx, "n")
			Expect(err).To(Succeed())

			var wg sync.WaitGroup
			errs := make(chan error, total)

			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer GinkgoRecover()
					defer wg.Done()

					for i := 0; i < perProducer; i++ {
						errs <- c.PublishTo(ctx, handle, int64(p*1000+i))
					}
				}(p)
			}

			wg.Wait()
			close(errs)

			for err := range errs {
				Expect(err).To(Succeed())
			}

			last := map[int64]int64{}
			for i := 0; i < total; i++ {
				value, err := protocol.DecodeValue(protocol.TypeInt, peer.nextRecord().Value)
				Expect(err).To(Succeed())

				producer, seq := value.(int64)/1000, value.(int64)%1000
				if prev, ok := last[producer]; ok {
					Expect(seq).To(BeNumerically(">", prev), "producer %d sent %d after %d", producer, seq, prev)
				}

				last[producer] = seq
			}

			Expect(last).To(HaveLen(producers))
			for producer, seq := range last {
				Expect(seq).To(Equal(int64(perProducer-1)), "producer %d", producer)
			}
		})

		It("keeps sequential publishes in order", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			for i := 0; i < 20; i++ {
				Expect(c.Publish(ctx, "seq", protocol.TypeInt, i)).To(Succeed())
				if i == 10 {
					peer.announce(peer.expectPublish(), 6)
				}
			}

			for i := 0; i < 20; i++ {
				record := peer.nextRecord()
				Expect(record.TopicID).To(Equal(int64(6)))
				Expect(protocol.DecodeValue(protocol.TypeInt, record.Value)).To(Equal(int64(i)))
			}
		})

		It("fails fast when the queue is full", func() {
			gate := make(chan struct{})
			gated := gatedDialer(server, gate)

			c = newTestClient(gated, func(o *client.Options) {
				o.QueueCapacity = 1
			})
			Expect(c.Connect(ctx)).To(Succeed())

			i := 0
			Eventually(func() error {
				i++
				_, err := c.Announce(ctx, fmt.Sprintf("t%d", i), protocol.TypeInt, nil)
				return err
			}, waitFor).Should(MatchError(protocol.ErrQueueFull))

			close(gate)
		})

		It("waits for room when told to block", func() {
			gate := make(chan struct{})
			gated := gatedDialer(server, gate)

			c = newTestClient(gated, func(o *client.Options) {
				o.QueueCapacity = 1
				o.BlockOnFull = true
			})
			Expect(c.Connect(ctx)).To(Succeed())

			short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			defer cancel()

			var err error
			for i := 0; i < 4 && err == nil; i++ {
				_, err = c.Announce(short, fmt.Sprintf("t%d", i), protocol.TypeInt, nil)
			}
			Expect(err).To(MatchError(context.DeadlineExceeded))

			close(gate)
		})
	})

	Describe("values queued for a stale topic id", func() {
		It("are dropped when the server replaced the id", func() {
			gate := make(chan struct{})
			metrics := prometheus.NewRegistry()

			c = newTestClient(gatedDialer(server, gate), func(o *client.Options) {
				o.Registerer = metrics
			})
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(err).To(Succeed())

			publish := &protocol.Publish{Name: "a", PubUID: handle.PubUID, Type: protocol.TypeInt}
			peer.announce(publish, 2)
			Eventually(topicID(c, "a"), waitFor).Should(Equal(int64(2)))

			Expect(c.PublishTo(ctx, handle, int64(1))).To(Succeed())

			peer.announce(publish, 5)
			Eventually(topicID(c, "a"), waitFor).Should(Equal(int64(5)))

			close(gate)
			Expect(c.Flush(ctx)).To(Succeed())
			Expect(metricValue(metrics, "nt4_stale_values_dropped_total", "")).To(Equal(1.0))

			Expect(c.PublishTo(ctx, handle, int64(2))).To(Succeed())

			Expect(peer.expectPublish().Name).To(Equal("a"))
			record := peer.nextRecord()
			Expect(record.TopicID).To(Equal(int64(5)))
			Expect(protocol.DecodeValue(protocol.TypeInt, record.Value)).To(Equal(int64(2)))
		})

		It("are held for the next announcement when deferring", func() {
			gate := make(chan struct{})
			metrics := prometheus.NewRegistry()

			c = newTestClient(gatedDialer(server, gate), func(o *client.Options) {
				o.Registerer = metrics
				o.DeferUnannounced = true
			})
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(err).To(Succeed())

			publish := &protocol.Publish{Name: "a", PubUID: handle.PubUID, Type: protocol.TypeInt}
			peer.announce(publish, 2)
			Eventually(topicID(c, "a"), waitFor).Should(Equal(int64(2)))

			Expect(c.PublishTo(ctx, handle, int64(7))).To(Succeed())

			peer.send(&protocol.Unannounce{Name: "a", ID: 2})
			Eventually(topicID(c, "a"), waitFor).Should(BeZero())

			close(gate)
			Expect(c.Flush(ctx)).To(Succeed())
			Expect(metricValue(metrics, "nt4_values_parked_total", "")).To(Equal(1.0))
			Expect(metricValue(metrics, "nt4_stale_values_dropped_total", "")).To(BeZero())

			Expect(peer.expectPublish().Name).To(Equal("a"))
			Consistently(peer.frames, 100*time.Millisecond).ShouldNot(Receive())

			peer.announce(publish, 5)

			record := peer.nextRecord()
			Expect(record.TopicID).To(Equal(int64(5)))
			Expect(protocol.DecodeValue(protocol.TypeInt, record.Value)).To(Equal(int64(7)))
		})
	})

	Describe("Unpublish()", func() {
		It("sends the pubuid of the topic", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "a", protocol.TypeBoolean, nil)
			Expect(err).To(Succeed())
			peer.expectPublish()

			Expect(c.Unpublish(ctx, "a")).To(Succeed())
			Expect(peer.nextMessage()).To(Equal(&protocol.Unpublish{PubUID: handle.PubUID}))

			Expect(c.Unpublish(ctx, "a")).NotTo(Succeed())
		})
	})

	Describe("Subscribe()", func() {
		It("delivers announcements and values of matching topics only", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"robot/"}, client.SubscribeOptions{
				SubscriptionOptions: protocol.SubscriptionOptions{Prefix: true},
			})
			Expect(err).To(Succeed())

			subscribe := peer.expectSubscribe()
			Expect(subscribe.SubUID).To(Equal(sub.ID()))
			Expect(subscribe.Topics).To(Equal([]string{"robot/"}))
			Expect(subscribe.Options.Prefix).To(BeTrue())

			peer.send(
				&protocol.Announce{Name: "robot/speed", ID: 5, Type: protocol.TypeDouble, Properties: protocol.Properties{}},
				&protocol.Announce{Name: "field/time", ID: 6, Type: protocol.TypeDouble, Properties: protocol.Properties{}},
			)
			peer.sendValue(6, 100, protocol.TypeDouble, 2.5)
			peer.sendValue(5, 101, protocol.TypeDouble, 1.5)

			var event client.Event
			Eventually(sub.Events(), waitFor).Should(Receive(&event))
			Expect(event.Kind).To(Equal(client.EventAnnounce))
			Expect(event.Topic.Name).To(Equal("robot/speed"))
			Expect(event.Topic.ID).To(Equal(int64(5)))

			Eventually(sub.Events(), waitFor).Should(Receive(&event))
			Expect(event.Kind).To(Equal(client.EventValue))
			Expect(event.Topic.Name).To(Equal("robot/speed"))
			Expect(event.Timestamp).To(Equal(int64(101)))
			Expect(event.Value).To(Equal(1.5))

			Consistently(sub.Events(), 100*time.Millisecond).ShouldNot(Receive())

			Eventually(func() ([]byte, error) {
				return c.Latest(ctx, "robot/speed")
			}, waitFor).Should(Equal([]byte("1.5")))
		})

		It("reports unannounced topics and property changes", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{})
			Expect(err).To(Succeed())
			peer.expectSubscribe()

			peer.send(&protocol.Announce{Name: "a", ID: 1, Type: protocol.TypeString, Properties: protocol.Properties{}})
			peer.sendValue(1, 1, protocol.TypeString, "hello")
			peer.send(&protocol.PropertiesUpdate{Name: "a", Update: protocol.Properties{"persistent": true}})
			peer.send(&protocol.Unannounce{Name: "a", ID: 1})

			kinds := []client.EventKind{}
			for len(kinds) < 4 {
				var event client.Event
				Eventually(sub.Events(), waitFor).Should(Receive(&event))
				kinds = append(kinds, event.Kind)

				if event.Kind == client.EventProperties {
					Expect(event.Topic.Properties).To(Equal(protocol.Properties{"persistent": true}))
				}
			}

			Expect(kinds).To(Equal([]client.EventKind{
				client.EventAnnounce,
				client.EventValue,
				client.EventProperties,
				client.EventUnannounce,
			}))

			_, err = c.Latest(ctx, "a")
			Expect(err).To(HaveOccurred())
		})

		It("leaves values out of topics only subscriptions", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{
				SubscriptionOptions: protocol.SubscriptionOptions{TopicsOnly: true},
			})
			Expect(err).To(Succeed())
			peer.expectSubscribe()

			peer.send(&protocol.Announce{Name: "a", ID: 1, Type: protocol.TypeBoolean, Properties: protocol.Properties{}})
			peer.sendValue(1, 1, protocol.TypeBoolean, true)

			var event client.Event
			Eventually(sub.Events(), waitFor).Should(Receive(&event))
			Expect(event.Kind).To(Equal(client.EventAnnounce))
			Consistently(sub.Events(), 100*time.Millisecond).ShouldNot(Receive())
		})

		It("drops the oldest events for a slow reader", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{Buffer: 2})
			Expect(err).To(Succeed())
			peer.expectSubscribe()

			peer.send(&protocol.Announce{Name: "a", ID: 1, Type: protocol.TypeInt, Properties: protocol.Properties{}})
			for i := 0; i < 10; i++ {
				peer.sendValue(1, int64(i), protocol.TypeInt, i)
			}

			Eventually(func() ([]byte, error) {
				return c.Latest(ctx, "a")
			}, waitFor).Should(Equal([]byte("9")))

			var event client.Event
			Expect(sub.Events()).To(Receive(&event))
			Expect(event.Value).To(Equal(int64(8)))
			Expect(sub.Events()).To(Receive(&event))
			Expect(event.Value).To(Equal(int64(9)))
		})

		It("keeps going after a frame it cannot decode", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{})
			Expect(err).To(Succeed())
			peer.expectSubscribe()

			peer.sendRaw(transport.FrameText, []byte(`{not json`))
			peer.sendRaw(transport.FrameText, []byte(`[{"method":"launch","params":{}}]`))
			peer.sendRaw(transport.FrameBinary, []byte{0xc1})
			peer.send(&protocol.Announce{Name: "a", ID: 1, Type: protocol.TypeInt, Properties: protocol.Properties{}})
			peer.sendValue(1, 1, protocol.TypeDouble, 1.5)
			peer.sendValue(1, 2, protocol.TypeInt, 7)

			var event client.Event
			Eventually(sub.Events(), waitFor).Should(Receive(&event))
			Expect(event.Kind).To(Equal(client.EventAnnounce))

			Eventually(sub.Events(), waitFor).Should(Receive(&event))
			Expect(event.Kind).To(Equal(client.EventValue))
			Expect(event.Value).To(Equal(int64(7)))

			Expect(c.State()).To(Equal(client.StateConnected))
		})

		It("ends the subscription on Unsubscribe()", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{})
			Expect(err).To(Succeed())
			peer.expectSubscribe()

			Expect(c.Unsubscribe(ctx, sub)).To(Succeed())
			Expect(peer.nextMessage()).To(Equal(&protocol.Unsubscribe{SubUID: sub.ID()}))
			Eventually(sub.Events()).Should(BeClosed())

			Expect(c.Unsubscribe(ctx, sub)).To(MatchError(client.ErrUnknownSubscriber))
		})
	})

	Describe("SetProperties()", func() {
		It("sends the update for a known topic", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			_, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(err).To(Succeed())
			peer.expectPublish()

			Expect(c.SetProperties(ctx, "a", protocol.Properties{"persistent": true})).To(Succeed())
			Expect(peer.nextMessage()).To(Equal(&protocol.SetProperties{
				Name:   "a",
				Update: protocol.Properties{"persistent": true},
			}))

			Expect(c.SetProperties(ctx, "unknown", protocol.Properties{"x": 1})).NotTo(Succeed())
		})
	})

	Describe("Flush()", func() {
		It("returns once queued frames were written", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			_, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(err).To(Succeed())

			Expect(c.Flush(ctx)).To(Succeed())
			Expect(peer.expectPublish().Name).To(Equal("a"))
		})

		It("covers values held until the server announced the topic", func() {
			metrics := prometheus.NewRegistry()
			c = newTestClient(server, func(o *client.Options) {
				o.Registerer = metrics
			})
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			Expect(c.Publish(ctx, "a", protocol.TypeDouble, 1.5)).To(Succeed())
			peer.announce(peer.expectPublish(), 3)

			_, err := c.WaitForTopic(ctx, "a")
			Expect(err).To(Succeed())

			Expect(c.Flush(ctx)).To(Succeed())
			Expect(metricValue(metrics, "nt4_frames_sent_total", "binary")).To(Equal(1.0))

			record := peer.nextRecord()
			Expect(record.TopicID).To(Equal(int64(3)))
		})
	})

	Describe("Close()", func() {
		It("writes out what is still queued", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			handle, err := c.Announce(ctx, "a", protocol.TypeInt, nil)
			Expect(err).To(Succeed())
			peer.announce(peer.expectPublish(), 1)
			_, err = c.WaitForTopic(ctx, "a")
			Expect(err).To(Succeed())

			for i := 0; i < 100; i++ {
				Expect(c.PublishTo(ctx, handle, i)).To(Succeed())
			}

			Expect(c.Close()).To(Succeed())
			Expect(c.State()).To(Equal(client.StateDisconnected))
			c = nil

			for i := 0; i < 100; i++ {
				Expect(protocol.DecodeValue(protocol.TypeInt, peer.nextRecord().Value)).To(Equal(int64(i)))
			}
			peer.waitClosed()
		})

		It("is safe to call twice", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())

			Expect(c.Close()).To(Succeed())
			Expect(c.Close()).To(Succeed())
			c = nil
		})
	})

	Describe("connection loss", func() {
		It("clears server topics and ends non persistent subscriptions", func() {
			c = newTestClient(server, nil)
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			sub, err := c.Subscribe(ctx, []string{"a"}, client.SubscribeOptions{})
			Expect(err).To(Succeed())
			peer.expectSubscribe()

			peer.send(&protocol.Announce{Name: "a", ID: 1, Type: protocol.TypeInt, Properties: protocol.Properties{}})
			Eventually(c.Topics, waitFor).Should(HaveLen(1))

			peer.close()

			Eventually(c.State, waitFor).Should(Equal(client.StateDisconnected))
			Eventually(sub.Events(), waitFor).Should(BeClosed())
			Expect(c.Topics()).To(BeEmpty())
			Expect(errors.Is(c.Publish(ctx, "a", protocol.TypeInt, 1), protocol.ErrChannelClosed)).To(BeTrue())
		})

		It("reconnects and restores topics and persistent subscriptions", func() {
			c = newTestClient(server, func(o *client.Options) {
				o.Reconnect = client.ReconnectOptions{
					Enabled:    true,
					MinBackoff: 10 * time.Millisecond,
					MaxBackoff: 50 * time.Millisecond,
				}
			})
			Expect(c.Connect(ctx)).To(Succeed())
			first := server.accept()

			kept, err := c.Subscribe(ctx, []string{"robot/"}, client.SubscribeOptions{
				SubscriptionOptions: protocol.SubscriptionOptions{Prefix: true},
				Persist:             true,
			})
			Expect(err).To(Succeed())
			first.expectSubscribe()

			dropped, err := c.Subscribe(ctx, []string{"other"}, client.SubscribeOptions{})
			Expect(err).To(Succeed())
			first.expectSubscribe()

			_, err = c.Announce(ctx, "robot/out", protocol.TypeBoolean, nil)
			Expect(err).To(Succeed())
			first.expectPublish()

			first.close()

			second := server.accept()
			Eventually(c.State, waitFor).Should(Equal(client.StateConnected))
			Eventually(dropped.Events(), waitFor).Should(BeClosed())

			publish := second.expectPublish()
			Expect(publish.Name).To(Equal("robot/out"))

			subscribe := second.expectSubscribe()
			Expect(subscribe.SubUID).To(Equal(kept.ID()))
			Expect(subscribe.Topics).To(Equal([]string{"robot/"}))
			Expect(second.messages).To(BeEmpty())

			second.send(&protocol.Announce{Name: "robot/in", ID: 3, Type: protocol.TypeInt, Properties: protocol.Properties{}})

			var event client.Event
			Eventually(kept.Events(), waitFor).Should(Receive(&event))
			Expect(event.Topic.Name).To(Equal("robot/in"))
		})
	})

	Describe("time synchronisation", func() {
		It("estimates the server clock", func() {
			c = newTestClient(server, func(o *client.Options) {
				o.TimeSyncInterval = 20 * time.Millisecond
			})
			Expect(c.Connect(ctx)).To(Succeed())
			peer := server.accept()

			record := peer.nextRecord()
			Expect(record.TopicID).To(Equal(protocol.TimeSyncID))

			sent, err := protocol.DecodeValue(protocol.TypeInt, record.Value)
			Expect(err).To(Succeed())

			hour := int64(time.Hour / time.Microsecond)
			peer.sendValue(protocol.TimeSyncID, sent.(int64)+hour, protocol.TypeInt, sent)

			Eventually(func() time.Duration {
				return time.Until(c.ServerTime())
			}, waitFor).Should(BeNumerically("~", time.Hour, time.Minute))
		})
	})
})
