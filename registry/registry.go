// Package registry keeps the client side mirror of the topics and
// subscriptions of a connection.
//
// The server owns topic ids. The client owns topic names it publishes to and
// the ids of its own subscriptions. The registry is the only place that maps
// names, ids and types onto each other; everything else asks it.
package registry

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/luma/nt4/protocol"
)

const (
	// DefaultPendingLimit is the number of values held per topic while
	// waiting for its announcement.
	DefaultPendingLimit = 64

	// DefaultUnsubscribeGrace is how long an unsubscribed id stays reserved
	// when the server does not acknowledge the unsubscribe.
	DefaultUnsubscribeGrace = 5 * time.Second
)

var (
	ErrEmptyName    = errors.New("registry: topic name is empty")
	ErrNoPatterns   = errors.New("registry: subscription has no patterns")
	ErrUnknownTopic = errors.New("registry: unknown topic")
	ErrNotPublished = errors.New("registry: topic is not published by this client")
)

type Options struct {
	UnsubscribeGrace time.Duration
	PendingLimit     int

	// Now is used to expire unsubscribed ids, defaults to time.Now
	Now func() time.Time
}

type Registry struct {
	mu sync.Mutex

	byID   map[int64]*topic
	byName map[string]*topic

	subs    map[int32]*subscription
	retired map[int32]time.Time

	nextSubUID int32
	nextPubUID int32

	grace        time.Duration
	pendingLimit int
	now          func() time.Time
}

func New(options Options) *Registry {
	r := &Registry{
		byID:         make(map[int64]*topic),
		byName:       make(map[string]*topic),
		subs:         make(map[int32]*subscription),
		retired:      make(map[int32]time.Time),
		grace:        options.UnsubscribeGrace,
		pendingLimit: options.PendingLimit,
		now:          options.Now,
	}

	if r.grace <= 0 {
		r.grace = DefaultUnsubscribeGrace
	}

	if r.pendingLimit <= 0 {
		r.pendingLimit = DefaultPendingLimit
	}

	if r.now == nil {
		r.now = time.Now
	}

	return r
}

// RegisterLocalTopic declares that this client publishes to name. Registering
// the same name and type again is a no-op; created reports whether this call
// declared the topic. A different type fails with protocol.ErrTypeMismatch.
func (r *Registry) RegisterLocalTopic(name string, typ protocol.Type) (handle TopicHandle, created bool, err error) {
	if name == "" {
		return TopicHandle{}, false, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok {
		t = &topic{name: name, typ: typ}
		r.byName[name] = t
	}

	if t.typ != typ {
		return TopicHandle{}, false, protocol.TypeMismatch(name, t.typ, typ)
	}

	if !t.local {
		t.local = true
		t.pubuid = r.allocPubUID()
		created = true
	}

	return TopicHandle{Name: t.name, Type: t.typ, PubUID: t.pubuid}, created, nil
}

// UnregisterLocalTopic withdraws a local declaration and drops its pending
// values. It returns the pubuid the declaration used.
func (r *Registry) UnregisterLocalTopic(name string) (int32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok || !t.local {
		return 0, false
	}

	pubuid := t.pubuid

	t.local = false
	t.pubuid = 0
	t.pending = nil

	if t.id == 0 {
		delete(r.byName, name)
	}

	return pubuid, true
}

// OnAnnounce records a server announcement.
//
// A new id for a known name replaces the old one. An id the server reuses for
// a different name is taken away from the old name. When the announced type
// differs from the type we declared, the server wins: the announcement is
// applied, pending values of the old type are dropped and a
// protocol.ErrTypeMismatch error is returned alongside the result.
func (r *Registry) OnAnnounce(a *protocol.Announce) (AnnounceResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		result AnnounceResult
		err    error
	)

	if prev, ok := r.byID[a.ID]; ok && prev.name != a.Name {
		r.detach(prev)
	}

	t, ok := r.byName[a.Name]
	if !ok {
		t = &topic{name: a.Name}
		r.byName[a.Name] = t
	} else {
		if t.id != 0 && t.id != a.ID {
			result.Superseded = t.id
			delete(r.byID, t.id)
			r.forgetTopicID(t.id)
		}

		if t.local && t.typ != a.Type {
			err = protocol.TypeMismatch(a.Name, a.Type, t.typ)
			t.pending = nil
		}
	}

	t.id = a.ID
	t.typ = a.Type
	if a.Properties != nil {
		t.properties = a.Properties.Clone()
	}

	r.byID[a.ID] = t

	for _, s := range r.subs {
		if s.matches(t.name) {
			s.topics[t.id] = struct{}{}
		}
	}

	if t.local {
		result.Pending = t.pending
		t.pending = nil
	}

	result.Topic = t.snapshot()

	return result, err
}

// OnUnannounce removes the topic with the given id. A topic we publish to
// stays declared, without an id, until it is announced again.
func (r *Registry) OnUnannounce(id int64) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return Topic{}, false
	}

	snapshot := t.snapshot()
	r.detach(t)

	return snapshot, true
}

// detach removes the id of t. Callers must hold mu.
func (r *Registry) detach(t *topic) {
	delete(r.byID, t.id)
	r.forgetTopicID(t.id)

	t.id = 0

	if !t.local {
		delete(r.byName, t.name)
	}
}

func (r *Registry) forgetTopicID(id int64) {
	for _, s := range r.subs {
		delete(s.topics, id)
	}
}

// OnProperties applies a server side property update.
func (r *Registry) OnProperties(name string, update protocol.Properties) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok {
		return Topic{}, false
	}

	t.properties = t.properties.Merge(update)

	return t.snapshot(), true
}

// SetProperties applies a client side property update. The server is told
// separately; whichever update is processed last wins.
func (r *Registry) SetProperties(name string, update protocol.Properties) (Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok {
		return Topic{}, ErrUnknownTopic
	}

	t.properties = t.properties.Merge(update)

	return t.snapshot(), nil
}

// PrepareData returns the id to send a value of a local topic to. When the
// topic has no id yet, the value is held until the next announcement and ok
// is false. Only the newest PendingLimit values are held.
func (r *Registry) PrepareData(name string, timestamp int64, payload []byte) (id int64, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, found := r.byName[name]
	if !found || !t.local {
		return 0, false, ErrNotPublished
	}

	if t.id != 0 {
		return t.id, true, nil
	}

	t.pending = append(t.pending, PendingValue{Timestamp: timestamp, Payload: payload})
	if over := len(t.pending) - r.pendingLimit; over > 0 {
		t.pending = append([]PendingValue(nil), t.pending[over:]...)
	}

	return 0, false, nil
}

// IsLive reports whether id is the current id of name.
func (r *Registry) IsLive(name string, id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	return ok && id != 0 && t.id == id
}

func (r *Registry) ResolveID(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok || t.id == 0 {
		return 0, false
	}

	return t.id, true
}

func (r *Registry) ResolveType(id int64) (protocol.Type, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return 0, false
	}

	return t.typ, true
}

// Lookup returns the topic with the given id.
func (r *Registry) Lookup(id int64) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return Topic{}, false
	}

	return t.snapshot(), true
}

// Get returns the topic with the given name, announced or not.
func (r *Registry) Get(name string) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok {
		return Topic{}, false
	}

	return t.snapshot(), true
}

// Topics returns every known topic ordered by name.
func (r *Registry) Topics() []Topic {
	return r.topics(func(*topic) bool { return true })
}

// LocalTopics returns the topics this client publishes to, ordered by name.
func (r *Registry) LocalTopics() []Topic {
	return r.topics(func(t *topic) bool { return t.local })
}

func (r *Registry) topics(filter func(*topic) bool) []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]Topic, 0, len(r.byName))
	for _, t := range r.byName {
		if filter(t) {
			topics = append(topics, t.snapshot())
		}
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })

	return topics
}

// Subscribe allocates a subscription id that is not used by any active, or
// recently unsubscribed, subscription.
func (r *Registry) Subscribe(patterns []string, options protocol.SubscriptionOptions, persist bool) (SubscriptionHandle, error) {
	if len(patterns) == 0 {
		return SubscriptionHandle{}, ErrNoPatterns
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &subscription{
		id:       r.allocSubUID(),
		patterns: append([]string(nil), patterns...),
		options:  options,
		persist:  persist,
		topics:   make(map[int64]struct{}),
	}

	for id, t := range r.byID {
		if s.matches(t.name) {
			s.topics[id] = struct{}{}
		}
	}

	r.subs[s.id] = s

	return SubscriptionHandle{ID: s.id}, nil
}

// Unsubscribe removes a subscription. Its id is not handed out again until
// ReleaseSubscription is called or the grace period has passed.
func (r *Registry) Unsubscribe(handle SubscriptionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[handle.ID]; !ok {
		return false
	}

	delete(r.subs, handle.ID)
	r.retired[handle.ID] = r.now()

	return true
}

// ReleaseSubscription makes an unsubscribed id available again.
func (r *Registry) ReleaseSubscription(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.retired, id)
}

func (r *Registry) Subscription(id int32) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok {
		return Subscription{}, false
	}

	return s.snapshot(), true
}

// Subscriptions returns the active subscriptions ordered by id.
func (r *Registry) Subscriptions() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s.snapshot())
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })

	return subs
}

// Matching returns the ids of the subscriptions matching a topic name.
func (r *Registry) Matching(name string) []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int32
	for id, s := range r.subs {
		if s.matches(name) {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// ResetResult describes what Reset threw away.
type ResetResult struct {
	// Removed are the names of the topics that had a server id.
	Removed []string

	// Dropped are the ids of the subscriptions that did not persist.
	Dropped []int32
}

// Reset forgets everything the server told us. Local declarations stay, as
// unconfirmed topics to announce again, and so do persistent subscriptions.
func (r *Registry) Reset() ResetResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result ResetResult

	for name, t := range r.byName {
		if t.id != 0 {
			result.Removed = append(result.Removed, name)
		}

		if !t.local {
			delete(r.byName, name)
			continue
		}

		t.id = 0
		t.pending = nil
	}

	r.byID = make(map[int64]*topic)

	for id, s := range r.subs {
		if !s.persist {
			delete(r.subs, id)
			result.Dropped = append(result.Dropped, id)
			continue
		}

		s.topics = make(map[int64]struct{})
	}

	r.retired = make(map[int32]time.Time)

	sort.Strings(result.Removed)
	sort.Slice(result.Dropped, func(i, j int) bool { return result.Dropped[i] < result.Dropped[j] })

	return result
}

// allocSubUID must be called with mu held.
func (r *Registry) allocSubUID() int32 {
	now := r.now()

	for {
		if r.nextSubUID == math.MaxInt32 {
			r.nextSubUID = 0
		}
		r.nextSubUID++

		id := r.nextSubUID

		if _, active := r.subs[id]; active {
			continue
		}

		if retiredAt, ok := r.retired[id]; ok {
			if now.Sub(retiredAt) < r.grace {
				continue
			}

			delete(r.retired, id)
		}

		return id
	}
}

// allocPubUID must be called with mu held.
func (r *Registry) allocPubUID() int32 {
	if r.nextPubUID == math.MaxInt32 {
		r.nextPubUID = 0
	}
	r.nextPubUID++

	return r.nextPubUID
}
