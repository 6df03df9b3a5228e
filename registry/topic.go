package registry

import (
	"github.com/luma/nt4/protocol"
)

// Topic is a snapshot of what the registry knows about a topic.
type Topic struct {
	Name string

	// ID is the server assigned id, zero until the topic is announced.
	ID int64

	Type       protocol.Type
	Properties protocol.Properties

	// Local is true when this client declared the topic to publish to it.
	Local bool

	// PubUID identifies our publish request, only set for local topics.
	PubUID int32
}

// Announced reports whether the server has assigned the topic an id.
func (t Topic) Announced() bool {
	return t.ID != 0
}

// TopicHandle is returned to callers that declare a topic to publish to.
type TopicHandle struct {
	Name   string
	Type   protocol.Type
	PubUID int32
}

// PendingValue is a value published before the topic had a server id.
type PendingValue struct {
	Timestamp int64
	Payload   []byte
}

// AnnounceResult describes the effect of an announcement.
type AnnounceResult struct {
	Topic Topic

	// Superseded holds the id previously recorded for the name, if any.
	Superseded int64

	// Pending are the values held back while the topic had no id. They are
	// now owned by the caller and should be sent to Topic.ID.
	Pending []PendingValue
}

type topic struct {
	name       string
	id         int64
	typ        protocol.Type
	properties protocol.Properties

	local  bool
	pubuid int32

	pending []PendingValue
}

func (t *topic) snapshot() Topic {
	return Topic{
		Name:       t.name,
		ID:         t.id,
		Type:       t.typ,
		Properties: t.properties.Clone(),
		Local:      t.local,
		PubUID:     t.pubuid,
	}
}
