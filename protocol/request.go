package protocol

import "time"

// Publish asks the server to announce a topic the client wants to publish to.
type Publish struct {
	Name       string
	PubUID     int32
	Type       Type
	Properties Properties
}

func (p *Publish) GetMethod() Method {
	return MethodPublish
}

// Unpublish withdraws a previous Publish.
type Unpublish struct {
	PubUID int32
}

func (u *Unpublish) GetMethod() Method {
	return MethodUnpublish
}

// SetProperties updates topic properties. A nil value deletes the key.
type SetProperties struct {
	Name   string
	Update Properties
}

func (s *SetProperties) GetMethod() Method {
	return MethodSetProperties
}

// SubscriptionOptions are sent to the server along with a subscription.
type SubscriptionOptions struct {
	// Periodic is the minimum interval between updates. Zero leaves the
	// server default in place.
	Periodic time.Duration

	// All asks for every value change rather than only the latest one per period.
	All bool

	// Prefix treats every pattern as a topic name prefix.
	Prefix bool

	// TopicsOnly asks for announcements only, without values.
	TopicsOnly bool
}

type Subscribe struct {
	SubUID  int32
	Topics  []string
	Options SubscriptionOptions
}

func (s *Subscribe) GetMethod() Method {
	return MethodSubscribe
}

type Unsubscribe struct {
	SubUID int32
}

func (u *Unsubscribe) GetMethod() Method {
	return MethodUnsubscribe
}

var _ Message = (*Publish)(nil)
var _ Message = (*Unpublish)(nil)
var _ Message = (*SetProperties)(nil)
var _ Message = (*Subscribe)(nil)
var _ Message = (*Unsubscribe)(nil)
