package protocol

// Announce tells the client the server id and type of a topic.
type Announce struct {
	Name string
	ID   int64
	Type Type

	// PubUID is set when the announcement answers one of our Publish messages.
	PubUID *int32

	Properties Properties
}

func (a *Announce) GetMethod() Method {
	return MethodAnnounce
}

// Unannounce tells the client a topic id is no longer valid.
type Unannounce struct {
	Name string
	ID   int64
}

func (u *Unannounce) GetMethod() Method {
	return MethodUnannounce
}

// PropertiesUpdate reports property changes on a topic.
type PropertiesUpdate struct {
	Name   string
	Ack    bool
	Update Properties
}

func (p *PropertiesUpdate) GetMethod() Method {
	return MethodProperties
}

var _ Message = (*Announce)(nil)
var _ Message = (*Unannounce)(nil)
var _ Message = (*PropertiesUpdate)(nil)
