package protocol

// Method names the kind of a control message.
type Method string

const (
	MethodPublish       Method = "publish"
	MethodUnpublish     Method = "unpublish"
	MethodSetProperties Method = "setproperties"
	MethodSubscribe     Method = "subscribe"
	MethodUnsubscribe   Method = "unsubscribe"
	MethodAnnounce      Method = "announce"
	MethodUnannounce    Method = "unannounce"
	MethodProperties    Method = "properties"
)

// Message is a single control message, carried in a text frame.
type Message interface {
	GetMethod() Method
}
