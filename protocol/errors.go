package protocol

import (
	"fmt"
)

// ErrorKind classifies an Error.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransport
	KindSerialization
	KindCodec
	KindIO
	KindChannelClosed
	KindConnectTimeout
	KindInvalidMessageType
	KindInvalidMessageNumber
	KindInvalidMessageString
	KindQueueFull
	KindTypeMismatch
)

// Error is the single error type returned by this module. Use errors.Is with
// one of the Err* sentinels to test the kind of a failure, and errors.As to
// get at the offending value of the invalid-message kinds.
type Error struct {
	Kind ErrorKind

	// Desc is a static description for KindInvalidMessageType and a detail
	// message for the other kinds.
	Desc string

	// Number is the offending code for KindInvalidMessageNumber.
	Number uint64

	// Text is the offending string for KindInvalidMessageString.
	Text string

	Err error
}

var (
	ErrUnknown              = &Error{Kind: KindUnknown}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrSerialization        = &Error{Kind: KindSerialization}
	ErrCodec                = &Error{Kind: KindCodec}
	ErrIO                   = &Error{Kind: KindIO}
	ErrChannelClosed        = &Error{Kind: KindChannelClosed}
	ErrConnectTimeout       = &Error{Kind: KindConnectTimeout}
	ErrInvalidMessageType   = &Error{Kind: KindInvalidMessageType}
	ErrInvalidMessageNumber = &Error{Kind: KindInvalidMessageNumber}
	ErrInvalidMessageString = &Error{Kind: KindInvalidMessageString}
	ErrQueueFull            = &Error{Kind: KindQueueFull}
	ErrTypeMismatch         = &Error{Kind: KindTypeMismatch}
)

func (e *Error) Error() string {
	var msg string

	switch e.Kind {
	case KindTransport:
		msg = "websocket error"
	case KindSerialization:
		msg = "json error"
	case KindCodec:
		msg = "msgpack error"
	case KindIO:
		msg = "io error"
	case KindChannelClosed:
		msg = "connection closed"
	case KindConnectTimeout:
		msg = "timed out connecting to server"
	case KindInvalidMessageType:
		msg = "server responded with an invalid type of message"
	case KindInvalidMessageNumber:
		return fmt.Sprintf("invalid message type number: %d", e.Number)
	case KindInvalidMessageString:
		return fmt.Sprintf("invalid message type string: %q", e.Text)
	case KindQueueFull:
		msg = "outbound queue full"
	case KindTypeMismatch:
		msg = "topic type mismatch"
	default:
		msg = "unknown error occurred"
	}

	if e.Desc != "" {
		msg += ": " + e.Desc
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of the payload carried by e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

func Transport(err error) error {
	return &Error{Kind: KindTransport, Err: err}
}

func Serialization(err error) error {
	return &Error{Kind: KindSerialization, Err: err}
}

func Codec(err error) error {
	return &Error{Kind: KindCodec, Err: err}
}

func Codecf(format string, args ...interface{}) error {
	return &Error{Kind: KindCodec, Desc: fmt.Sprintf(format, args...)}
}

func IO(err error) error {
	return &Error{Kind: KindIO, Err: err}
}

func ChannelClosed(desc string) error {
	return &Error{Kind: KindChannelClosed, Desc: desc}
}

func QueueFull(capacity int) error {
	return &Error{Kind: KindQueueFull, Desc: fmt.Sprintf("%d frames waiting", capacity)}
}

func ConnectTimeout(err error) error {
	return &Error{Kind: KindConnectTimeout, Err: err}
}

// InvalidMessageType reports a frame whose kind the client does not
// recognise. desc should be a constant string.
func InvalidMessageType(desc string) error {
	return &Error{Kind: KindInvalidMessageType, Desc: desc}
}

func InvalidMessageNumber(n uint64) error {
	return &Error{Kind: KindInvalidMessageNumber, Number: n}
}

func InvalidMessageString(s string) error {
	return &Error{Kind: KindInvalidMessageString, Text: s}
}

func TypeMismatch(name string, have, want Type) error {
	return &Error{
		Kind: KindTypeMismatch,
		Desc: fmt.Sprintf("topic %q is %s, not %s", name, have, want),
	}
}
