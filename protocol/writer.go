package protocol

import (
	"bytes"

	"github.com/tidwall/sjson"
	"github.com/vmihailenco/msgpack/v5"
)

// TimeSyncID is the reserved topic id used by time synchronisation records.
const TimeSyncID int64 = -1

// EncodeControl serialises msgs into the payload of a single text frame.
func EncodeControl(msgs ...Message) ([]byte, error) {
	frame := make([]byte, 0, 64*len(msgs)+2)
	frame = append(frame, '[')

	for i, msg := range msgs {
		raw, err := encodeMessage(msg)
		if err != nil {
			return nil, err
		}

		if i > 0 {
			frame = append(frame, ',')
		}

		frame = append(frame, raw...)
	}

	return append(frame, ']'), nil
}

func encodeMessage(msg Message) ([]byte, error) {
	params, err := encodeParams(msg)
	if err != nil {
		return nil, err
	}

	raw, err := sjson.SetBytes([]byte(`{}`), "method", string(msg.GetMethod()))
	if err != nil {
		return nil, Serialization(err)
	}

	raw, err = sjson.SetRawBytes(raw, "params", params)
	if err != nil {
		return nil, Serialization(err)
	}

	return raw, nil
}

type paramWriter struct {
	buf []byte
	err error
}

func (w *paramWriter) set(path string, value interface{}) {
	if w.err != nil {
		return
	}

	w.buf, w.err = sjson.SetBytes(w.buf, path, value)
}

func encodeParams(msg Message) ([]byte, error) {
	w := &paramWriter{buf: []byte(`{}`)}

	switch m := msg.(type) {
	case *Publish:
		w.set("name", m.Name)
		w.set("pubuid", m.PubUID)
		w.set("type", m.Type.String())
		w.set("properties", propertiesOrEmpty(m.Properties))

	case *Unpublish:
		w.set("pubuid", m.PubUID)

	case *SetProperties:
		w.set("name", m.Name)
		w.set("update", propertiesOrEmpty(m.Update))

	case *Subscribe:
		topics := m.Topics
		if topics == nil {
			topics = []string{}
		}

		w.set("subuid", m.SubUID)
		w.set("topics", topics)
		w.set("options", encodeOptions(m.Options))

	case *Unsubscribe:
		w.set("subuid", m.SubUID)

	case *Announce:
		w.set("name", m.Name)
		w.set("id", m.ID)
		w.set("type", m.Type.String())
		if m.PubUID != nil {
			w.set("pubuid", *m.PubUID)
		}
		w.set("properties", propertiesOrEmpty(m.Properties))

	case *Unannounce:
		w.set("name", m.Name)
		w.set("id", m.ID)

	case *PropertiesUpdate:
		w.set("name", m.Name)
		if m.Ack {
			w.set("ack", true)
		}
		w.set("update", propertiesOrEmpty(m.Update))

	default:
		return nil, InvalidMessageType("unsupported control message")
	}

	if w.err != nil {
		return nil, Serialization(w.err)
	}

	return w.buf, nil
}

func encodeOptions(o SubscriptionOptions) map[string]interface{} {
	opts := make(map[string]interface{}, 4)

	if o.Periodic > 0 {
		opts["periodic"] = o.Periodic.Seconds()
	}

	if o.All {
		opts["all"] = true
	}

	if o.Prefix {
		opts["prefix"] = true
	}

	if o.TopicsOnly {
		opts["topicsonly"] = true
	}

	return opts
}

func propertiesOrEmpty(p Properties) Properties {
	if p == nil {
		return Properties{}
	}

	return p
}

// EncodeRecord builds one data record, [id, timestamp, type code, value].
// value must come from EncodeValue for the same type.
func EncodeRecord(id int64, timestamp int64, t Type, value []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(value) + 20)

	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, Codec(err)
	}

	if err := enc.EncodeInt(id); err != nil {
		return nil, Codec(err)
	}

	if err := enc.EncodeInt(timestamp); err != nil {
		return nil, Codec(err)
	}

	if err := enc.EncodeUint(uint64(t.WireCode())); err != nil {
		return nil, Codec(err)
	}

	if len(value) == 0 {
		return nil, Codecf("empty %s value", t)
	}

	buf.Write(value)

	return buf.Bytes(), nil
}
