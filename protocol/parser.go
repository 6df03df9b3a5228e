package protocol

import (
	"bytes"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
)

// Record is one decoded data record. Value holds the still encoded value,
// decode it with DecodeValue once the topic type is known.
type Record struct {
	TopicID   int64
	Timestamp int64
	Code      uint64
	Value     msgpack.RawMessage
}

// Type returns the canonical Type for the record's wire code.
func (r *Record) Type() (Type, error) {
	return FromWireCode(r.Code)
}

// DecodeControl parses the payload of a text frame into control messages.
//
// Unknown fields are ignored. A message with an unknown method is reported as
// an ErrInvalidMessageType error, but the other messages of the frame are
// still returned so the caller can decide what to do with them.
func DecodeControl(data []byte) ([]Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, &Error{Kind: KindSerialization, Desc: "control frame is not valid json"}
	}

	root := gjson.ParseBytes(data)

	var items []gjson.Result
	switch {
	case root.IsArray():
		items = root.Array()

	case root.IsObject():
		items = []gjson.Result{root}

	default:
		return nil, InvalidMessageType("control frame is neither an object nor an array")
	}

	var errs error
	msgs := make([]Message, 0, len(items))

	for _, item := range items {
		msg, err := decodeMessage(item)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		msgs = append(msgs, msg)
	}

	return msgs, errs
}

func decodeMessage(item gjson.Result) (Message, error) {
	if !item.IsObject() {
		return nil, InvalidMessageType("control message is not an object")
	}

	method := item.Get("method")
	if method.Type != gjson.String {
		return nil, InvalidMessageType("control message has no method")
	}

	params := item.Get("params")
	if !params.IsObject() {
		return nil, &Error{Kind: KindSerialization, Desc: method.Str + " message has no params"}
	}

	switch Method(method.Str) {
	case MethodAnnounce:
		if err := requireFields(params, method.Str, "name", "id", "type"); err != nil {
			return nil, err
		}

		t, err := FromText(params.Get("type").String())
		if err != nil {
			return nil, err
		}

		msg := &Announce{
			Name:       params.Get("name").String(),
			ID:         params.Get("id").Int(),
			Type:       t,
			Properties: decodeProperties(params.Get("properties")),
		}

		if pubuid := params.Get("pubuid"); pubuid.Exists() && pubuid.Type == gjson.Number {
			id := int32(pubuid.Int())
			msg.PubUID = &id
		}

		return msg, nil

	case MethodUnannounce:
		if err := requireFields(params, method.Str, "id"); err != nil {
			return nil, err
		}

		return &Unannounce{
			Name: params.Get("name").String(),
			ID:   params.Get("id").Int(),
		}, nil

	case MethodProperties:
		if err := requireFields(params, method.Str, "name"); err != nil {
			return nil, err
		}

		return &PropertiesUpdate{
			Name:   params.Get("name").String(),
			Ack:    params.Get("ack").Bool(),
			Update: decodeProperties(params.Get("update")),
		}, nil

	case MethodPublish:
		if err := requireFields(params, method.Str, "name", "pubuid", "type"); err != nil {
			return nil, err
		}

		t, err := FromText(params.Get("type").String())
		if err != nil {
			return nil, err
		}

		return &Publish{
			Name:       params.Get("name").String(),
			PubUID:     int32(params.Get("pubuid").Int()),
			Type:       t,
			Properties: decodeProperties(params.Get("properties")),
		}, nil

	case MethodUnpublish:
		if err := requireFields(params, method.Str, "pubuid"); err != nil {
			return nil, err
		}

		return &Unpublish{PubUID: int32(params.Get("pubuid").Int())}, nil

	case MethodSetProperties:
		if err := requireFields(params, method.Str, "name"); err != nil {
			return nil, err
		}

		return &SetProperties{
			Name:   params.Get("name").String(),
			Update: decodeProperties(params.Get("update")),
		}, nil

	case MethodSubscribe:
		if err := requireFields(params, method.Str, "subuid", "topics"); err != nil {
			return nil, err
		}

		topics := params.Get("topics").Array()
		msg := &Subscribe{
			SubUID: int32(params.Get("subuid").Int()),
			Topics: make([]string, 0, len(topics)),
		}

		for _, topic := range topics {
			msg.Topics = append(msg.Topics, topic.String())
		}

		options := params.Get("options")
		msg.Options = SubscriptionOptions{
			Periodic:   time.Duration(options.Get("periodic").Float() * float64(time.Second)),
			All:        options.Get("all").Bool(),
			Prefix:     options.Get("prefix").Bool(),
			TopicsOnly: options.Get("topicsonly").Bool(),
		}

		return msg, nil

	case MethodUnsubscribe:
		if err := requireFields(params, method.Str, "subuid"); err != nil {
			return nil, err
		}

		return &Unsubscribe{SubUID: int32(params.Get("subuid").Int())}, nil

	default:
		return nil, InvalidMessageType("unknown control message method")
	}
}

func requireFields(params gjson.Result, method string, fields ...string) error {
	for _, field := range fields {
		if !params.Get(field).Exists() {
			return &Error{
				Kind: KindSerialization,
				Desc: method + " message is missing " + field,
			}
		}
	}

	return nil
}

func decodeProperties(r gjson.Result) Properties {
	if !r.IsObject() {
		return nil
	}

	m, _ := r.Value().(map[string]interface{})
	return Properties(m)
}

// DecodeRecords parses the payload of a binary frame. Records decoded before
// a malformed one are returned together with the error.
func DecodeRecords(data []byte) ([]Record, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	var records []Record

	for r.Len() > 0 {
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return records, Codec(err)
		}

		if n != 4 {
			return records, Codecf("data record has %d elements, expected 4", n)
		}

		var rec Record

		if rec.TopicID, err = dec.DecodeInt64(); err != nil {
			return records, Codec(err)
		}

		if rec.Timestamp, err = dec.DecodeInt64(); err != nil {
			return records, Codec(err)
		}

		if rec.Code, err = dec.DecodeUint64(); err != nil {
			return records, Codec(err)
		}

		if rec.Value, err = dec.DecodeRaw(); err != nil {
			return records, Codec(err)
		}

		records = append(records, rec)
	}

	return records, nil
}
