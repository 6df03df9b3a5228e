package protocol

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
)

// Go representations of decoded values:
//
//	boolean                        bool
//	double                         float64
//	int                            int64
//	float                          float32
//	string, json                   string
//	raw, rpc, msgpack, protobuf    []byte
//	boolean[]                      []bool
//	double[]                       []float64
//	int[]                          []int64
//	float[]                        []float32
//	string[]                       []string
//
// EncodeValue also accepts the other Go integer and float types where the
// conversion is lossless, and string for the raw types.

// EncodeValue encodes v as the data frame payload of a t value.
func EncodeValue(t Type, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := encodeValue(enc, t, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, t Type, v interface{}) error {
	mismatch := func() error {
		return Codecf("cannot encode %T as %s", v, t)
	}

	var err error

	switch t {
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return mismatch()
		}
		err = enc.EncodeBool(b)

	case TypeDouble:
		f, ok := toFloat64(v)
		if !ok {
			return mismatch()
		}
		err = enc.EncodeFloat64(f)

	case TypeInt:
		i, ok := toInt64(v)
		if !ok {
			return mismatch()
		}
		err = enc.EncodeInt(i)

	case TypeFloat:
		f, ok := toFloat32(v)
		if !ok {
			return mismatch()
		}
		err = enc.EncodeFloat32(f)

	case TypeString, TypeJSON:
		switch s := v.(type) {
		case string:
			err = enc.EncodeString(s)
		case []byte:
			err = enc.EncodeString(string(s))
		default:
			return mismatch()
		}

	case TypeRaw, TypeRPC, TypeMsgPack, TypeProtoBuf:
		switch b := v.(type) {
		case []byte:
			if b == nil {
				b = []byte{}
			}
			err = enc.EncodeBytes(b)
		case string:
			err = enc.EncodeBytes([]byte(b))
		default:
			return mismatch()
		}

	case TypeBooleanArray:
		values, ok := v.([]bool)
		if !ok {
			return mismatch()
		}
		if err = enc.EncodeArrayLen(len(values)); err != nil {
			break
		}
		for _, b := range values {
			if err = enc.EncodeBool(b); err != nil {
				break
			}
		}

	case TypeDoubleArray:
		values, ok := v.([]float64)
		if !ok {
			return mismatch()
		}
		if err = enc.EncodeArrayLen(len(values)); err != nil {
			break
		}
		for _, f := range values {
			if err = enc.EncodeFloat64(f); err != nil {
				break
			}
		}

	case TypeIntArray:
		var values []int64
		switch ints := v.(type) {
		case []int64:
			values = ints
		case []int:
			values = make([]int64, len(ints))
			for i, n := range ints {
				values[i] = int64(n)
			}
		default:
			return mismatch()
		}
		if err = enc.EncodeArrayLen(len(values)); err != nil {
			break
		}
		for _, n := range values {
			if err = enc.EncodeInt(n); err != nil {
				break
			}
		}

	case TypeFloatArray:
		values, ok := v.([]float32)
		if !ok {
			return mismatch()
		}
		if err = enc.EncodeArrayLen(len(values)); err != nil {
			break
		}
		for _, f := range values {
			if err = enc.EncodeFloat32(f); err != nil {
				break
			}
		}

	case TypeStringArray:
		values, ok := v.([]string)
		if !ok {
			return mismatch()
		}
		if err = enc.EncodeArrayLen(len(values)); err != nil {
			break
		}
		for _, s := range values {
			if err = enc.EncodeString(s); err != nil {
				break
			}
		}

	default:
		return InvalidMessageNumber(uint64(t))
	}

	if err != nil {
		return Codec(err)
	}

	return nil
}

// DecodeValue decodes a data frame payload holding a single t value.
func DecodeValue(t Type, data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, Codecf("empty %s value", t)
	}

	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	v, err := decodeValue(dec, t, len(data))
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return nil, err
		}

		return nil, Codec(err)
	}

	if r.Len() != 0 {
		return nil, Codecf("%d trailing bytes after %s value", r.Len(), t)
	}

	return v, nil
}

func decodeValue(dec *msgpack.Decoder, t Type, limit int) (interface{}, error) {
	switch t {
	case TypeBoolean:
		b, err := dec.DecodeBool()
		return b, err

	case TypeDouble:
		f, err := dec.DecodeFloat64()
		return f, err

	case TypeInt:
		i, err := dec.DecodeInt64()
		return i, err

	case TypeFloat:
		f, err := dec.DecodeFloat32()
		return f, err

	case TypeString, TypeJSON:
		s, err := dec.DecodeString()
		return s, err

	case TypeRaw, TypeRPC, TypeMsgPack, TypeProtoBuf:
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil

	case TypeBooleanArray:
		n, err := arrayLen(dec, limit)
		if err != nil {
			return nil, err
		}
		values := make([]bool, 0, n)
		for i := 0; i < n; i++ {
			b, err := dec.DecodeBool()
			if err != nil {
				return nil, err
			}
			values = append(values, b)
		}
		return values, nil

	case TypeDoubleArray:
		n, err := arrayLen(dec, limit)
		if err != nil {
			return nil, err
		}
		values := make([]float64, 0, n)
		for i := 0; i < n; i++ {
			f, err := dec.DecodeFloat64()
			if err != nil {
				return nil, err
			}
			values = append(values, f)
		}
		return values, nil

	case TypeIntArray:
		n, err := arrayLen(dec, limit)
		if err != nil {
			return nil, err
		}
		values := make([]int64, 0, n)
		for i := 0; i < n; i++ {
			v, err := dec.DecodeInt64()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil

	case TypeFloatArray:
		n, err := arrayLen(dec, limit)
		if err != nil {
			return nil, err
		}
		values := make([]float32, 0, n)
		for i := 0; i < n; i++ {
			f, err := dec.DecodeFloat32()
			if err != nil {
				return nil, err
			}
			values = append(values, f)
		}
		return values, nil

	case TypeStringArray:
		n, err := arrayLen(dec, limit)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, n)
		for i := 0; i < n; i++ {
			s, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
		return values, nil

	default:
		return nil, InvalidMessageNumber(uint64(t))
	}
}

// arrayLen reads an array header. Every element takes at least one byte, so
// a length above limit can only come from a corrupt frame.
func arrayLen(dec *msgpack.Decoder, limit int) (int, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, nil
	}

	if n > limit {
		return 0, Codecf("array length %d exceeds the %d byte payload", n, limit)
	}

	return n, nil
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toFloat32(v interface{}) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	case int:
		return float32(n), true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// ParseValue converts the textual form of a value, as typed on a command line,
// into the Go representation expected by EncodeValue. Array elements are comma
// separated.
func ParseValue(t Type, s string) (interface{}, error) {
	switch t {
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		return b, err

	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		return f, err

	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err

	case TypeFloat:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err

	case TypeString:
		return s, nil

	case TypeJSON:
		if !gjson.Valid(s) {
			return nil, &Error{Kind: KindSerialization, Desc: "value is not valid json"}
		}
		return s, nil

	case TypeRaw, TypeRPC, TypeMsgPack, TypeProtoBuf:
		return []byte(s), nil
	}

	var parts []string
	if s != "" {
		parts = strings.Split(s, ",")
	}

	switch t {
	case TypeBooleanArray:
		values := make([]bool, 0, len(parts))
		for _, part := range parts {
			b, err := strconv.ParseBool(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			values = append(values, b)
		}
		return values, nil

	case TypeDoubleArray:
		values := make([]float64, 0, len(parts))
		for _, part := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, err
			}
			values = append(values, f)
		}
		return values, nil

	case TypeIntArray:
		values := make([]int64, 0, len(parts))
		for _, part := range parts {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, err
			}
			values = append(values, n)
		}
		return values, nil

	case TypeFloatArray:
		values := make([]float32, 0, len(parts))
		for _, part := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
			if err != nil {
				return nil, err
			}
			values = append(values, float32(f))
		}
		return values, nil

	case TypeStringArray:
		values := make([]string, 0, len(parts))
		for _, part := range parts {
			values = append(values, strings.TrimSpace(part))
		}
		return values, nil

	default:
		return nil, InvalidMessageNumber(uint64(t))
	}
}
