package protocol

// Type is the declared value type of a topic.
//
// Several types share a wire code (see WireCode). The wire code decides how a
// value is laid out in a data frame, the textual name is what the control
// channel carries, so converting a wire code back into a Type can not recover
// the aliased variants.
type Type uint8

const (
	TypeBoolean Type = iota
	TypeDouble
	TypeInt
	TypeFloat
	TypeString
	TypeJSON
	TypeRaw
	TypeRPC
	TypeMsgPack
	TypeProtoBuf
	TypeBooleanArray
	TypeDoubleArray
	TypeIntArray
	TypeFloatArray
	TypeStringArray
)

// Wire codes used in data frames.
const (
	CodeBoolean      uint8 = 0
	CodeDouble       uint8 = 1
	CodeInt          uint8 = 2
	CodeFloat        uint8 = 3
	CodeString       uint8 = 4
	CodeRaw          uint8 = 5
	CodeBooleanArray uint8 = 16
	CodeDoubleArray  uint8 = 17
	CodeIntArray     uint8 = 18
	CodeFloatArray   uint8 = 19
	CodeStringArray  uint8 = 20
)

var typeNames = [...]string{
	TypeBoolean:      "boolean",
	TypeDouble:       "double",
	TypeInt:          "int",
	TypeFloat:        "float",
	TypeString:       "string",
	TypeJSON:         "json",
	TypeRaw:          "raw",
	TypeRPC:          "rpc",
	TypeMsgPack:      "msgpack",
	TypeProtoBuf:     "protobuf",
	TypeBooleanArray: "boolean[]",
	TypeDoubleArray:  "double[]",
	TypeIntArray:     "int[]",
	TypeFloatArray:   "float[]",
	TypeStringArray:  "string[]",
}

var typeCodes = [...]uint8{
	TypeBoolean:      CodeBoolean,
	TypeDouble:       CodeDouble,
	TypeInt:          CodeInt,
	TypeFloat:        CodeFloat,
	TypeString:       CodeString,
	TypeJSON:         CodeString,
	TypeRaw:          CodeRaw,
	TypeRPC:          CodeRaw,
	TypeMsgPack:      CodeRaw,
	TypeProtoBuf:     CodeRaw,
	TypeBooleanArray: CodeBooleanArray,
	TypeDoubleArray:  CodeDoubleArray,
	TypeIntArray:     CodeIntArray,
	TypeFloatArray:   CodeFloatArray,
	TypeStringArray:  CodeStringArray,
}

// Types lists every Type in declaration order.
func Types() []Type {
	types := make([]Type, 0, len(typeNames))
	for t := range typeNames {
		types = append(types, Type(t))
	}

	return types
}

// WireCode returns the numeric code used for t in data frames.
func (t Type) WireCode() uint8 {
	if int(t) >= len(typeCodes) {
		return 0xff
	}

	return typeCodes[t]
}

func (t Type) String() string {
	if int(t) >= len(typeNames) {
		return "unknown"
	}

	return typeNames[t]
}

// IsArray reports whether t is one of the array variants.
func (t Type) IsArray() bool {
	return t >= TypeBooleanArray && t <= TypeStringArray
}

// FromWireCode maps a data frame type code to its canonical Type. Code 4 is
// always TypeString and code 5 always TypeRaw.
func FromWireCode(code uint64) (Type, error) {
	switch code {
	case uint64(CodeBoolean):
		return TypeBoolean, nil
	case uint64(CodeDouble):
		return TypeDouble, nil
	case uint64(CodeInt):
		return TypeInt, nil
	case uint64(CodeFloat):
		return TypeFloat, nil
	case uint64(CodeString):
		return TypeString, nil
	case uint64(CodeRaw):
		return TypeRaw, nil
	case uint64(CodeBooleanArray):
		return TypeBooleanArray, nil
	case uint64(CodeDoubleArray):
		return TypeDoubleArray, nil
	case uint64(CodeIntArray):
		return TypeIntArray, nil
	case uint64(CodeFloatArray):
		return TypeFloatArray, nil
	case uint64(CodeStringArray):
		return TypeStringArray, nil
	default:
		return 0, InvalidMessageNumber(code)
	}
}

// FromText parses the canonical, case sensitive name of a Type.
func FromText(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return Type(t), nil
		}
	}

	return 0, InvalidMessageString(s)
}

func (t Type) MarshalText() ([]byte, error) {
	if int(t) >= len(typeNames) {
		return nil, InvalidMessageNumber(uint64(t))
	}

	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := FromText(string(text))
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}
