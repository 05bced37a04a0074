package serialization

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// PayloadFormat represents the serialization format used for a payload
type PayloadFormat byte

const (
	// FormatJSON represents JSON serialization (legacy/default for backward compatibility)
	FormatJSON PayloadFormat = 0x00

	// FormatProtobuf represents Protocol Buffers serialization
	FormatProtobuf PayloadFormat = 0x01
)

var (
	// ErrUnknownFormat is returned when the payload format cannot be determined
	ErrUnknownFormat = errors.New("unknown payload format")

	// ErrEncodeFailed is returned when encoding fails
	ErrEncodeFailed = errors.New("failed to encode payload")

	// ErrDecodeFailed is returned when decoding fails
	ErrDecodeFailed = errors.New("failed to decode payload")
)

// protobufEnvelope wraps a protobuf-encoded payload so it can live inside a
// JSON item body. The payload bytes carry the format prefix.
type protobufEnvelope struct {
	Format  string `json:"$format"`
	Payload string `json:"$payload"`
}

const protobufFormatName = "protobuf"

// Codec converts arbitrary payload values to and from the opaque JSON `data`
// field stored in item bodies. JSON payloads are embedded verbatim; protobuf
// payloads ride inside a small JSON envelope with a base64 body.
type Codec struct {
	// DefaultFormat is the format used when encoding new payloads
	DefaultFormat PayloadFormat
}

// NewCodec creates a codec with the specified default format
func NewCodec(defaultFormat PayloadFormat) *Codec {
	return &Codec{DefaultFormat: defaultFormat}
}

// NewJSONCodec creates a codec that defaults to JSON format (legacy)
func NewJSONCodec() *Codec {
	return &Codec{DefaultFormat: FormatJSON}
}

// NewProtobufCodec creates a codec that defaults to protobuf format
func NewProtobufCodec() *Codec {
	return &Codec{DefaultFormat: FormatProtobuf}
}

// Encode serializes a payload using the configured default format
func (c *Codec) Encode(v interface{}) (json.RawMessage, error) {
	return c.EncodeWithFormat(v, c.DefaultFormat)
}

// EncodeWithFormat serializes a payload using the specified format
func (c *Codec) EncodeWithFormat(v interface{}, format PayloadFormat) (json.RawMessage, error) {
	switch format {
	case FormatJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w (JSON): %v", ErrEncodeFailed, err)
		}
		return data, nil

	case FormatProtobuf:
		msg, err := toProtoValue(v)
		if err != nil {
			return nil, err
		}
		body, err := proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("%w (Protobuf): %v", ErrEncodeFailed, err)
		}

		// Prepend format byte, matching the wire prefix convention
		prefixed := make([]byte, len(body)+1)
		prefixed[0] = byte(FormatProtobuf)
		copy(prefixed[1:], body)

		env := protobufEnvelope{
			Format:  protobufFormatName,
			Payload: base64.StdEncoding.EncodeToString(prefixed),
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("%w (envelope): %v", ErrEncodeFailed, err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnknownFormat, format)
	}
}

// Decode deserializes a payload, automatically detecting the format. JSON
// payloads come back as the natural unmarshal types (map, slice, scalars);
// protobuf payloads are unwrapped to the same shapes.
func (c *Codec) Decode(data json.RawMessage) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecodeFailed)
	}

	format, err := c.DetectFormat(data)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w (JSON): %v", ErrDecodeFailed, err)
		}
		return v, nil

	case FormatProtobuf:
		var env protobufEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w (envelope): %v", ErrDecodeFailed, err)
		}
		prefixed, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w (base64): %v", ErrDecodeFailed, err)
		}
		if len(prefixed) < 1 || PayloadFormat(prefixed[0]) != FormatProtobuf {
			return nil, fmt.Errorf("%w: missing protobuf prefix", ErrDecodeFailed)
		}
		val := &structpb.Value{}
		if err := proto.Unmarshal(prefixed[1:], val); err != nil {
			return nil, fmt.Errorf("%w (Protobuf): %v", ErrDecodeFailed, err)
		}
		return val.AsInterface(), nil

	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnknownFormat, format)
	}
}

// DetectFormat inspects an encoded payload and reports its format. Payloads
// are valid JSON either way; protobuf is recognized by its envelope marker.
func (c *Codec) DetectFormat(data json.RawMessage) (PayloadFormat, error) {
	if len(data) == 0 {
		return FormatJSON, fmt.Errorf("%w: empty payload", ErrUnknownFormat)
	}

	if data[0] == '{' {
		var env protobufEnvelope
		if err := json.Unmarshal(data, &env); err == nil && env.Format == protobufFormatName {
			return FormatProtobuf, nil
		}
		return FormatJSON, nil
	}

	// Arrays, strings, numbers, booleans and null are all plain JSON
	if json.Valid(data) {
		return FormatJSON, nil
	}

	return FormatJSON, fmt.Errorf("%w: payload is not valid JSON", ErrUnknownFormat)
}

// IsProtobuf returns true if the data is a protobuf envelope
func (c *Codec) IsProtobuf(data json.RawMessage) bool {
	format, err := c.DetectFormat(data)
	return err == nil && format == FormatProtobuf
}

// IsJSON returns true if the data is plain JSON
func (c *Codec) IsJSON(data json.RawMessage) bool {
	format, err := c.DetectFormat(data)
	return err == nil && format == FormatJSON
}

// toProtoValue converts an arbitrary JSON-compatible value into a proto
// Value. Typed structs round-trip through JSON first so their tags apply.
func toProtoValue(v interface{}) (proto.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: value is not JSON-compatible: %v", ErrEncodeFailed, err)
	}
	var plain interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	val, err := structpb.NewValue(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return val, nil
}
