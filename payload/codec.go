// Package payload decodes the opaque payload carried by a record.
//
// Upstream sources deliver payloads as bytes tagged with a protocol version.
// A Codec turns those bytes into a typed message; a Registry picks the codec
// for a version tag so one pipeline can read several protocol generations.
//
//	reg := payload.NewRegistry(payload.JSON{})
//	reg.Register("v2", payload.Proto{})
//
//	var claim pb.Claim
//	err := reg.Decode("v2", rec.Payload, &claim)
package payload

import (
	"errors"
	"fmt"
)

// ErrUnsupportedVersion is returned when no codec is registered for a version
// and the registry has no fallback.
var ErrUnsupportedVersion = errors.New("payload: unsupported version")

// Codec encodes and decodes payload data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes v to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v, which must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// DecodeError reports a payload that its codec could not decode.
type DecodeError struct {
	Version     string
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("payload: decode %s (version %q): %v", e.ContentType, e.Version, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}

// ByContentType returns the built-in codec for a MIME type.
func ByContentType(contentType string) (Codec, bool) {
	switch contentType {
	case JSON{}.ContentType():
		return JSON{}, true
	case MsgPack{}.ContentType():
		return MsgPack{}, true
	case Proto{}.ContentType():
		return Proto{}, true
	}
	return nil, false
}
