package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldRange is returned when a header or command field does not
	// fit its bit width.
	ErrFieldRange = errors.New("frame: field out of range")
	// ErrPayloadTooLong is returned when a payload exceeds 15 bytes.
	ErrPayloadTooLong = errors.New("frame: payload exceeds 15 bytes")
	// ErrShortFrame is returned when decoding runs out of bytes.
	ErrShortFrame = errors.New("frame: short frame")
	// ErrNoFrameStart is returned when a buffer does not begin with the
	// frame-start marker.
	ErrNoFrameStart = errors.New("frame: missing frame-start marker")
	// ErrShortPayload is returned by a Dissector that runs out of bytes.
	ErrShortPayload = errors.New("frame: payload too short")
)

func rangeError(field string, v, max int) error {
	return fmt.Errorf("%w: %s=%d (max %d)", ErrFieldRange, field, v, max)
}
