// Package protocol implements the framed wire format spoken with game clients.
//
// Every server to client message is a single binary frame: one type byte
// followed by the payload, which is either JSON or raw image bytes. Clients
// send plain text commands.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the leading tag byte of an outbound message.
type MessageType byte

// Message tags. The values are fixed by deployed clients.
const (
	// Frame carries a JPEG-encoded camera frame.
	Frame MessageType = 1
	// ServerStatus carries {status}.
	ServerStatus MessageType = 2
	// Mask carries a PNG-encoded obstacle mask.
	Mask MessageType = 3
	// Path carries a JSON list of {x,y} waypoints.
	Path MessageType = 4
	// GridPosition carries the pointer cell center and its occupancy.
	GridPosition MessageType = 6
	// GridConfirmation carries a confirmed cell center.
	GridConfirmation MessageType = 7
	// ProgressUpdate carries {step,progress} during segmentation.
	ProgressUpdate MessageType = 8
	// CameraInfo carries the negotiated {width,height}.
	CameraInfo MessageType = 9
	// Error carries {error,code}.
	Error MessageType = 10
)

// Tag 5 carried a finger count in older clients and stays unassigned.

var typeNames = map[MessageType]string{
	Frame:            "FRAME",
	ServerStatus:     "SERVER_STATUS",
	Mask:             "MASK",
	Path:             "PATH",
	GridPosition:     "GRID_POSITION",
	GridConfirmation: "GRID_CONFIRMATION",
	ProgressUpdate:   "PROGRESS_UPDATE",
	CameraInfo:       "CAMERA_INFO",
	Error:            "ERROR",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// Valid reports whether t is a known message tag.
func (t MessageType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

var (
	// ErrEmptyMessage is returned when decoding a zero-length frame.
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnknownType is returned when decoding an unassigned tag.
	ErrUnknownType = errors.New("unknown message type")
)

// Encode prefixes payload with its type tag.
func Encode(t MessageType, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(t)
	copy(buf[1:], payload)
	return buf
}

// EncodeJSON marshals v and prefixes it with its type tag.
func EncodeJSON(t MessageType, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Encode(t, payload), nil
}

// Decode splits a frame into its tag and payload. The payload aliases data.
func Decode(data []byte) (MessageType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrEmptyMessage
	}
	t := MessageType(data[0])
	if !t.Valid() {
		return t, nil, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}
	return t, data[1:], nil
}

// DecodeJSON decodes a frame of the expected type into v.
func DecodeJSON(data []byte, want MessageType, v any) error {
	t, payload, err := Decode(data)
	if err != nil {
		return err
	}
	if t != want {
		return fmt.Errorf("expected %s, got %s", want, t)
	}
	return json.Unmarshal(payload, v)
}
