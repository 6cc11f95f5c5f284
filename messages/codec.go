package messages

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrEmptyMessage is returned for frames with no payload and no turn signal
var ErrEmptyMessage = errors.New("message has no content")

// ProtocolError describes an inbound frame that could not be understood.
// The frame is dropped; the connection stays up.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	const maxPreview = 64
	preview := e.Frame
	if len(preview) > maxPreview {
		preview = preview[:maxPreview]
	}
	return fmt.Sprintf("protocol error: %v (frame %q)", e.Err, preview)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Decode parses one JSON text frame.
func Decode(frame []byte) (WireMessage, error) {
	var msg WireMessage
	if err := sonic.Unmarshal(frame, &msg); err != nil {
		return WireMessage{}, &ProtocolError{Frame: frame, Err: err}
	}

	switch msg.MimeType {
	case MimeText, MimeAudio:
	case "":
		if !msg.IsControl() {
			return WireMessage{}, &ProtocolError{Frame: frame, Err: ErrEmptyMessage}
		}
	default:
		return WireMessage{}, &ProtocolError{Frame: frame, Err: fmt.Errorf("unsupported mime type %q", msg.MimeType)}
	}

	return msg, nil
}

// Encode serialises a message as a JSON text frame.
func Encode(msg WireMessage) ([]byte, error) {
	b, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return b, nil
}
