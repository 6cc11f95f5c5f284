package messages

// MIME types carried in the mime_type field
const (
	MimeText  = "text/plain"
	MimeAudio = "audio/pcm"
)

// WireMessage is the only unit exchanged in either direction once a
// connection is open.
type WireMessage struct {
	MimeType     string `json:"mime_type,omitempty"`
	Data         string `json:"data,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
}

// NewTextMessage creates a text/plain message
func NewTextMessage(text string) WireMessage {
	return WireMessage{MimeType: MimeText, Data: text}
}

// NewAudioMessage creates an audio/pcm message from base64 PCM
func NewAudioMessage(base64Data string) WireMessage {
	return WireMessage{MimeType: MimeAudio, Data: base64Data}
}

// NewTurnCompleteMessage signals the end of an agent turn
func NewTurnCompleteMessage() WireMessage {
	return WireMessage{TurnComplete: true}
}

// NewInterruptedMessage signals that agent playback must stop
func NewInterruptedMessage() WireMessage {
	return WireMessage{Interrupted: true}
}

// IsText reports whether the message carries text
func (m WireMessage) IsText() bool { return m.MimeType == MimeText }

// IsAudio reports whether the message carries base64 PCM
func (m WireMessage) IsAudio() bool { return m.MimeType == MimeAudio }

// IsControl reports whether the message carries a turn signal
func (m WireMessage) IsControl() bool { return m.TurnComplete || m.Interrupted }
