package messages

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeInboundFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  WireMessage
	}{
		{"text", `{"mime_type":"text/plain","data":"hel"}`, NewTextMessage("hel")},
		{"audio", `{"mime_type":"audio/pcm","data":"AAA="}`, NewAudioMessage("AAA=")},
		{"turn complete", `{"turn_complete":true}`, NewTurnCompleteMessage()},
		{"interrupted", `{"interrupted":true}`, NewInterruptedMessage()},
		{"combined signals", `{"turn_complete":true,"interrupted":true}`, WireMessage{TurnComplete: true, Interrupted: true}},
		{"explicit false", `{"turn_complete":false,"interrupted":true}`, NewInterruptedMessage()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.frame))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecodeReturnsProtocolError(t *testing.T) {
	frames := []string{
		`{"mime_type":`,
		`{}`,
		`{"mime_type":"video/mp4","data":"x"}`,
		`[1,2,3]`,
	}

	for _, frame := range frames {
		_, err := Decode([]byte(frame))
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("frame %s: expected ProtocolError, got %v", frame, err)
		}
	}

	_, err := Decode([]byte(`{}`))
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestEncodeOmitsUnsetFields(t *testing.T) {
	b, err := Encode(NewTextMessage("hi"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, `"mime_type":"text/plain"`) || !strings.Contains(got, `"data":"hi"`) {
		t.Fatalf("unexpected frame %s", got)
	}
	if strings.Contains(got, "turn_complete") || strings.Contains(got, "interrupted") {
		t.Fatalf("unset flags should be omitted: %s", got)
	}

	b, err = Encode(NewTurnCompleteMessage())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(b) != `{"turn_complete":true}` {
		t.Fatalf("unexpected frame %s", b)
	}
}
