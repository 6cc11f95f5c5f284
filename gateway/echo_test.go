package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/room4-2/ConverseLive/pcm"
)

type agentLog struct {
	events chan string
	audio  chan string
}

func newAgentLog() *agentLog {
	return &agentLog{events: make(chan string, 64), audio: make(chan string, 8)}
}

func (l *agentLog) callbacks() Callbacks {
	return Callbacks{
		OnText:         func(text string) { l.events <- "text:" + text },
		OnAudio:        func(data string) { l.events <- "audio"; l.audio <- data },
		OnTurnComplete: func() { l.events <- "turn_complete" },
		OnInterrupted:  func() { l.events <- "interrupted" },
	}
}

func (l *agentLog) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-l.events:
			if got != w {
				t.Fatalf("event = %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func TestEchoAgentRepeatsTextWordByWord(t *testing.T) {
	agent := NewEchoAgent()
	defer agent.Close()

	log := newAgentLog()
	agent.Start(context.Background(), log.callbacks())

	if err := agent.SendText("hello  there world"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	log.expect(t, "text:hello ", "text:there ", "text:world", "turn_complete")
}

func TestEchoAgentResamplesAudioAndEndsTurnOnSilence(t *testing.T) {
	agent := NewEchoAgent()
	agent.TurnGap = 30 * time.Millisecond
	defer agent.Close()

	log := newAgentLog()
	agent.Start(context.Background(), log.callbacks())

	in := make([]int16, 160)
	if err := agent.SendAudio(pcm.Int16ToBytes(in)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	log.expect(t, "audio", "turn_complete")

	raw, err := pcm.Decode(<-log.audio)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := len(pcm.BytesToInt16(raw)); got != 240 {
		t.Fatalf("echoed %d samples, want 240", got)
	}
}

func TestEchoAgentTextInterruptsAudioTurn(t *testing.T) {
	agent := NewEchoAgent()
	agent.TurnGap = time.Hour
	defer agent.Close()

	log := newAgentLog()
	agent.Start(context.Background(), log.callbacks())

	if err := agent.SendAudio(make([]byte, 64)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := agent.SendText("stop"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	log.expect(t, "audio", "interrupted", "turn_complete", "text:stop", "turn_complete")
}

func TestEchoAgentRejectsInputAfterClose(t *testing.T) {
	agent := NewEchoAgent()
	agent.Start(context.Background(), Callbacks{})
	agent.Close()
	agent.Close()

	if err := agent.SendText("late"); err == nil {
		t.Fatal("SendText succeeded after Close")
	}
}
