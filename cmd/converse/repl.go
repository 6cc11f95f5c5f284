package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/room4-2/ConverseLive/chat"
	"github.com/room4-2/ConverseLive/session"
	"github.com/room4-2/ConverseLive/transport"
)

const defaultHistoryLines = 20

// conversation is the part of session.Session the prompt drives
type conversation interface {
	SendText(text string) bool
	StartMic(ctx context.Context) error
	StopMic() error
	MicOn() bool
	SetMode(ctx context.Context, mode session.Mode) error
	Mode() session.Mode
	LastError() error
	History(ctx context.Context, offset, limit int) ([]chat.Message, error)
	Reset()
}

type repl struct {
	conv conversation

	mu  sync.Mutex
	out io.Writer
}

func newREPL(conv conversation, out io.Writer) *repl {
	return &repl{conv: conv, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) help() {
	r.printf("%s\n", mutedStyle.Render("type to chat · /mic toggles the microphone · /audio /text switch mode · /history [n] · /clear · /quit"))
}

func (r *repl) showStatus(st transport.State) {
	line := statusBadge(st)
	if st == transport.Disconnected {
		if err := r.conv.LastError(); err != nil {
			line += " " + errorStyle.Render(err.Error())
		}
	}
	r.printf("%s\n", line)
}

// showReply prints sealed agent messages; the user's own lines are already on screen
func (r *repl) showReply(m chat.Message) {
	if m.Role != chat.RoleAssistant {
		return
	}
	r.showMessage(m)
}

func (r *repl) showMessage(m chat.Message) {
	if m.Role == chat.RoleAssistant {
		r.printf("%s %s\n", agentStyle.Render("agent ›"), m.Text)
		return
	}
	r.printf("%s %s\n", userStyle.Render("you   ›"), m.Text)
}

// parseCommand splits "/name arg" lines. Plain text returns an empty name.
func parseCommand(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// handle runs one input line and reports whether to quit
func (r *repl) handle(ctx context.Context, line string) bool {
	name, arg := parseCommand(line)
	switch name {
	case "":
		if arg == "" {
			return false
		}
		if !r.conv.SendText(arg) {
			r.printf("%s\n", errorStyle.Render("not connected, message kept locally"))
		}

	case "mic":
		r.toggleMic(ctx)

	case "audio":
		r.setMode(ctx, session.ModeAudio)

	case "text":
		r.setMode(ctx, session.ModeText)

	case "history":
		r.showHistory(ctx, arg)

	case "clear":
		r.conv.Reset()
		r.printf("%s\n", mutedStyle.Render("conversation cleared"))

	case "quit", "exit":
		return true

	case "help":
		r.help()

	default:
		r.printf("%s\n", errorStyle.Render("unknown command /"+name))
	}
	return false
}

func (r *repl) toggleMic(ctx context.Context) {
	if r.conv.MicOn() {
		if err := r.conv.StopMic(); err != nil {
			r.printf("%s\n", errorStyle.Render(err.Error()))
			return
		}
		r.printf("%s\n", mutedStyle.Render("microphone off"))
		return
	}

	err := r.conv.StartMic(ctx)
	switch {
	case errors.Is(err, session.ErrTextMode):
		r.printf("%s\n", errorStyle.Render("switch to /audio first"))
	case err != nil:
		r.printf("%s\n", errorStyle.Render(err.Error()))
	default:
		r.printf("%s\n", mutedStyle.Render("microphone on"))
	}
}

func (r *repl) setMode(ctx context.Context, mode session.Mode) {
	if r.conv.Mode() == mode {
		r.printf("%s\n", mutedStyle.Render("already in "+string(mode)+" mode"))
		return
	}
	if err := r.conv.SetMode(ctx, mode); err != nil {
		r.printf("%s\n", errorStyle.Render(err.Error()))
		return
	}
	r.printf("%s\n", mutedStyle.Render(string(mode)+" mode"))
}

func (r *repl) showHistory(ctx context.Context, arg string) {
	n := defaultHistoryLines
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			r.printf("%s\n", errorStyle.Render("usage: /history [count]"))
			return
		}
		n = v
	}

	page, err := r.conv.History(ctx, 0, 0)
	if err != nil {
		r.printf("%s\n", errorStyle.Render(err.Error()))
		return
	}
	if len(page) == 0 {
		r.printf("%s\n", mutedStyle.Render("no history yet"))
		return
	}
	if len(page) > n {
		page = page[len(page)-n:]
	}
	for _, m := range page {
		r.showMessage(m)
	}
}
