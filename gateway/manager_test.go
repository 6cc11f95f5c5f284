package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/room4-2/ConverseLive/config"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/messages"
)

type created struct {
	session *Session
	err     error
}

// serve upgrades every request and hands the socket to the manager
func serve(t *testing.T, m *Manager) (string, <-chan created) {
	t.Helper()
	out := make(chan created, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s, err := m.CreateSession(r.Context(), conn, "user-1", false)
		if err != nil {
			conn.Close()
		} else {
			s.Start()
		}
		out <- created{s, err}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), out
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, ch <-chan created) created {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session")
		return created{}
	}
}

func testConfig(redisAddr string) *config.Config {
	cfg := config.Default()
	cfg.RedisURL = redisAddr
	cfg.MaxSessions = 1
	cfg.KeepAlivePeriod = 0
	return cfg
}

func TestManagerTracksSessionsInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewManager(testConfig(mr.Addr()), EchoFactory, nil, zaptest.NewLogger(t))
	defer m.Shutdown()

	url, sessions := serve(t, m)
	dial(t, url)
	c := next(t, sessions)
	if c.err != nil {
		t.Fatalf("CreateSession: %v", c.err)
	}

	if !mr.Exists("session:" + c.session.ID) {
		t.Fatal("session hash missing")
	}
	if ok, _ := mr.SIsMember("active_sessions", c.session.ID); !ok {
		t.Fatal("session not in active_sessions")
	}
	if got := mr.HGet("session:"+c.session.ID, "user_id"); got != "user-1" {
		t.Fatalf("user_id = %q", got)
	}

	dial(t, url)
	if c2 := next(t, sessions); !errors.Is(c2.err, ErrTooManySessions) {
		t.Fatalf("second session err = %v, want ErrTooManySessions", c2.err)
	}

	if err := m.RemoveSession(context.Background(), c.session.ID); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if mr.Exists("session:" + c.session.ID) {
		t.Fatal("session hash survived removal")
	}
	if m.GetActiveSessionCount() != 0 {
		t.Fatalf("count = %d", m.GetActiveSessionCount())
	}
}

func TestManagerWorksWithoutRedis(t *testing.T) {
	m := NewManager(testConfig(""), EchoFactory, nil, zaptest.NewLogger(t))
	defer m.Shutdown()

	url, sessions := serve(t, m)
	dial(t, url)
	if c := next(t, sessions); c.err != nil {
		t.Fatalf("CreateSession: %v", c.err)
	}
	if m.GetActiveSessionCount() != 1 {
		t.Fatalf("count = %d", m.GetActiveSessionCount())
	}
}

func TestCleanupRemovesInactiveSessions(t *testing.T) {
	cfg := testConfig("")
	cfg.SessionTimeout = 10 * time.Millisecond
	m := NewManager(cfg, EchoFactory, nil, zaptest.NewLogger(t))
	defer m.Shutdown()

	url, sessions := serve(t, m)
	dial(t, url)
	c := next(t, sessions)
	if c.err != nil {
		t.Fatalf("CreateSession: %v", c.err)
	}

	time.Sleep(30 * time.Millisecond)
	if n := m.CleanupInactiveSessions(context.Background()); n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if !c.session.IsClosed() {
		t.Fatal("session not closed")
	}
}

func TestSessionEchoesAndRecordsHistory(t *testing.T) {
	store := history.NewMemoryStore()
	m := NewManager(testConfig(""), EchoFactory, store, zaptest.NewLogger(t))
	defer m.Shutdown()

	url, sessions := serve(t, m)
	conn := dial(t, url)
	c := next(t, sessions)
	if c.err != nil {
		t.Fatalf("CreateSession: %v", c.err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"mime_type":"text/plain","data":"hi you"}`)); err != nil {
		t.Fatal(err)
	}

	var got []messages.WireMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 3 {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		msg, err := messages.Decode(frame)
		if err != nil {
			t.Fatalf("Decode %s: %v", frame, err)
		}
		got = append(got, msg)
	}
	if got[0].Data != "hi " || got[1].Data != "you" || !got[2].TurnComplete {
		t.Fatalf("frames = %+v", got)
	}

	m.RemoveSession(context.Background(), c.session.ID)

	page, err := store.Page(context.Background(), "user-1", 0, 0)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page) != 2 || page[0].Text != "hi you" || page[1].Text != "hi you" || page[0].Role == page[1].Role {
		t.Fatalf("history = %+v", page)
	}
}
