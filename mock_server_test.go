package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// clientFrame is what the client sends to the server.
type clientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// mockEventServer simulates the API's /ws/events endpoint.
type mockEventServer struct {
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conn       *websocket.Conn
	received   []clientFrame
	paths      []string
	open       int
	accepted   int
	closeCodes []int
	onMsg      func(s *mockEventServer, msg clientFrame)
}

func newMockServer() *mockEventServer {
	return &mockEventServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *mockEventServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.open++
	s.accepted++
	s.paths = append(s.paths, r.URL.Path)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.mu.Lock()
				s.closeCodes = append(s.closeCodes, ce.Code)
				s.mu.Unlock()
			}
			return
		}
		var msg clientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, msg)
		handler := s.onMsg
		s.mu.Unlock()

		if handler != nil {
			handler(s, msg)
		}
	}
}

func (s *mockEventServer) setOnMsg(fn func(s *mockEventServer, msg clientFrame)) {
	s.mu.Lock()
	s.onMsg = fn
	s.mu.Unlock()
}

func (s *mockEventServer) sendToClient(v any) {
	data, _ := json.Marshal(v)
	s.sendRaw(string(data))
}

func (s *mockEventServer) sendRaw(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.TextMessage, []byte(data))
	}
}

// closeClient ends the latest connection with the given close code.
func (s *mockEventServer) closeClient(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		msg := websocket.FormatCloseMessage(code, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.conn.Close()
		s.conn = nil
	}
}

func (s *mockEventServer) getReceived() []clientFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]clientFrame, len(s.received))
	copy(cp, s.received)
	return cp
}

func (s *mockEventServer) openConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *mockEventServer) acceptedConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *mockEventServer) getCloseCodes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.closeCodes...)
}

// ackAuth acknowledges every auth message.
func ackAuth(s *mockEventServer, msg clientFrame) {
	if msg.Type == "auth" {
		s.sendToClient(map[string]string{"type": "authenticated"})
	}
}

// closeOnAuth answers every auth message by closing with code.
func closeOnAuth(code int) func(s *mockEventServer, msg clientFrame) {
	return func(s *mockEventServer, msg clientFrame) {
		if msg.Type == "auth" {
			s.closeClient(code)
		}
	}
}

func setupMockServer(t *testing.T, onMsg func(s *mockEventServer, msg clientFrame)) (*mockEventServer, string) {
	t.Helper()
	mock := newMockServer()
	mock.onMsg = onMsg
	server := httptest.NewServer(http.HandlerFunc(mock.handler))
	t.Cleanup(server.Close)
	return mock, server.URL + "/api"
}

// fakeScheduler records reconnect delays instead of sleeping.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	fns     []func()
	stopped []bool
}

type fakeTimer struct {
	s   *fakeScheduler
	idx int
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.s.stopped[t.idx]
	t.s.stopped[t.idx] = true
	return was
}

func (f *fakeScheduler) schedule(d time.Duration, fn func()) timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	f.stopped = append(f.stopped, false)
	return &fakeTimer{s: f, idx: len(f.fns) - 1}
}

// fire runs the i-th scheduled callback, as the timer would.
func (f *fakeScheduler) fire(i int) {
	f.mu.Lock()
	fn := f.fns[i]
	f.stopped[i] = true
	f.mu.Unlock()
	fn()
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

func (f *fakeScheduler) getDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func (f *fakeScheduler) isStopped(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[i]
}

// fakeTokens is a TokenSource whose refresh outcome is scripted.
type fakeTokens struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		f.token = ""
		return f.refreshErr
	}
	f.token = f.next
	return nil
}

func (f *fakeTokens) setToken(tok string) {
	f.mu.Lock()
	f.token = tok
	f.mu.Unlock()
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, apiURL string, tokens TokenSource, sched *fakeScheduler, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithLogger(discardLogger()), withScheduler(sched.schedule)}
	client, err := NewClient(Config{APIURL: apiURL, HandshakeTimeout: 2 * time.Second}, tokens, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
