package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// wsTransport implements the transport interface on a gorilla/websocket
// connection.
type wsTransport struct {
	conn     *websocket.Conn
	handlers transportHandlers

	mu        sync.Mutex // serializes writes
	done      chan struct{}
	closeOnce sync.Once
}

// websocketDialer returns a dialFunc using d.
func websocketDialer(d *websocket.Dialer) dialFunc {
	return func(ctx context.Context, url string, h transportHandlers) (transport, error) {
		conn, resp, err := d.DialContext(ctx, url, nil)
		if err != nil {
			reason := err.Error()
			if resp != nil {
				reason = fmt.Sprintf("%s (HTTP %d)", reason, resp.StatusCode)
			}
			return nil, &ConnectionError{URL: url, Reason: reason}
		}
		return &wsTransport{
			conn:     conn,
			handlers: h,
			done:     make(chan struct{}),
		}, nil
	}
}

func newDialer(timeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
}

func (t *wsTransport) start() {
	go t.readLoop()
}

func (t *wsTransport) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return ErrNotConnected
	default:
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}

			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			t.closeOnce.Do(func() {
				close(t.done)
				t.conn.Close()
			})
			if t.handlers.onClose != nil {
				t.handlers.onClose(code, err)
			}
			return
		}

		select {
		case <-t.done:
			return
		default:
		}
		if t.handlers.onMessage != nil {
			t.handlers.onMessage(data)
		}
	}
}
