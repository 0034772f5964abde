package realtime

import "context"

// transport is the internal interface for one connection to the event server.
// The WebSocket implementation lives in websocket.go.
type transport interface {
	// start begins delivering inbound frames and the close notification.
	start()

	// send writes v as a JSON text frame.
	send(v any) error

	// close sends a close frame with code and tears the connection down.
	// No callbacks are delivered after close.
	close(code int, reason string) error
}

// transportHandlers receive the inbound side of a transport. Both run on the
// transport's reader goroutine.
type transportHandlers struct {
	// onMessage is called for every text or binary frame.
	onMessage func(data []byte)

	// onClose is called once when the connection ends without close having
	// been called. code is the peer's close code, or 1006 when the
	// connection broke without one.
	onClose func(code int, err error)
}

// dialFunc opens a transport to url.
type dialFunc func(ctx context.Context, url string, h transportHandlers) (transport, error)
