package realtime

import (
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer, e.g. to set TLS options or a
// proxy. Config.HandshakeTimeout is ignored when a dialer is given.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = websocketDialer(d)
		}
	}
}

// WithReconnectPolicy overrides the backoff parameters. Zero fields keep
// their defaults.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) {
		c.policy = p.withDefaults()
	}
}

// WithErrorHandler observes every error, including handler failures that
// never reach the error slot.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *Client) {
		c.onError = fn
	}
}

// WithStateHandler is called after every state transition. Calls never
// overlap and arrive in transition order; a transition made from inside the
// handler is delivered after it returns.
func WithStateHandler(fn func(ConnectionState)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

func withScheduler(s scheduleFunc) Option {
	return func(c *Client) {
		c.schedule = s
	}
}

func withDialFunc(d dialFunc) Option {
	return func(c *Client) {
		c.dial = d
	}
}
