package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for client state.
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrMaxAttempts        = errors.New("max reconnect attempts reached")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotConnected       = errors.New("client is not connected")
	ErrClientClosed       = errors.New("client is closed")
	ErrRefreshUnsupported = errors.New("token source cannot refresh")
)

// ServerError is an error frame reported by the event server.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error [%s]: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// ConnectionError represents a failure to open or keep the event connection.
type ConnectionError struct {
	URL    string
	Reason string
	Code   int // close code, 0 if the transport failed without one
}

func (e *ConnectionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("connection error [%s] (code %d): %s", e.URL, e.Code, e.Reason)
	}
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

// ErrorKind classifies client errors.
type ErrorKind int

const (
	KindMissingCredentials ErrorKind = iota // no token, connect aborted
	KindTransport                           // dial failure, transport error or unexpected close
	KindTokenRejected                       // server reported a token error, refresh in progress
	KindServerError                         // server reported a non-token error
	KindMalformedFrame                      // inbound frame could not be decoded
	KindMaxAttempts                         // reconnect ceiling reached
	KindSessionExpired                      // token refresh failed
	KindHandlerFailure                      // handler returned an error or panicked
)

var errorKindNames = [...]string{
	KindMissingCredentials: "MissingCredentials",
	KindTransport:          "Transport",
	KindTokenRejected:      "TokenRejected",
	KindServerError:        "ServerError",
	KindMalformedFrame:     "MalformedFrame",
	KindMaxAttempts:        "MaxAttempts",
	KindSessionExpired:     "SessionExpired",
	KindHandlerFailure:     "HandlerFailure",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Terminal reports whether the kind stops automatic recovery.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindMissingCredentials, KindMaxAttempts, KindSessionExpired:
		return true
	}
	return false
}

// ClientError is the value recorded in the client's error slot and passed to
// the ErrorHandler.
type ClientError struct {
	Kind      ErrorKind
	EventType string // domain event type, for handler failures
	Cause     error
	Raw       []byte // raw frame, for malformed frames
	Timestamp time.Time
}

func newClientError(kind ErrorKind, cause error) *ClientError {
	return &ClientError{Kind: kind, Cause: cause, Timestamp: time.Now()}
}

func (e *ClientError) Error() string {
	if e.EventType != "" {
		return fmt.Sprintf("%s: %v (type=%s)", e.Kind, e.Cause, e.EventType)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorHandler observes every client error, including handler failures,
// which are only logged.
type ErrorHandler func(ClientError)

// LogErrors returns an ErrorHandler that logs all client errors to logger.
func LogErrors(logger logrus.FieldLogger) ErrorHandler {
	return func(e ClientError) {
		entry := logger.WithFields(logrus.Fields{
			"kind": e.Kind.String(),
		})
		if e.EventType != "" {
			entry = entry.WithField("type", e.EventType)
		}
		entry.WithError(e.Cause).Error("realtime client error")
	}
}
