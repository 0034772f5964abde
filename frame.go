package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame types on the wire.
const (
	frameAuth          = "auth"
	frameAuthenticated = "authenticated"
	frameError         = "error"
	frameEvent         = "event"
	frameHeartbeat     = "heartbeat"
)

type frameKind int

const (
	kindUnknown frameKind = iota
	kindAuthAck
	kindError
	kindEvent
	kindHeartbeat
)

// authMessage is sent right after the transport opens.
type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func newAuthMessage(token string) authMessage {
	return authMessage{Type: frameAuth, Token: token}
}

// inboundFrame is the envelope of every server message.
type inboundFrame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

func parseFrame(data []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse frame: %w", err)
	}
	return f, nil
}

func (f inboundFrame) kind() frameKind {
	switch f.Type {
	case frameAuthenticated:
		return kindAuthAck
	case frameError:
		return kindError
	case frameEvent:
		return kindEvent
	case frameHeartbeat:
		return kindHeartbeat
	}
	return kindUnknown
}

// serverError extracts the error carried by an error frame. The server sends
// either a bare string in "data" or an object with code and message; a
// top-level code/message pair is accepted as well.
func (f inboundFrame) serverError() *ServerError {
	se := &ServerError{Code: f.Code, Message: f.Message}
	if len(f.Data) > 0 {
		var text string
		if err := json.Unmarshal(f.Data, &text); err == nil {
			if se.Message == "" {
				se.Message = text
			}
		} else {
			var obj struct {
				Code    string `json:"code"`
				Message string `json:"message"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(f.Data, &obj); err == nil {
				if se.Code == "" {
					se.Code = obj.Code
				}
				if se.Message == "" {
					se.Message = obj.Message
				}
				if se.Message == "" {
					se.Message = obj.Error
				}
			}
		}
	}
	if se.Message == "" {
		se.Message = "unknown error"
	}
	return se
}

var tokenErrorCodes = map[string]struct{}{
	"token_expired": {},
	"token_invalid": {},
	"invalid_token": {},
	"unauthorized":  {},
}

// isTokenError prefers the structured code and falls back to matching the
// message text, which is all older servers send.
func isTokenError(se *ServerError) bool {
	if se == nil {
		return false
	}
	if se.Code != "" {
		_, ok := tokenErrorCodes[strings.ToLower(se.Code)]
		return ok
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "token") || strings.Contains(msg, "expired")
}
