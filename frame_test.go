package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Kinds(t *testing.T) {
	tests := []struct {
		raw  string
		want frameKind
	}{
		{`{"type":"authenticated"}`, kindAuthAck},
		{`{"type":"error","data":"bad"}`, kindError},
		{`{"type":"event","data":{}}`, kindEvent},
		{`{"type":"heartbeat"}`, kindHeartbeat},
		{`{"type":"presence"}`, kindUnknown},
		{`{}`, kindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			f, err := parseFrame([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.kind())
		})
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	_, err := parseFrame([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestAuthMessage_Wire(t *testing.T) {
	data, err := json.Marshal(newAuthMessage("abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"auth","token":"abc"}`, string(data))
}

func TestServerError_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode string
		wantMsg  string
	}{
		{"string data", `{"type":"error","data":"Token expired"}`, "", "Token expired"},
		{"object data", `{"type":"error","data":{"code":"token_invalid","message":"bad signature"}}`, "token_invalid", "bad signature"},
		{"object error field", `{"type":"error","data":{"error":"nope"}}`, "", "nope"},
		{"top level", `{"type":"error","code":"unauthorized","message":"who are you"}`, "unauthorized", "who are you"},
		{"empty", `{"type":"error"}`, "", "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFrame([]byte(tt.raw))
			require.NoError(t, err)
			se := f.serverError()
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.wantMsg, se.Message)
		})
	}
}

func TestIsTokenError(t *testing.T) {
	tests := []struct {
		name string
		err  *ServerError
		want bool
	}{
		{"nil", nil, false},
		{"expired code", &ServerError{Code: "token_expired"}, true},
		{"code is case insensitive", &ServerError{Code: "Unauthorized"}, true},
		{"other code wins over message", &ServerError{Code: "forbidden", Message: "token scope"}, false},
		{"message mentions token", &ServerError{Message: "Invalid token"}, true},
		{"message mentions expired", &ServerError{Message: "Session EXPIRED"}, true},
		{"unrelated message", &ServerError{Message: "rate limited"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTokenError(tt.err))
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		ev, err := decodeEvent(json.RawMessage(`{"id":"1","type":"bill.created","data":{"amount":10},"timestamp":"2026-03-01T10:00:00.123Z"}`))
		require.NoError(t, err)
		assert.Equal(t, "1", ev.ID)
		assert.Equal(t, EventBillCreated, ev.Type)
		assert.JSONEq(t, `{"amount":10}`, string(ev.Data))
		assert.Equal(t, 123000000, ev.Timestamp.Nanosecond())
	})

	t.Run("string encoded", func(t *testing.T) {
		ev, err := decodeEvent(json.RawMessage(`"{\"type\":\"chore.updated\",\"data\":{\"done\":true}}"`))
		require.NoError(t, err)
		assert.Equal(t, EventChoreUpdated, ev.Type)
		assert.JSONEq(t, `{"done":true}`, string(ev.Data))
	})

	t.Run("bad timestamp is ignored", func(t *testing.T) {
		ev, err := decodeEvent(json.RawMessage(`{"type":"loan.deleted","timestamp":"yesterday"}`))
		require.NoError(t, err)
		assert.True(t, ev.Timestamp.IsZero())
	})

	t.Run("no type", func(t *testing.T) {
		ev, err := decodeEvent(json.RawMessage(`{"id":"1"}`))
		require.NoError(t, err)
		assert.Empty(t, ev.Type)
	})

	t.Run("errors", func(t *testing.T) {
		for _, raw := range []string{``, `12`, `"not json"`, `[1,2]`} {
			_, err := decodeEvent(json.RawMessage(raw))
			assert.Error(t, err, raw)
		}
	})
}

func TestEvent_DecodeWithoutPayload(t *testing.T) {
	var v map[string]any
	assert.Error(t, Event{Type: EventBillCreated}.Decode(&v))
}
