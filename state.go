package realtime

import "fmt"

// ConnectionState is the client's position in its connect/auth lifecycle.
type ConnectionState int

const (
	StateDisconnected  ConnectionState = iota // idle, or waiting for a reconnect timer
	StateConnecting                           // dialing
	StateTransportOpen                        // dialed, auth message sent
	StateAuthenticated                        // auth acknowledged, events flowing
	StateClosed                               // Close was called
)

var stateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateTransportOpen: "transport-open",
	StateAuthenticated: "authenticated",
	StateClosed:        "closed",
}

func (s ConnectionState) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ConnectionState(%d)", s)
}
