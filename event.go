package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// Wildcard subscribes a handler to every domain event.
const Wildcard = "*"

// Domain event types pushed by the server.
const (
	EventBillCreated        = "bill.created"
	EventConsumptionCreated = "consumption.created"
	EventPaymentCreated     = "payment.created"
	EventChoreUpdated       = "chore.updated"
	EventLoanCreated        = "loan.created"
	EventLoanPaymentCreated = "loan.payment.created"
	EventLoanDeleted        = "loan.deleted"
	EventBalanceUpdated     = "balance.updated"
	EventSupplyItemAdded    = "supply.item.added"
	EventSupplyItemBought   = "supply.item.bought"
	EventSupplyBudgetGrew   = "supply.budget.contributed"
	EventSupplyBudgetLow    = "supply.budget.low"
	EventPermissionsUpdated = "permissions.updated"
	EventConnected          = "connected" // legacy marker, never dispatched
)

// Event is a decoded domain event.
type Event struct {
	ID        string
	Type      string
	Data      json.RawMessage // the "data" member, if the payload has one
	Timestamp time.Time       // zero if absent or unparseable
	Raw       json.RawMessage // the full decoded payload
}

// Decode unmarshals the event data into v. Payloads without a "data" member
// carry their fields next to "type", so the whole payload is decoded instead.
func (e Event) Decode(v any) error {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return json.Unmarshal(e.Data, v)
	}
	if len(e.Raw) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Raw, v)
}

// decodeEvent turns the "data" member of an event frame into an Event. The
// member is either an object or a JSON-encoded string holding one.
func decodeEvent(data json.RawMessage) (Event, error) {
	if len(data) == 0 {
		return Event{}, errors.New("event frame has no data")
	}
	payload := []byte(data)
	if payload[0] == '"' {
		var encoded string
		if err := json.Unmarshal(payload, &encoded); err != nil {
			return Event{}, err
		}
		payload = []byte(encoded)
	}

	var body struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, err
	}

	ev := Event{
		ID:   body.ID,
		Type: body.Type,
		Data: body.Data,
		Raw:  json.RawMessage(payload),
	}
	if body.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, body.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}
	return ev, nil
}
