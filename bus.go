package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Data-sync topics shared between application components.
const (
	TopicUserUpdated               = "user:updated"
	TopicUserCreated               = "user:created"
	TopicUserDeleted               = "user:deleted"
	TopicGroupUpdated              = "group:updated"
	TopicGroupCreated              = "group:created"
	TopicGroupDeleted              = "group:deleted"
	TopicChoreCreated              = "chore:created"
	TopicChoreUpdated              = "chore:updated"
	TopicChoreDeleted              = "chore:deleted"
	TopicChoreAssigned             = "chore:assigned"
	TopicChoreAssignmentUpdated    = "chore_assignment:updated"
	TopicBillCreated               = "bill:created"
	TopicBillUpdated               = "bill:updated"
	TopicBillDeleted               = "bill:deleted"
	TopicConsumptionCreated        = "consumption:created"
	TopicConsumptionDeleted        = "consumption:deleted"
	TopicLoanCreated               = "loan:created"
	TopicLoanDeleted               = "loan:deleted"
	TopicLoanPaymentCreated        = "loan_payment:created"
	TopicSupplyItemCreated         = "supply_item:created"
	TopicSupplyItemUpdated         = "supply_item:updated"
	TopicSupplyItemDeleted         = "supply_item:deleted"
	TopicSupplyContributionCreated = "supply_contribution:created"
)

// Bus is a publish/subscribe registry for synchronizing application
// components. Create one at startup and pass it to the components that need
// it.
type Bus struct {
	registry *handlerRegistry
	logger   logrus.FieldLogger
}

// NewBus creates an empty Bus. A nil logger selects the logrus standard logger.
func NewBus(logger logrus.FieldLogger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		registry: newHandlerRegistry(),
		logger:   logger.WithField("component", "bus"),
	}
}

// On subscribes fn to topic. Use Wildcard to receive every topic.
func (b *Bus) On(topic string, fn HandlerFunc) Subscription {
	return b.registry.add(topic, fn)
}

// Off removes a subscription. Unknown subscriptions are ignored.
func (b *Bus) Off(sub Subscription) {
	b.registry.remove(sub)
}

// Emit delivers data to the subscribers of topic synchronously. The data is
// marshalled once into the Event's Data field; an Event value is forwarded
// as-is under the given topic.
func (b *Bus) Emit(topic string, data any) {
	ev, err := busEvent(topic, data)
	if err != nil {
		b.logger.WithError(err).WithField("topic", topic).Warn("dropping unencodable bus payload")
		return
	}
	for _, err := range b.registry.dispatch(ev) {
		b.logger.WithError(err).WithField("topic", topic).Error("bus handler failed")
	}
}

// Forward is a HandlerFunc that re-emits a client event on the bus under its
// own type.
func (b *Bus) Forward(ev Event) error {
	b.Emit(ev.Type, ev)
	return nil
}

// Close drops all subscriptions.
func (b *Bus) Close() {
	b.registry.clear()
}

// Scope returns a subscription group that can be released in one call, for
// components whose lifetime is shorter than the bus.
func (b *Bus) Scope() *Scope {
	return NewScope(b)
}

func busEvent(topic string, data any) (Event, error) {
	if ev, ok := data.(Event); ok {
		ev.Type = topic
		return ev, nil
	}
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{Type: topic, Data: raw}, nil
}

// Subscriber is implemented by Client and Bus.
type Subscriber interface {
	On(eventType string, fn HandlerFunc) Subscription
	Off(sub Subscription)
}

// Scope records subscriptions made through it and removes them all on
// Release.
type Scope struct {
	target Subscriber

	mu   sync.Mutex
	subs []Subscription
}

// NewScope creates a Scope over target.
func NewScope(target Subscriber) *Scope {
	return &Scope{target: target}
}

// On subscribes through the scope.
func (s *Scope) On(eventType string, fn HandlerFunc) Subscription {
	sub := s.target.On(eventType, fn)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

// Off removes one subscription made through the scope.
func (s *Scope) Off(sub Subscription) {
	s.mu.Lock()
	for i, have := range s.subs {
		if have == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.target.Off(sub)
}

// Release removes every subscription still held by the scope.
func (s *Scope) Release() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.target.Off(sub)
	}
}
