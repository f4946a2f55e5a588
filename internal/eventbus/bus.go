package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventTaskCreated            EventType = "task.created"
	EventTaskUpdated            EventType = "task.updated"
	EventTaskStatusChanged      EventType = "task.status_changed"
	EventTaskAssigned           EventType = "task.assigned"
	EventTaskArchived           EventType = "task.archived"
	EventTaskDeleted            EventType = "task.deleted"
	EventMessageCreated         EventType = "message.created"
	EventAgentUpdated           EventType = "agent.updated"
	EventNotificationCreated    EventType = "notification.created"
	EventNotificationDispatched EventType = "notification.dispatched"
	EventNotificationDelivered  EventType = "notification.delivered"
)

type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	AccountID  string            `json:"account_id"`
	ResourceID string            `json:"resource_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, accountID, resourceID string, metadata map[string]string) {
	b.Publish(&Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		AccountID:  accountID,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}
