package notification

import (
	"errors"
	"time"
)

type Type string

const (
	TypeAssignment      Type = "assignment"
	TypeStatusChange    Type = "status_change"
	TypeResponseRequest Type = "response_request"
	TypeMention         Type = "mention"
)

type RecipientType string

const (
	RecipientUser  RecipientType = "user"
	RecipientAgent RecipientType = "agent"
)

// Notification is a single delivery unit for exactly one recipient. The
// delivery runtime drives the read/delivered/delivery-ended timestamps; see
// Service for the transition rules.
type Notification struct {
	ID            string        `yaml:"id" json:"id"`
	AccountID     string        `yaml:"account_id" json:"account_id"`
	Type          Type          `yaml:"type" json:"type"`
	RecipientType RecipientType `yaml:"recipient_type" json:"recipient_type"`
	RecipientID   string        `yaml:"recipient_id" json:"recipient_id"`
	// ActorType and ActorID identify who caused the notification.
	ActorType string    `yaml:"actor_type,omitempty" json:"actor_type,omitempty"`
	ActorID   string    `yaml:"actor_id,omitempty" json:"actor_id,omitempty"`
	TaskID    string    `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	MessageID string    `yaml:"message_id,omitempty" json:"message_id,omitempty"`
	Title     string    `yaml:"title" json:"title"`
	Body      string    `yaml:"body" json:"body"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	// ReadAt marks the delivery runtime claiming the notification. It may be
	// restamped by a new attempt after a prior DeliveryEndedAt.
	ReadAt *time.Time `yaml:"read_at,omitempty" json:"read_at,omitempty"`
	// DeliveredAt is terminal: once set it is never cleared.
	DeliveredAt *time.Time `yaml:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	// DeliveryEndedAt records an attempt that stopped without success; the
	// notification stays undelivered and eligible for retry.
	DeliveryEndedAt *time.Time `yaml:"delivery_ended_at,omitempty" json:"delivery_ended_at,omitempty"`
}

func (n *Notification) Delivered() bool {
	return n.DeliveredAt != nil
}

// Read stamps ReadAt. Reading again is a no-op unless a prior attempt ended
// without delivery; then DeliveryEndedAt is cleared and ReadAt restamped so
// the new attempt is visible. Reports whether the notification changed.
func (n *Notification) Read(now time.Time) bool {
	if n.ReadAt != nil && n.DeliveryEndedAt == nil {
		return false
	}
	n.ReadAt = &now
	n.DeliveryEndedAt = nil
	return true
}

// Deliver stamps DeliveredAt. Delivery is terminal: once set it never
// changes. Reports whether the notification changed.
func (n *Notification) Deliver(now time.Time) bool {
	if n.DeliveredAt != nil {
		return false
	}
	n.DeliveredAt = &now
	n.DeliveryEndedAt = nil
	return true
}

// EndDelivery records an attempt that stopped without success. Valid only
// after a read and before delivery.
func (n *Notification) EndDelivery(now time.Time) error {
	if n.DeliveredAt != nil {
		return errors.New("notification already delivered")
	}
	if n.ReadAt == nil {
		return errors.New("notification has not been read")
	}
	n.DeliveryEndedAt = &now
	return nil
}
