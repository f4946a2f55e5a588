package notification

import "context"

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	// ListUndelivered returns undelivered notifications for the account,
	// oldest first, at most limit entries.
	ListUndelivered(ctx context.Context, accountID string, limit int) ([]*Notification, error)
	// LatestResponseRequest returns the newest response_request notification
	// targeting the recipient on the task, or nil when none exists.
	LatestResponseRequest(ctx context.Context, accountID, taskID, recipientID string) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	DeleteByTask(ctx context.Context, taskID string) error
}
