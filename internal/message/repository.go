package message

import "context"

type Repository interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	ListByTask(ctx context.Context, taskID string, limit int) ([]*Message, error)
	// LatestByAuthor returns the newest message on the task written by the
	// given author, or nil when the author has not posted.
	LatestByAuthor(ctx context.Context, taskID string, authorType AuthorType, authorID string) (*Message, error)
	DeleteByTask(ctx context.Context, taskID string) error
}
