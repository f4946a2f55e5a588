package audit

import "context"

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	ListByTask(ctx context.Context, taskID string) ([]*Entry, error)
}
