package pushsubscription

import "context"

type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	ListByUser(ctx context.Context, accountID, userID string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
}
