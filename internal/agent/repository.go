package agent

import "context"

type Repository interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context, accountID string) ([]*Agent, error)
	GetBySlug(ctx context.Context, accountID, slug string) (*Agent, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Agent, error)
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id string) error
}
