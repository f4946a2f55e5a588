package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskrelay/taskrelay/internal/agent"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/storage"
)

const agentsPrefix = "agents"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", agentsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, a *agent.Agent) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "agent already exists", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal agent: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*agent.Agent, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("agent", err)
	}
	var a agent.Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal agent: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) List(ctx context.Context, accountID string) ([]*agent.Agent, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	var agents []*agent.Agent
	for _, a := range all {
		if accountID != "" && a.AccountID != accountID {
			continue
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func (r *YAMLRepository) GetBySlug(ctx context.Context, accountID, slug string) (*agent.Agent, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.AccountID == accountID && a.Slug == slug {
			return a, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("agent %q not found", slug), nil)
}

func (r *YAMLRepository) GetByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error) {
	if apiKey == "" {
		return nil, cerr.NewError(cerr.Unauthenticated, "missing agent key", nil)
	}
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.APIKey == apiKey {
			return a, nil
		}
	}
	return nil, cerr.NewError(cerr.Unauthenticated, "unknown agent key", nil)
}

func (r *YAMLRepository) Update(ctx context.Context, a *agent.Agent) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "agent not found", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal agent: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	return nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("agent", err)
	}
	return nil
}

func (r *YAMLRepository) scan(ctx context.Context) ([]*agent.Agent, error) {
	paths, err := r.storage.List(ctx, agentsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("agents", err)
	}
	sort.Strings(paths)

	var all []*agent.Agent
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a agent.Agent
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		all = append(all, &a)
	}
	return all, nil
}
