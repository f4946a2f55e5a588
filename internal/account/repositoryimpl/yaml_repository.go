package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskrelay/taskrelay/internal/account"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/storage"
)

const accountsPrefix = "accounts"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", accountsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, a *account.Account) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("account", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "account already exists", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal account: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("account", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*account.Account, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("account", err)
	}
	var a account.Account
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal account: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*account.Account, error) {
	paths, err := r.storage.List(ctx, accountsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("accounts", err)
	}
	sort.Strings(paths)

	var all []*account.Account
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a account.Account
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		all = append(all, &a)
	}
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *account.Account) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("account", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "account not found", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal account: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("account", err)
	}
	return nil
}
