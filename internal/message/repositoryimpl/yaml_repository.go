package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskrelay/taskrelay/internal/message"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/storage"
)

const messagesPrefix = "messages"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", messagesPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, m *message.Message) error {
	exists, err := r.storage.Exists(ctx, path(m.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("message", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "message already exists", nil)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal message: %w", err))
	}
	if err := r.storage.Write(ctx, path(m.ID), data); err != nil {
		return cerr.WrapStorageWriteError("message", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*message.Message, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("message", err)
	}
	var m message.Message
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal message: %w", err))
	}
	return &m, nil
}

func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]*message.Message, error) {
	all, err := r.scanTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		// keep the newest messages
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *YAMLRepository) LatestByAuthor(ctx context.Context, taskID string, authorType message.AuthorType, authorID string) (*message.Message, error) {
	all, err := r.scanTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].AuthorType == authorType && all[i].AuthorID == authorID {
			return all[i], nil
		}
	}
	return nil, nil
}

func (r *YAMLRepository) DeleteByTask(ctx context.Context, taskID string) error {
	all, err := r.scanTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, m := range all {
		if err := r.storage.Delete(ctx, path(m.ID)); err != nil {
			return cerr.WrapStorageDeleteError("message", err)
		}
	}
	return nil
}

// scanTask returns the task's messages oldest first (ULID names sort by time).
func (r *YAMLRepository) scanTask(ctx context.Context, taskID string) ([]*message.Message, error) {
	paths, err := r.storage.List(ctx, messagesPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("messages", err)
	}
	sort.Strings(paths)

	var all []*message.Message
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var m message.Message
		if err := yaml.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.TaskID != taskID {
			continue
		}
		all = append(all, &m)
	}
	return all, nil
}
