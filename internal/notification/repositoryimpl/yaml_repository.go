package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskrelay/taskrelay/internal/notification"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/storage"
)

// Prefix is the storage directory holding notification documents. Exported so
// the delivery runner can watch it for writes from other processes.
const Prefix = "notifications"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", Prefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, n *notification.Notification) error {
	exists, err := r.storage.Exists(ctx, path(n.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "notification already exists", nil)
	}
	data, err := yaml.Marshal(n)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	if err := r.storage.Write(ctx, path(n.ID), data); err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*notification.Notification, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("notification", err)
	}
	var n notification.Notification
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal notification: %w", err))
	}
	return &n, nil
}

func (r *YAMLRepository) ListUndelivered(ctx context.Context, accountID string, limit int) ([]*notification.Notification, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	var page []*notification.Notification
	for _, n := range all {
		if n.AccountID != accountID || n.Delivered() {
			continue
		}
		page = append(page, n)
		if limit > 0 && len(page) >= limit {
			break
		}
	}
	return page, nil
}

func (r *YAMLRepository) LatestResponseRequest(ctx context.Context, accountID, taskID, recipientID string) (*notification.Notification, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		n := all[i]
		if n.AccountID == accountID &&
			n.Type == notification.TypeResponseRequest &&
			n.TaskID == taskID &&
			n.RecipientID == recipientID {
			return n, nil
		}
	}
	return nil, nil
}

func (r *YAMLRepository) Update(ctx context.Context, n *notification.Notification) error {
	exists, err := r.storage.Exists(ctx, path(n.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "notification not found", nil)
	}
	data, err := yaml.Marshal(n)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	if err := r.storage.Write(ctx, path(n.ID), data); err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	return nil
}

func (r *YAMLRepository) DeleteByTask(ctx context.Context, taskID string) error {
	all, err := r.scan(ctx)
	if err != nil {
		return err
	}
	for _, n := range all {
		if n.TaskID != taskID {
			continue
		}
		if err := r.storage.Delete(ctx, path(n.ID)); err != nil {
			return cerr.WrapStorageDeleteError("notification", err)
		}
	}
	return nil
}

// scan returns all notifications oldest first (ULID names sort by time).
func (r *YAMLRepository) scan(ctx context.Context) ([]*notification.Notification, error) {
	paths, err := r.storage.List(ctx, Prefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("notifications", err)
	}
	sort.Strings(paths)

	var all []*notification.Notification
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var n notification.Notification
		if err := yaml.Unmarshal(data, &n); err != nil {
			continue
		}
		all = append(all, &n)
	}
	return all, nil
}
