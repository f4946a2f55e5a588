package notification_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/taskrelay/internal/account"
	accountrepo "github.com/taskrelay/taskrelay/internal/account/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/agent"
	agentrepo "github.com/taskrelay/taskrelay/internal/agent/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	messagerepo "github.com/taskrelay/taskrelay/internal/message/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/notification"
	notificationrepo "github.com/taskrelay/taskrelay/internal/notification/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/task"
	taskrepo "github.com/taskrelay/taskrelay/internal/task/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/workflow"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/storage"
)

type svcFixture struct {
	service  *notification.Service
	repo     notification.Repository
	accounts account.Repository
	agents   agent.Repository
	tasks    task.Repository
	messages *messagerepo.YAMLRepository
	account  *account.Account
	task     *task.Task
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	repo := notificationrepo.NewYAMLRepository(store)
	accounts := accountrepo.NewYAMLRepository(store)
	agents := agentrepo.NewYAMLRepository(store)
	tasks := taskrepo.NewYAMLRepository(store)
	messages := messagerepo.NewYAMLRepository(store)

	acc := &account.Account{ID: "acc1", Name: "Test", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, accounts.Create(context.Background(), acc))

	tk := &task.Task{
		ID:        ulid.Make().String(),
		AccountID: acc.ID,
		Title:     "test task",
		Status:    workflow.StatusInProgress,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, tasks.Create(context.Background(), tk))

	svc := notification.NewService(repo, tasks, agents, accounts, messages, eventbus.New(), 0)
	return &svcFixture{
		service:  svc,
		repo:     repo,
		accounts: accounts,
		agents:   agents,
		tasks:    tasks,
		messages: messages,
		account:  acc,
		task:     tk,
	}
}

func (f *svcFixture) addAgent(t *testing.T, slug string) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		ID:        ulid.Make().String(),
		AccountID: f.account.ID,
		Name:      slug,
		Slug:      slug,
		Role:      "backend developer",
		Status:    agent.StatusOnline,
		APIKey:    "key-" + slug,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.agents.Create(context.Background(), a))
	return a
}

func TestCreateResponseRequests(t *testing.T) {
	ctx := context.Background()
	user := &auth.Caller{Type: auth.CallerUser, AccountID: "acc1", UserID: "u1"}

	t.Run("creates a thread message and one request per recipient", func(t *testing.T) {
		f := newSvcFixture(t)
		f.addAgent(t, "backend")
		f.addAgent(t, "frontend")

		res, err := f.service.CreateResponseRequests(ctx, user, f.task.ID, []string{"backend", "frontend"}, "please review the API shape")
		require.NoError(t, err)
		require.Len(t, res.Notifications, 2)
		require.Empty(t, res.SkippedSlugs)
		require.NotNil(t, res.Message)
		require.Equal(t, "please review the API shape", res.Message.Body)

		for _, n := range res.Notifications {
			require.Equal(t, notification.TypeResponseRequest, n.Type)
			require.Equal(t, notification.RecipientAgent, n.RecipientType)
			require.Equal(t, res.Message.ID, n.MessageID)
		}
	})

	t.Run("one unknown slug fails the whole batch", func(t *testing.T) {
		f := newSvcFixture(t)
		f.addAgent(t, "backend")

		_, err := f.service.CreateResponseRequests(ctx, user, f.task.ID, []string{"backend", "nobody"}, "hello")
		require.True(t, cerr.IsCode(err, cerr.NotFound))

		undelivered, err := f.repo.ListUndelivered(ctx, "acc1", 10)
		require.NoError(t, err)
		require.Empty(t, undelivered)
	})

	t.Run("self recipient is skipped, not an error", func(t *testing.T) {
		f := newSvcFixture(t)
		orch := f.addAgent(t, "orchestrator")
		f.addAgent(t, "backend")
		f.account.OrchestratorAgentID = orch.ID
		require.NoError(t, f.accounts.Update(ctx, f.account))

		caller := &auth.Caller{Type: auth.CallerAgent, AccountID: "acc1", AgentID: orch.ID}
		res, err := f.service.CreateResponseRequests(ctx, caller, f.task.ID, []string{"orchestrator", "backend"}, "status?")
		require.NoError(t, err)
		require.Equal(t, []string{"orchestrator"}, res.SkippedSlugs)
		require.Len(t, res.Notifications, 1)
	})

	t.Run("undelivered prior request suppresses a retry", func(t *testing.T) {
		f := newSvcFixture(t)
		backend := f.addAgent(t, "backend")

		first, err := f.service.CreateResponseRequests(ctx, user, f.task.ID, []string{"backend"}, "first ask")
		require.NoError(t, err)
		require.Len(t, first.Notifications, 1)

		second, err := f.service.CreateResponseRequests(ctx, user, f.task.ID, []string{"backend"}, "second ask")
		require.NoError(t, err)
		require.Empty(t, second.Notifications)
		require.Equal(t, []string{"backend"}, second.SkippedSlugs)
		// The thread message is still posted even when every recipient is skipped.
		require.NotNil(t, second.Message)

		undelivered, err := f.repo.ListUndelivered(ctx, "acc1", 10)
		require.NoError(t, err)
		require.Len(t, undelivered, 1)
		require.Equal(t, backend.ID, undelivered[0].RecipientID)
	})

	t.Run("agent without the mention flag is rejected", func(t *testing.T) {
		f := newSvcFixture(t)
		worker := f.addAgent(t, "worker")
		f.addAgent(t, "backend")

		caller := &auth.Caller{Type: auth.CallerAgent, AccountID: "acc1", AgentID: worker.ID}
		_, err := f.service.CreateResponseRequests(ctx, caller, f.task.ID, []string{"backend"}, "ping")
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("input limits", func(t *testing.T) {
		f := newSvcFixture(t)
		f.addAgent(t, "backend")

		_, err := f.service.CreateResponseRequests(ctx, user, f.task.ID, nil, "hello")
		require.True(t, cerr.IsCode(err, cerr.InvalidArgument))

		many := make([]string, 11)
		for i := range many {
			many[i] = "backend"
		}
		_, err = f.service.CreateResponseRequests(ctx, user, f.task.ID, many, "hello")
		require.True(t, cerr.IsCode(err, cerr.InvalidArgument))

		_, err = f.service.CreateResponseRequests(ctx, user, f.task.ID, []string{"backend"}, "")
		require.True(t, cerr.IsCode(err, cerr.InvalidArgument))

		long := strings.Repeat("x", 2001)
		_, err = f.service.CreateResponseRequests(ctx, user, f.task.ID, []string{"backend"}, long)
		require.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	})
}

func TestStatusChangedFanOut(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	actor := f.addAgent(t, "worker")
	f.task.AssignedUserIDs = []string{"u1"}
	f.task.AssignedAgentIDs = []string{actor.ID}
	require.NoError(t, f.tasks.Update(ctx, f.task))

	err := f.service.StatusChanged(ctx, f.task, workflow.StatusAssigned, workflow.StatusInProgress, string(notification.RecipientAgent), actor.ID)
	require.NoError(t, err)

	undelivered, err := f.repo.ListUndelivered(ctx, "acc1", 10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)
	require.Equal(t, notification.RecipientUser, undelivered[0].RecipientType)
	require.Equal(t, "u1", undelivered[0].RecipientID)
}

func TestMarkDeliveryEndedRequiresRead(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	user := &auth.Caller{Type: auth.CallerUser, AccountID: "acc1", UserID: "u1"}

	n := &notification.Notification{
		ID:            ulid.Make().String(),
		AccountID:     "acc1",
		Type:          notification.TypeAssignment,
		RecipientType: notification.RecipientUser,
		RecipientID:   "u1",
		TaskID:        f.task.ID,
		Title:         "t",
		Body:          "b",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.repo.Create(ctx, n))

	_, err := f.service.MarkDeliveryEnded(ctx, user, n.ID)
	require.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = f.service.MarkRead(ctx, user, n.ID)
	require.NoError(t, err)
	ended, err := f.service.MarkDeliveryEnded(ctx, user, n.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.DeliveryEndedAt)
}
