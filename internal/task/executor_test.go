package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/taskrelay/internal/account"
	accountrepo "github.com/taskrelay/taskrelay/internal/account/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/agent"
	agentrepo "github.com/taskrelay/taskrelay/internal/agent/repositoryimpl"
	auditrepo "github.com/taskrelay/taskrelay/internal/audit/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	messagerepo "github.com/taskrelay/taskrelay/internal/message/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/permission"
	"github.com/taskrelay/taskrelay/internal/task"
	taskrepo "github.com/taskrelay/taskrelay/internal/task/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/workflow"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/storage"
)

type statusChangeCall struct {
	taskID string
	from   workflow.Status
	to     workflow.Status
}

type assignedCall struct {
	taskID      string
	addedUsers  []string
	addedAgents []string
}

type fakeNotifier struct {
	statusChanges []statusChangeCall
	assignments   []assignedCall
}

func (f *fakeNotifier) StatusChanged(_ context.Context, t *task.Task, from, to workflow.Status, _, _ string) error {
	f.statusChanges = append(f.statusChanges, statusChangeCall{taskID: t.ID, from: from, to: to})
	return nil
}

func (f *fakeNotifier) Assigned(_ context.Context, t *task.Task, addedUserIDs, addedAgentIDs []string, _, _ string) error {
	f.assignments = append(f.assignments, assignedCall{taskID: t.ID, addedUsers: addedUserIDs, addedAgents: addedAgentIDs})
	return nil
}

type fixture struct {
	executor *task.Executor
	tasks    task.Repository
	accounts account.Repository
	agents   agent.Repository
	audits   *auditrepo.YAMLRepository
	messages *messagerepo.YAMLRepository
	notifier *fakeNotifier
	account  *account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	accounts := accountrepo.NewYAMLRepository(store)
	agents := agentrepo.NewYAMLRepository(store)
	tasks := taskrepo.NewYAMLRepository(store)
	audits := auditrepo.NewYAMLRepository(store)
	messages := messagerepo.NewYAMLRepository(store)
	notifier := &fakeNotifier{}

	acc := &account.Account{
		ID:        "acc1",
		Name:      "Test Account",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, accounts.Create(context.Background(), acc))

	executor := task.NewExecutor(tasks, agents, accounts, audits, notifier, []task.Purger{messages}, eventbus.New())
	return &fixture{
		executor: executor,
		tasks:    tasks,
		accounts: accounts,
		agents:   agents,
		audits:   audits,
		messages: messages,
		notifier: notifier,
		account:  acc,
	}
}

func (f *fixture) addAgent(t *testing.T, slug, role string, behavior *permission.Overrides) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		ID:        ulid.Make().String(),
		AccountID: f.account.ID,
		Name:      slug,
		Slug:      slug,
		Role:      role,
		Status:    agent.StatusOnline,
		APIKey:    "key-" + slug,
		Behavior:  behavior,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.agents.Create(context.Background(), a))
	return a
}

func (f *fixture) addTask(t *testing.T, status workflow.Status, userIDs, agentIDs []string) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:               ulid.Make().String(),
		AccountID:        f.account.ID,
		Title:            "test task",
		Status:           status,
		Priority:         4,
		AssignedUserIDs:  userIDs,
		AssignedAgentIDs: agentIDs,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, f.tasks.Create(context.Background(), tk))
	return tk
}

func userCaller(accountID string) *auth.Caller {
	return &auth.Caller{Type: auth.CallerUser, AccountID: accountID, UserID: "u1"}
}

func agentCaller(a *agent.Agent) *auth.Caller {
	return &auth.Caller{
		Type:          auth.CallerAgent,
		AccountID:     a.AccountID,
		AgentID:       a.ID,
		AgentIsQA:     a.IsQA(),
		AgentBehavior: a.Behavior,
	}
}

func TestRequestTransitionDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, workflow.StatusAssigned, []string{"u2"}, nil)

	res, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusInProgress, "", "")
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, workflow.StatusAssigned, res.PreviousStatus)
	require.Equal(t, workflow.StatusInProgress, res.NewStatus)

	stored, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusInProgress, stored.Status)

	require.Len(t, f.notifier.statusChanges, 1)
	require.Equal(t, workflow.StatusAssigned, f.notifier.statusChanges[0].from)
	require.Equal(t, workflow.StatusInProgress, f.notifier.statusChanges[0].to)

	entries, err := f.audits.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "status_changed", entries[0].Action)
}

func TestRequestTransitionMultiHop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAgent(t, "qa", "QA", nil)
	tk := f.addTask(t, workflow.StatusAssigned, []string{"u2"}, nil)

	res, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusDone, "", "")
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, workflow.StatusAssigned, res.PreviousStatus)
	require.Equal(t, workflow.StatusDone, res.NewStatus)

	// Side effects fire once, on the final hop, with the observed pair.
	require.Len(t, f.notifier.statusChanges, 1)
	require.Equal(t, workflow.StatusAssigned, f.notifier.statusChanges[0].from)
	require.Equal(t, workflow.StatusDone, f.notifier.statusChanges[0].to)

	entries, err := f.audits.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, workflow.StatusAssigned, entries[0].FromStatus)
	require.Equal(t, workflow.StatusDone, entries[0].ToStatus)
}

func TestRequestTransitionNoOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, workflow.StatusAssigned, []string{"u2"}, nil)

	// expectedStatus mismatch returns the current state, no error.
	res, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusInProgress, "", workflow.StatusInbox)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, workflow.StatusAssigned, res.NewStatus)

	// target == current is also a no-op.
	res, err = f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusAssigned, "", "")
	require.NoError(t, err)
	require.False(t, res.Changed)

	require.Empty(t, f.notifier.statusChanges)
	entries, err := f.audits.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRequestTransitionNoPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, workflow.StatusInbox, nil, nil)

	_, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusDone, "", "")
	require.Error(t, err)
	require.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestRequestTransitionBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, workflow.StatusInProgress, []string{"u2"}, nil)

	_, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusBlocked, "", "")
	require.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	res, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusBlocked, "waiting on credentials", "")
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, "waiting on credentials", res.Task.BlockedReason)

	// Leaving blocked clears the reason.
	res, err = f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusInProgress, "", "")
	require.NoError(t, err)
	require.Empty(t, res.Task.BlockedReason)
}

func TestRequestTransitionPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	off := false
	worker := f.addAgent(t, "worker", "backend developer", &permission.Overrides{CanModifyTaskStatus: &off})
	tk := f.addTask(t, workflow.StatusAssigned, nil, []string{worker.ID})

	_, err := f.executor.RequestTransition(ctx, agentCaller(worker), tk.ID, workflow.StatusInProgress, "", "")
	require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestRequestTransitionCrossAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, workflow.StatusAssigned, []string{"u2"}, nil)

	_, err := f.executor.RequestTransition(ctx, userCaller("other-account"), tk.ID, workflow.StatusInProgress, "", "")
	require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestDoneGate(t *testing.T) {
	ctx := context.Background()

	t.Run("qa agent present admits users and qa agents only", func(t *testing.T) {
		f := newFixture(t)
		qa := f.addAgent(t, "qa", "QA", nil)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusReview, nil, []string{worker.ID})

		_, err := f.executor.RequestTransition(ctx, agentCaller(worker), tk.ID, workflow.StatusDone, "", "")
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))

		res, err := f.executor.RequestTransition(ctx, agentCaller(qa), tk.ID, workflow.StatusDone, "", "")
		require.NoError(t, err)
		require.Equal(t, workflow.StatusDone, res.NewStatus)
	})

	t.Run("user passes when a qa agent exists", func(t *testing.T) {
		f := newFixture(t)
		f.addAgent(t, "qa", "quality assurance", nil)
		tk := f.addTask(t, workflow.StatusReview, []string{"u2"}, nil)

		res, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusDone, "", "")
		require.NoError(t, err)
		require.Equal(t, workflow.StatusDone, res.NewStatus)
	})

	t.Run("without qa only the orchestrator passes", func(t *testing.T) {
		f := newFixture(t)
		orch := f.addAgent(t, "orchestrator", "coordinator", nil)
		f.account.OrchestratorAgentID = orch.ID
		require.NoError(t, f.accounts.Update(ctx, f.account))
		tk := f.addTask(t, workflow.StatusReview, []string{"u2"}, nil)

		_, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusDone, "", "")
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))

		res, err := f.executor.RequestTransition(ctx, agentCaller(orch), tk.ID, workflow.StatusDone, "", "")
		require.NoError(t, err)
		require.Equal(t, workflow.StatusDone, res.NewStatus)
	})

	t.Run("no qa and no orchestrator rejects everyone", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusReview, []string{"u2"}, nil)

		_, err := f.executor.RequestTransition(ctx, userCaller("acc1"), tk.ID, workflow.StatusDone, "", "")
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to inbox", func(t *testing.T) {
		f := newFixture(t)
		tk, err := f.executor.Create(ctx, userCaller("acc1"), &task.CreateInput{Title: "new task"})
		require.NoError(t, err)
		require.Equal(t, workflow.StatusInbox, tk.Status)
		require.Equal(t, 4, tk.Priority)

		entries, err := f.audits.ListByTask(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "created", entries[0].Action)
	})

	t.Run("empty title rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.executor.Create(ctx, userCaller("acc1"), &task.CreateInput{})
		require.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	})

	t.Run("priority out of range rejected", func(t *testing.T) {
		f := newFixture(t)
		p := 12
		_, err := f.executor.Create(ctx, userCaller("acc1"), &task.CreateInput{Title: "x", Priority: &p})
		require.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	})

	t.Run("agent creator auto-assigned when status needs assignees", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk, err := f.executor.Create(ctx, agentCaller(worker), &task.CreateInput{Title: "x", Status: workflow.StatusInProgress})
		require.NoError(t, err)
		require.Equal(t, []string{worker.ID}, tk.AssignedAgentIDs)
	})

	t.Run("agent without create flag rejected", func(t *testing.T) {
		f := newFixture(t)
		off := false
		worker := f.addAgent(t, "worker", "backend developer", &permission.Overrides{CanCreateTasks: &off})
		_, err := f.executor.Create(ctx, agentCaller(worker), &task.CreateInput{Title: "x"})
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("initial requirements validated", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.executor.Create(ctx, userCaller("acc1"), &task.CreateInput{Title: "x", Status: workflow.StatusAssigned})
		require.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	})

	t.Run("agent cannot create a task directly archived", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		_, err := f.executor.Create(ctx, agentCaller(worker), &task.CreateInput{Title: "x", Status: workflow.StatusArchived})
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})
}

func TestUpdateFields(t *testing.T) {
	ctx := context.Background()

	t.Run("assignees commit before transition", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)

		status := workflow.StatusAssigned
		agents := []string{worker.ID}
		updated, err := f.executor.UpdateFields(ctx, userCaller("acc1"), tk.ID, &task.UpdateInput{
			AssignedAgentIDs: &agents,
			Status:           &status,
		})
		require.NoError(t, err)
		require.Equal(t, workflow.StatusAssigned, updated.Status)
		require.Equal(t, []string{worker.ID}, updated.AssignedAgentIDs)
	})

	t.Run("cannot clear assignees while in_progress", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusInProgress, []string{"u2"}, nil)
		empty := []string{}
		_, err := f.executor.UpdateFields(ctx, userCaller("acc1"), tk.ID, &task.UpdateInput{AssignedUserIDs: &empty})
		require.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	})

	t.Run("status equal to current does not bypass the assignee guard", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusInProgress, []string{"u2"}, nil)
		empty := []string{}
		status := workflow.StatusInProgress
		_, err := f.executor.UpdateFields(ctx, userCaller("acc1"), tk.ID, &task.UpdateInput{
			AssignedUserIDs: &empty,
			Status:          &status,
		})
		require.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

		stored, err := f.tasks.Get(ctx, tk.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"u2"}, stored.AssignedUserIDs)
		require.Equal(t, workflow.StatusInProgress, stored.Status)
	})

	t.Run("whitelisted fields only", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)
		title := "renamed"
		p := 0
		updated, err := f.executor.UpdateFields(ctx, userCaller("acc1"), tk.ID, &task.UpdateInput{Title: &title, Priority: &p})
		require.NoError(t, err)
		require.Equal(t, "renamed", updated.Title)
		require.Equal(t, 0, updated.Priority)
		require.Equal(t, workflow.StatusInbox, updated.Status)
	})
}

func TestAssign(t *testing.T) {
	ctx := context.Background()

	t.Run("non-orchestrator agent cannot assign others", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		other := f.addAgent(t, "other", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)

		_, err := f.executor.Assign(ctx, agentCaller(worker), tk.ID, nil, []string{other.ID})
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("self-assignment allowed", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)

		updated, err := f.executor.Assign(ctx, agentCaller(worker), tk.ID, nil, []string{worker.ID})
		require.NoError(t, err)
		require.Equal(t, []string{worker.ID}, updated.AssignedAgentIDs)
	})

	t.Run("newly added assignees notified", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)

		_, err := f.executor.Assign(ctx, userCaller("acc1"), tk.ID, []string{"u2"}, []string{worker.ID})
		require.NoError(t, err)
		require.Len(t, f.notifier.assignments, 1)
		require.Equal(t, []string{"u2"}, f.notifier.assignments[0].addedUsers)
		require.Equal(t, []string{worker.ID}, f.notifier.assignments[0].addedAgents)
	})
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("archives from blocked and clears reason", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusBlocked, []string{"u2"}, nil)
		tk.BlockedReason = "stuck"
		require.NoError(t, f.tasks.Update(ctx, tk))

		archived, err := f.executor.Archive(ctx, userCaller("acc1"), tk.ID)
		require.NoError(t, err)
		require.Equal(t, workflow.StatusArchived, archived.Status)
		require.Empty(t, archived.BlockedReason)
		require.NotNil(t, archived.ArchivedAt)
	})

	t.Run("idempotent on archived tasks", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusArchived, nil, nil)
		archived, err := f.executor.Archive(ctx, userCaller("acc1"), tk.ID)
		require.NoError(t, err)
		require.Equal(t, tk.ID, archived.ID)
	})

	t.Run("agents need orchestrator rights", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)

		_, err := f.executor.Archive(ctx, agentCaller(worker), tk.ID)
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))

		f.account.OrchestratorAgentID = worker.ID
		require.NoError(t, f.accounts.Update(ctx, f.account))
		archived, err := f.executor.Archive(ctx, agentCaller(worker), tk.ID)
		require.NoError(t, err)
		require.Equal(t, workflow.StatusArchived, archived.Status)
	})

	t.Run("status request into archived honors the same gate", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInProgress, nil, []string{worker.ID})

		_, err := f.executor.RequestTransition(ctx, agentCaller(worker), tk.ID, workflow.StatusArchived, "", "")
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))

		f.account.OrchestratorAgentID = worker.ID
		require.NoError(t, f.accounts.Update(ctx, f.account))
		res, err := f.executor.RequestTransition(ctx, agentCaller(worker), tk.ID, workflow.StatusArchived, "", "")
		require.NoError(t, err)
		require.Equal(t, workflow.StatusArchived, res.NewStatus)
		require.NotNil(t, res.Task.ArchivedAt)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("agents cannot delete", func(t *testing.T) {
		f := newFixture(t)
		worker := f.addAgent(t, "worker", "backend developer", nil)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)
		err := f.executor.Delete(ctx, agentCaller(worker), tk.ID)
		require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("user delete removes the task", func(t *testing.T) {
		f := newFixture(t)
		tk := f.addTask(t, workflow.StatusInbox, nil, nil)

		require.NoError(t, f.executor.Delete(ctx, userCaller("acc1"), tk.ID))

		_, err := f.tasks.Get(ctx, tk.ID)
		require.True(t, cerr.IsCode(err, cerr.NotFound))
	})
}
