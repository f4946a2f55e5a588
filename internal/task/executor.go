package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskrelay/taskrelay/internal/account"
	"github.com/taskrelay/taskrelay/internal/agent"
	"github.com/taskrelay/taskrelay/internal/audit"
	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	"github.com/taskrelay/taskrelay/internal/permission"
	"github.com/taskrelay/taskrelay/internal/workflow"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

const defaultPriority = 4

// Notifier receives task side effects. Implemented by the notification
// service and wired in main to avoid an import cycle.
type Notifier interface {
	StatusChanged(ctx context.Context, t *Task, from, to workflow.Status, actorType, actorID string) error
	Assigned(ctx context.Context, t *Task, addedUserIDs, addedAgentIDs []string, actorType, actorID string) error
}

// Purger removes task-scoped documents when a task is hard deleted.
type Purger interface {
	DeleteByTask(ctx context.Context, taskID string) error
}

// Executor is the single entry point for task mutations. Status changes go
// through the workflow graph; field updates bypass it but share the same
// permission checks.
type Executor struct {
	tasks    Repository
	agents   agent.Repository
	accounts account.Repository
	audits   audit.Repository
	notifier Notifier
	purgers  []Purger
	bus      *eventbus.Bus
}

func NewExecutor(
	tasks Repository,
	agents agent.Repository,
	accounts account.Repository,
	audits audit.Repository,
	notifier Notifier,
	purgers []Purger,
	bus *eventbus.Bus,
) *Executor {
	return &Executor{
		tasks:    tasks,
		agents:   agents,
		accounts: accounts,
		audits:   audits,
		notifier: notifier,
		purgers:  purgers,
		bus:      bus,
	}
}

// TransitionResult reports the outcome of a transition request. Changed is
// false for the no-op cases (expectedStatus mismatch, target == current).
type TransitionResult struct {
	Task           *Task           `json:"task"`
	PreviousStatus workflow.Status `json:"previous_status"`
	NewStatus      workflow.Status `json:"new_status"`
	ChangedAt      time.Time       `json:"changed_at"`
	Changed        bool            `json:"changed"`
}

// RequestTransition moves a task toward target, resolving a multi-hop path
// over the automated allow-list when no direct edge exists. Every hop is
// validated before the first write; hops are then applied one at a time with
// a fresh read, and a concurrent status change aborts the request. Side
// effects (notifications, audit, events) fire once, on the final hop, with
// the caller-observed previous/new pair.
func (e *Executor) RequestTransition(ctx context.Context, caller *auth.Caller, taskID string, target workflow.Status, blockedReason string, expectedStatus workflow.Status) (*TransitionResult, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := sameAccount(caller, t.AccountID); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, "unknown target status", nil)
	}

	unchanged := &TransitionResult{
		Task:           t,
		PreviousStatus: t.Status,
		NewStatus:      t.Status,
		ChangedAt:      t.UpdatedAt,
	}
	if expectedStatus != "" && t.Status != expectedStatus {
		return unchanged, nil
	}
	if t.Status == target {
		return unchanged, nil
	}

	flags, _, err := e.callerFlags(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !caller.IsUser() && !flags.CanModifyTaskStatus {
		return nil, cerr.NewError(cerr.PermissionDenied, "agent is not allowed to modify task status", nil)
	}

	var path []workflow.Status
	if workflow.IsValidTransition(t.Status, target) {
		path = []workflow.Status{target}
	} else {
		path, err = workflow.FindPath(t.Status, target, workflow.AutomatedAllowList)
		if errors.Is(err, workflow.ErrNoPath) {
			return nil, cerr.NewError(cerr.FailedPrecondition, "no valid transition from "+string(t.Status)+" to "+string(target), err)
		}
		if err != nil {
			return nil, err
		}
	}

	// Validate the whole plan before writing anything.
	for _, hop := range path {
		reason := ""
		if hop == workflow.StatusBlocked {
			reason = blockedReason
		}
		if err := workflow.ValidateRequirements(hop, t.HasAssignees(), reason); err != nil {
			return nil, err
		}
		if err := e.checkStatusEntry(ctx, caller, flags, t.AccountID, hop); err != nil {
			return nil, err
		}
	}

	prev := t.Status
	cur := t.Status
	final := t
	for _, hop := range path {
		fresh, err := e.tasks.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if fresh.Status != cur {
			return nil, cerr.NewError(cerr.Aborted, "task was moved concurrently", nil)
		}
		fresh.Status = hop
		if hop == workflow.StatusBlocked {
			fresh.BlockedReason = blockedReason
		} else {
			fresh.BlockedReason = ""
		}
		if hop == workflow.StatusArchived {
			now := time.Now()
			fresh.ArchivedAt = &now
		}
		fresh.UpdatedAt = time.Now()
		if err := e.tasks.Update(ctx, fresh); err != nil {
			return nil, err
		}
		cur = hop
		final = fresh
	}

	e.emitStatusChanged(ctx, caller, final, prev)

	return &TransitionResult{
		Task:           final,
		PreviousStatus: prev,
		NewStatus:      final.Status,
		ChangedAt:      final.UpdatedAt,
		Changed:        true,
	}, nil
}

type CreateInput struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Status           workflow.Status `json:"status"`
	Priority         *int            `json:"priority"`
	Labels           []string        `json:"labels"`
	AssignedUserIDs  []string        `json:"assigned_user_ids"`
	AssignedAgentIDs []string        `json:"assigned_agent_ids"`
	BlockedReason    string          `json:"blocked_reason"`
	DueDate          *time.Time      `json:"due_date"`
}

// Create makes a new task, in inbox by default. A creator may pick another
// initial status when its entry requirements already hold; an agent creator
// is auto-assigned when the initial status needs assignees and none were
// given.
func (e *Executor) Create(ctx context.Context, caller *auth.Caller, in *CreateInput) (*Task, error) {
	flags, _, err := e.callerFlags(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !caller.IsUser() && !flags.CanCreateTasks {
		return nil, cerr.NewError(cerr.PermissionDenied, "agent is not allowed to create tasks", nil)
	}
	if in.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "title is required", nil)
	}
	priority := defaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = workflow.StatusInbox
	}
	if !status.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, "unknown status", nil)
	}

	t := &Task{
		ID:               ulid.Make().String(),
		AccountID:        caller.AccountID,
		Title:            in.Title,
		Description:      in.Description,
		Status:           status,
		Priority:         priority,
		Labels:           in.Labels,
		AssignedUserIDs:  in.AssignedUserIDs,
		AssignedAgentIDs: in.AssignedAgentIDs,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if !t.HasAssignees() && !caller.IsUser() && statusNeedsAssignees(status) {
		t.AssignedAgentIDs = []string{caller.AgentID}
	}
	if err := e.validateAgentIDs(ctx, caller.AccountID, t.AssignedAgentIDs); err != nil {
		return nil, err
	}
	if status == workflow.StatusBlocked {
		t.BlockedReason = in.BlockedReason
	}
	if status == workflow.StatusArchived {
		now := time.Now()
		t.ArchivedAt = &now
	}
	if err := workflow.ValidateRequirements(status, t.HasAssignees(), t.BlockedReason); err != nil {
		return nil, err
	}
	if err := e.checkStatusEntry(ctx, caller, flags, caller.AccountID, status); err != nil {
		return nil, err
	}

	if err := e.tasks.Create(ctx, t); err != nil {
		return nil, err
	}

	e.writeAudit(ctx, caller, t, "created", "", t.Status, "")
	e.bus.PublishNew(eventbus.EventTaskCreated, t.AccountID, t.ID, nil)
	if t.HasAssignees() {
		e.emitAssigned(ctx, caller, t, t.AssignedUserIDs, t.AssignedAgentIDs)
	}
	return t, nil
}

type UpdateInput struct {
	Title            *string          `json:"title"`
	Description      *string          `json:"description"`
	Priority         *int             `json:"priority"`
	Labels           *[]string        `json:"labels"`
	AssignedUserIDs  *[]string        `json:"assigned_user_ids"`
	AssignedAgentIDs *[]string        `json:"assigned_agent_ids"`
	DueDate          *time.Time       `json:"due_date"`
	ClearDueDate     bool             `json:"clear_due_date"`
	Status           *workflow.Status `json:"status"`
	BlockedReason    string           `json:"blocked_reason"`
	ExpectedStatus   workflow.Status  `json:"expected_status"`
}

// UpdateFields writes the whitelisted mutable fields. When the request also
// carries a status, the field changes (assignees included) are committed
// first so the transition's requirement checks observe them.
func (e *Executor) UpdateFields(ctx context.Context, caller *auth.Caller, taskID string, in *UpdateInput) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := sameAccount(caller, t.AccountID); err != nil {
		return nil, err
	}
	flags, _, err := e.callerFlags(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !caller.IsUser() && !flags.CanModifyTaskStatus {
		return nil, cerr.NewError(cerr.PermissionDenied, "agent is not allowed to modify tasks", nil)
	}

	var addedUsers, addedAgents []string
	if in.Title != nil {
		if *in.Title == "" {
			return nil, cerr.NewError(cerr.InvalidArgument, "title cannot be empty", nil)
		}
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		if err := validatePriority(*in.Priority); err != nil {
			return nil, err
		}
		t.Priority = *in.Priority
	}
	if in.Labels != nil {
		t.Labels = *in.Labels
	}
	if in.AssignedUserIDs != nil {
		addedUsers = diff(*in.AssignedUserIDs, t.AssignedUserIDs)
		t.AssignedUserIDs = *in.AssignedUserIDs
	}
	if in.AssignedAgentIDs != nil {
		if err := e.validateAgentIDs(ctx, t.AccountID, *in.AssignedAgentIDs); err != nil {
			return nil, err
		}
		addedAgents = diff(*in.AssignedAgentIDs, t.AssignedAgentIDs)
		t.AssignedAgentIDs = *in.AssignedAgentIDs
	}
	if in.DueDate != nil {
		t.DueDate = in.DueDate
	} else if in.ClearDueDate {
		t.DueDate = nil
	}
	// A requested status equal to the current one skips the transition path
	// below, so its requirement checks never run; guard the assignee
	// invariant here for any update that leaves the status in place.
	if (in.Status == nil || *in.Status == t.Status) && statusNeedsAssignees(t.Status) && !t.HasAssignees() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "cannot clear all assignees while the task is "+string(t.Status), nil)
	}

	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t); err != nil {
		return nil, err
	}
	e.bus.PublishNew(eventbus.EventTaskUpdated, t.AccountID, t.ID, nil)
	if len(addedUsers) > 0 || len(addedAgents) > 0 {
		e.emitAssigned(ctx, caller, t, addedUsers, addedAgents)
	}

	if in.Status != nil && *in.Status != t.Status {
		res, err := e.RequestTransition(ctx, caller, taskID, *in.Status, in.BlockedReason, in.ExpectedStatus)
		if err != nil {
			return nil, err
		}
		return res.Task, nil
	}
	return t, nil
}

// Assign replaces both assignee sets. Agent callers must be the account's
// orchestrator unless the request only assigns the caller itself.
func (e *Executor) Assign(ctx context.Context, caller *auth.Caller, taskID string, userIDs, agentIDs []string) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := sameAccount(caller, t.AccountID); err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is archived", nil)
	}
	if !caller.IsUser() {
		acc, err := e.accounts.Get(ctx, t.AccountID)
		if err != nil {
			return nil, err
		}
		selfOnly := len(userIDs) == 0 && len(agentIDs) == 1 && agentIDs[0] == caller.AgentID
		if !selfOnly && !caller.IsOrchestrator(acc.OrchestratorAgentID) {
			return nil, cerr.NewError(cerr.PermissionDenied, "only the orchestrator agent may assign tasks", nil)
		}
	}
	if err := e.validateAgentIDs(ctx, t.AccountID, agentIDs); err != nil {
		return nil, err
	}
	if statusNeedsAssignees(t.Status) && len(userIDs) == 0 && len(agentIDs) == 0 {
		return nil, cerr.NewError(cerr.FailedPrecondition, "cannot clear all assignees while the task is "+string(t.Status), nil)
	}

	addedUsers := diff(userIDs, t.AssignedUserIDs)
	addedAgents := diff(agentIDs, t.AssignedAgentIDs)
	t.AssignedUserIDs = userIDs
	t.AssignedAgentIDs = agentIDs
	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t); err != nil {
		return nil, err
	}

	e.writeAudit(ctx, caller, t, "assigned", "", "", "")
	e.bus.PublishNew(eventbus.EventTaskAssigned, t.AccountID, t.ID, nil)
	if len(addedUsers) > 0 || len(addedAgents) > 0 {
		e.emitAssigned(ctx, caller, t, addedUsers, addedAgents)
	}
	return t, nil
}

// Archive soft-deletes the task from any non-terminal status. Orchestrator
// only for agent callers. Archiving an archived task is a no-op.
func (e *Executor) Archive(ctx context.Context, caller *auth.Caller, taskID string) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := sameAccount(caller, t.AccountID); err != nil {
		return nil, err
	}
	if t.Status == workflow.StatusArchived {
		return t, nil
	}
	if !caller.IsUser() {
		acc, err := e.accounts.Get(ctx, t.AccountID)
		if err != nil {
			return nil, err
		}
		if !caller.IsOrchestrator(acc.OrchestratorAgentID) {
			return nil, cerr.NewError(cerr.PermissionDenied, "only the orchestrator agent may archive tasks", nil)
		}
	}

	prev := t.Status
	now := time.Now()
	t.Status = workflow.StatusArchived
	t.BlockedReason = ""
	t.ArchivedAt = &now
	t.UpdatedAt = now
	if err := e.tasks.Update(ctx, t); err != nil {
		return nil, err
	}

	e.writeAudit(ctx, caller, t, "archived", prev, t.Status, "")
	e.bus.PublishNew(eventbus.EventTaskArchived, t.AccountID, t.ID, nil)
	return t, nil
}

// Delete removes the task document and cascades its messages and
// notifications. User callers only; archive is the agent-facing removal.
func (e *Executor) Delete(ctx context.Context, caller *auth.Caller, taskID string) error {
	if !caller.IsUser() {
		return cerr.NewError(cerr.PermissionDenied, "agents cannot delete tasks", nil)
	}
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if err := sameAccount(caller, t.AccountID); err != nil {
		return err
	}
	if err := e.tasks.Delete(ctx, taskID); err != nil {
		return err
	}
	for _, p := range e.purgers {
		if err := p.DeleteByTask(ctx, taskID); err != nil {
			slog.WarnContext(ctx, "failed to purge task documents", "task_id", taskID, "error", err)
		}
	}
	e.bus.PublishNew(eventbus.EventTaskDeleted, t.AccountID, t.ID, nil)
	return nil
}

// checkDoneGate enforces who may move a task into done. With a QA agent in
// the account, review is the QA team's job: users and QA agents pass. With
// no QA agent, only a configured orchestrator passes. With neither, done is
// unreachable until the account configures a reviewer.
func (e *Executor) checkDoneGate(ctx context.Context, caller *auth.Caller, accountID string) error {
	agents, err := e.agents.List(ctx, accountID)
	if err != nil {
		return err
	}
	qaExists := false
	for _, a := range agents {
		if a.IsQA() {
			qaExists = true
			break
		}
	}
	if qaExists {
		if caller.IsUser() || caller.AgentIsQA {
			return nil
		}
		return cerr.NewError(cerr.PermissionDenied, "only a QA agent or a user may mark tasks done", nil)
	}
	acc, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.OrchestratorAgentID != "" {
		if caller.IsOrchestrator(acc.OrchestratorAgentID) {
			return nil
		}
		return cerr.NewError(cerr.PermissionDenied, "only the orchestrator agent may mark tasks done", nil)
	}
	return cerr.NewError(cerr.PermissionDenied, "no QA agent or orchestrator is configured to approve done", nil)
}

func (e *Executor) checkStatusEntry(ctx context.Context, caller *auth.Caller, flags permission.BehaviorFlags, accountID string, s workflow.Status) error {
	switch s {
	case workflow.StatusReview:
		if !caller.IsUser() && !flags.CanReviewTasks {
			return cerr.NewError(cerr.PermissionDenied, "agent is not allowed to move tasks to review", nil)
		}
	case workflow.StatusDone:
		if !caller.IsUser() && !flags.CanMarkDone {
			return cerr.NewError(cerr.PermissionDenied, "agent is not allowed to mark tasks done", nil)
		}
		return e.checkDoneGate(ctx, caller, accountID)
	case workflow.StatusArchived:
		if !caller.IsUser() {
			acc, err := e.accounts.Get(ctx, accountID)
			if err != nil {
				return err
			}
			if !caller.IsOrchestrator(acc.OrchestratorAgentID) {
				return cerr.NewError(cerr.PermissionDenied, "only the orchestrator agent may archive tasks", nil)
			}
		}
	}
	return nil
}

func (e *Executor) callerFlags(ctx context.Context, caller *auth.Caller) (permission.BehaviorFlags, *account.Account, error) {
	acc, err := e.accounts.Get(ctx, caller.AccountID)
	if err != nil {
		return permission.BehaviorFlags{}, nil, err
	}
	return caller.EffectiveFlags(acc.Behavior), acc, nil
}

func (e *Executor) validateAgentIDs(ctx context.Context, accountID string, agentIDs []string) error {
	for _, id := range agentIDs {
		a, err := e.agents.Get(ctx, id)
		if err != nil {
			return err
		}
		if a.AccountID != accountID {
			return cerr.NewError(cerr.PermissionDenied, "agent belongs to a different account", nil)
		}
	}
	return nil
}

func (e *Executor) emitStatusChanged(ctx context.Context, caller *auth.Caller, t *Task, prev workflow.Status) {
	if err := e.notifier.StatusChanged(ctx, t, prev, t.Status, string(caller.Type), caller.ActorID()); err != nil {
		slog.WarnContext(ctx, "failed to create status change notifications", "task_id", t.ID, "error", err)
	}
	detail := ""
	if t.Status == workflow.StatusBlocked {
		detail = t.BlockedReason
	}
	e.writeAudit(ctx, caller, t, "status_changed", prev, t.Status, detail)
	e.bus.PublishNew(eventbus.EventTaskStatusChanged, t.AccountID, t.ID, map[string]string{
		"from": string(prev),
		"to":   string(t.Status),
	})
}

func (e *Executor) emitAssigned(ctx context.Context, caller *auth.Caller, t *Task, addedUsers, addedAgents []string) {
	if err := e.notifier.Assigned(ctx, t, addedUsers, addedAgents, string(caller.Type), caller.ActorID()); err != nil {
		slog.WarnContext(ctx, "failed to create assignment notifications", "task_id", t.ID, "error", err)
	}
}

func (e *Executor) writeAudit(ctx context.Context, caller *auth.Caller, t *Task, action string, from, to workflow.Status, detail string) {
	entry := &audit.Entry{
		ID:         ulid.Make().String(),
		AccountID:  t.AccountID,
		TaskID:     t.ID,
		ActorType:  string(caller.Type),
		ActorID:    caller.ActorID(),
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	if err := e.audits.Create(ctx, entry); err != nil {
		slog.WarnContext(ctx, "failed to write audit entry", "task_id", t.ID, "error", err)
	}
}

func validatePriority(p int) error {
	if p < 0 || p > 9 {
		return cerr.NewError(cerr.InvalidArgument, "priority must be between 0 and 9", nil)
	}
	return nil
}

func sameAccount(caller *auth.Caller, accountID string) error {
	if caller.AccountID != accountID {
		return cerr.NewError(cerr.PermissionDenied, "resource belongs to a different account", nil)
	}
	return nil
}

func statusNeedsAssignees(s workflow.Status) bool {
	return s == workflow.StatusAssigned || s == workflow.StatusInProgress
}

func diff(next, prev []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, id := range prev {
		seen[id] = true
	}
	var added []string
	for _, id := range next {
		if !seen[id] {
			added = append(added, id)
		}
	}
	return added
}
