package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskrelay/taskrelay/internal/account"
	"github.com/taskrelay/taskrelay/internal/agent"
	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	"github.com/taskrelay/taskrelay/internal/message"
	"github.com/taskrelay/taskrelay/internal/permission"
	"github.com/taskrelay/taskrelay/internal/task"
	"github.com/taskrelay/taskrelay/internal/workflow"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

const (
	maxResponseRequestRecipients = 10
	maxResponseRequestBody       = 2000
	deliveryContextThreadSize    = 20
)

// Service creates notifications for task side effects and drives the
// delivery lifecycle timestamps. It implements task.Notifier.
type Service struct {
	repo     Repository
	tasks    task.Repository
	agents   agent.Repository
	accounts account.Repository
	messages message.Repository
	bus      *eventbus.Bus
	cooldown time.Duration
}

func NewService(
	repo Repository,
	tasks task.Repository,
	agents agent.Repository,
	accounts account.Repository,
	messages message.Repository,
	bus *eventbus.Bus,
	cooldown time.Duration,
) *Service {
	if cooldown <= 0 {
		cooldown = DefaultResponseRetryCooldown
	}
	return &Service{
		repo:     repo,
		tasks:    tasks,
		agents:   agents,
		accounts: accounts,
		messages: messages,
		bus:      bus,
		cooldown: cooldown,
	}
}

// StatusChanged fans a status change out to every assignee except the actor.
func (s *Service) StatusChanged(ctx context.Context, t *task.Task, from, to workflow.Status, actorType, actorID string) error {
	title := fmt.Sprintf("Task %q moved to %s", t.Title, to)
	body := fmt.Sprintf("Status changed from %s to %s.", from, to)
	if to == workflow.StatusBlocked && t.BlockedReason != "" {
		body = fmt.Sprintf("%s Reason: %s", body, t.BlockedReason)
	}
	return s.fanOut(ctx, t, TypeStatusChange, t.AssignedUserIDs, t.AssignedAgentIDs, actorType, actorID, title, body, "")
}

// Assigned notifies newly added assignees, skipping the actor.
func (s *Service) Assigned(ctx context.Context, t *task.Task, addedUserIDs, addedAgentIDs []string, actorType, actorID string) error {
	title := fmt.Sprintf("Assigned to task %q", t.Title)
	body := fmt.Sprintf("You were assigned to task %q.", t.Title)
	return s.fanOut(ctx, t, TypeAssignment, addedUserIDs, addedAgentIDs, actorType, actorID, title, body, "")
}

func (s *Service) fanOut(ctx context.Context, t *task.Task, typ Type, userIDs, agentIDs []string, actorType, actorID, title, body, messageID string) error {
	for _, id := range userIDs {
		if actorType == string(RecipientUser) && actorID == id {
			continue
		}
		if err := s.create(ctx, t, typ, RecipientUser, id, actorType, actorID, title, body, messageID); err != nil {
			return err
		}
	}
	for _, id := range agentIDs {
		if actorType == string(RecipientAgent) && actorID == id {
			continue
		}
		if err := s.create(ctx, t, typ, RecipientAgent, id, actorType, actorID, title, body, messageID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) create(ctx context.Context, t *task.Task, typ Type, recipientType RecipientType, recipientID, actorType, actorID, title, body, messageID string) error {
	n := &Notification{
		ID:            ulid.Make().String(),
		AccountID:     t.AccountID,
		Type:          typ,
		RecipientType: recipientType,
		RecipientID:   recipientID,
		ActorType:     actorType,
		ActorID:       actorID,
		TaskID:        t.ID,
		MessageID:     messageID,
		Title:         title,
		Body:          body,
		CreatedAt:     time.Now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.bus.PublishNew(eventbus.EventNotificationCreated, n.AccountID, n.ID, map[string]string{
		"recipient_type": string(recipientType),
		"recipient_id":   recipientID,
	})
	return nil
}

// ResponseRequestResult reports the batch outcome. SkippedSlugs lists
// recipients suppressed by the retry policy or self-addressing.
type ResponseRequestResult struct {
	Notifications []*Notification  `json:"notifications"`
	SkippedSlugs  []string         `json:"skipped_slugs,omitempty"`
	Message       *message.Message `json:"message"`
}

// CreateResponseRequests asks the named agents to respond on a task. All
// slugs must resolve in the caller's account or the whole batch fails.
// Recipients the retry policy blocks are skipped, not errors.
func (s *Service) CreateResponseRequests(ctx context.Context, caller *auth.Caller, taskID string, slugs []string, body string) (*ResponseRequestResult, error) {
	if len(slugs) == 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "at least one recipient is required", nil)
	}
	if len(slugs) > maxResponseRequestRecipients {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("at most %d recipients per request", maxResponseRequestRecipients), nil)
	}
	if body == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "message is required", nil)
	}
	if len(body) > maxResponseRequestBody {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("message exceeds %d characters", maxResponseRequestBody), nil)
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if caller.AccountID != t.AccountID {
		return nil, cerr.NewError(cerr.PermissionDenied, "resource belongs to a different account", nil)
	}

	acc, err := s.accounts.Get(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	flags := caller.EffectiveFlags(acc.Behavior)
	if !flags.CanMentionAgents && !caller.IsOrchestrator(acc.OrchestratorAgentID) {
		return nil, cerr.NewError(cerr.PermissionDenied, "caller is not allowed to request responses from agents", nil)
	}

	// Resolve every slug before writing anything.
	recipients := make([]*agent.Agent, 0, len(slugs))
	for _, slug := range slugs {
		a, err := s.agents.GetBySlug(ctx, caller.AccountID, slug)
		if err != nil {
			return nil, cerr.NewError(cerr.NotFound, "unknown agent slug: "+slug, err)
		}
		recipients = append(recipients, a)
	}

	msg := &message.Message{
		ID:         ulid.Make().String(),
		AccountID:  t.AccountID,
		TaskID:     t.ID,
		AuthorType: message.AuthorType(caller.Type),
		AuthorID:   caller.ActorID(),
		Body:       body,
		CreatedAt:  time.Now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	s.bus.PublishNew(eventbus.EventMessageCreated, msg.AccountID, msg.ID, map[string]string{"task_id": t.ID})

	result := &ResponseRequestResult{Message: msg}
	now := time.Now()
	for i, a := range recipients {
		if caller.Type == auth.CallerAgent && a.ID == caller.AgentID {
			result.SkippedSlugs = append(result.SkippedSlugs, slugs[i])
			continue
		}
		allowed, err := s.allowResponseRequest(ctx, t, a, now)
		if err != nil {
			return nil, err
		}
		if !allowed {
			result.SkippedSlugs = append(result.SkippedSlugs, slugs[i])
			continue
		}
		n := &Notification{
			ID:            ulid.Make().String(),
			AccountID:     t.AccountID,
			Type:          TypeResponseRequest,
			RecipientType: RecipientAgent,
			RecipientID:   a.ID,
			ActorType:     string(caller.Type),
			ActorID:       caller.ActorID(),
			TaskID:        t.ID,
			MessageID:     msg.ID,
			Title:         fmt.Sprintf("Response requested on task %q", t.Title),
			Body:          body,
			CreatedAt:     time.Now(),
		}
		if err := s.repo.Create(ctx, n); err != nil {
			return nil, err
		}
		s.bus.PublishNew(eventbus.EventNotificationCreated, n.AccountID, n.ID, map[string]string{
			"recipient_type": string(RecipientAgent),
			"recipient_id":   a.ID,
		})
		result.Notifications = append(result.Notifications, n)
	}
	return result, nil
}

func (s *Service) allowResponseRequest(ctx context.Context, t *task.Task, recipient *agent.Agent, now time.Time) (bool, error) {
	latest, err := s.repo.LatestResponseRequest(ctx, t.AccountID, t.ID, recipient.ID)
	if err != nil {
		return false, err
	}
	in := RetryInput{Now: now, Cooldown: s.cooldown}
	if latest != nil {
		in.LatestRequestCreatedAt = &latest.CreatedAt
		in.LatestRequestDeliveredAt = latest.DeliveredAt
	}
	reply, err := s.messages.LatestByAuthor(ctx, t.ID, message.AuthorAgent, recipient.ID)
	if err != nil {
		return false, err
	}
	if reply != nil {
		in.LatestReplyCreatedAt = &reply.CreatedAt
	}
	return ShouldCreateResponseRequestRetry(in), nil
}

// ListUndelivered returns the caller account's undelivered notifications,
// oldest first.
func (s *Service) ListUndelivered(ctx context.Context, caller *auth.Caller, limit int) ([]*Notification, error) {
	return s.repo.ListUndelivered(ctx, caller.AccountID, limit)
}

// MarkRead stamps ReadAt. Reading again is a no-op, except after a failed
// delivery attempt: a read after delivery-ended clears DeliveryEndedAt and
// restamps ReadAt so the new attempt is visible.
func (s *Service) MarkRead(ctx context.Context, caller *auth.Caller, id string) (*Notification, error) {
	n, err := s.get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !n.Read(time.Now()) {
		return n, nil
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// MarkDelivered is terminal and idempotent.
func (s *Service) MarkDelivered(ctx context.Context, caller *auth.Caller, id string) (*Notification, error) {
	n, err := s.get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !n.Deliver(time.Now()) {
		return n, nil
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	s.bus.PublishNew(eventbus.EventNotificationDelivered, n.AccountID, n.ID, nil)
	return n, nil
}

// MarkDeliveryEnded records a delivery attempt that stopped without success.
// Valid only after a read and before delivery; the notification stays
// undelivered and eligible for retry.
func (s *Service) MarkDeliveryEnded(ctx context.Context, caller *auth.Caller, id string) (*Notification, error) {
	n, err := s.get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := n.EndDelivery(time.Now()); err != nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, err.Error(), nil)
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// DeliveryContext bundles everything a delivery runtime needs to hand a
// notification to an agent: the notification, its task, the recipient agent
// with resolved permissions, and the recent thread.
type DeliveryContext struct {
	Notification *Notification             `json:"notification"`
	Task         *task.Task                `json:"task,omitempty"`
	Agent        *agent.Agent              `json:"agent,omitempty"`
	Flags        *permission.BehaviorFlags `json:"flags,omitempty"`
	Thread       []*message.Message        `json:"thread,omitempty"`
}

func (s *Service) GetDeliveryContext(ctx context.Context, caller *auth.Caller, id string) (*DeliveryContext, error) {
	n, err := s.get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	dc := &DeliveryContext{Notification: n}
	if n.TaskID != "" {
		t, err := s.tasks.Get(ctx, n.TaskID)
		if err != nil {
			return nil, err
		}
		dc.Task = t
		thread, err := s.messages.ListByTask(ctx, n.TaskID, deliveryContextThreadSize)
		if err != nil {
			return nil, err
		}
		dc.Thread = thread
	}
	if n.RecipientType == RecipientAgent {
		a, err := s.agents.Get(ctx, n.RecipientID)
		if err != nil {
			return nil, err
		}
		acc, err := s.accounts.Get(ctx, a.AccountID)
		if err != nil {
			return nil, err
		}
		flags := permission.Resolve(permission.Defaults(), acc.Behavior, a.Behavior)
		dc.Agent = a
		dc.Flags = &flags
	}
	return dc, nil
}

func (s *Service) get(ctx context.Context, caller *auth.Caller, id string) (*Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.AccountID != caller.AccountID {
		return nil, cerr.NewError(cerr.PermissionDenied, "resource belongs to a different account", nil)
	}
	return n, nil
}
