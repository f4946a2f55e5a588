package delivery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskrelay/taskrelay/internal/account"
	"github.com/taskrelay/taskrelay/internal/agent"
	"github.com/taskrelay/taskrelay/internal/config"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	"github.com/taskrelay/taskrelay/internal/notification"
	"github.com/taskrelay/taskrelay/pkg/panicerr"
)

const watchDebounce = 500 * time.Millisecond

// Runner is the delivery loop. It polls for undelivered notifications oldest
// first and walks each through read, attempt, then delivered or
// delivery-ended. Between ticks it wakes early on notification-created events
// and, with local storage, on filesystem writes under the notifications
// prefix (another process may share the data directory).
type Runner struct {
	env      *config.DeliveryEnv
	repo     notification.Repository
	accounts account.Repository
	agents   agent.Repository
	bus      *eventbus.Bus
	push     *PushSender
	watchDir string
}

func NewRunner(
	env *config.DeliveryEnv,
	repo notification.Repository,
	accounts account.Repository,
	agents agent.Repository,
	bus *eventbus.Bus,
	push *PushSender,
	watchDir string,
) *Runner {
	return &Runner{
		env:      env,
		repo:     repo,
		accounts: accounts,
		agents:   agents,
		bus:      bus,
		push:     push,
		watchDir: watchDir,
	}
}

func (r *Runner) Start(ctx context.Context) error {
	return panicerr.SafeContext(r.run)(ctx)
}

func (r *Runner) run(ctx context.Context) error {
	subID, events := r.bus.Subscribe(256)
	defer r.bus.Unsubscribe(subID)

	var watchEvents chan fsnotify.Event
	if r.env.WatchStorage && r.watchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("delivery: storage watch unavailable", "error", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(r.watchDir); err != nil {
				slog.Warn("delivery: failed to watch notifications dir", "dir", r.watchDir, "error", err)
			} else {
				watchEvents = make(chan fsnotify.Event)
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case ev, ok := <-watcher.Events:
							if !ok {
								return
							}
							select {
							case watchEvents <- ev:
							default:
							}
						case err, ok := <-watcher.Errors:
							if !ok {
								return
							}
							slog.Warn("delivery: watch error", "error", err)
						}
					}
				}()
			}
		}
	}

	ticker := time.NewTicker(r.env.PollInterval)
	defer ticker.Stop()

	// Debounce timer for early wakeups so a burst of writes runs one cycle.
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	slog.Info("delivery runner started", "interval", r.env.PollInterval)
	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("delivery runner stopped")
			return nil
		case <-ticker.C:
			r.cycle(ctx)
		case <-debounce.C:
			r.cycle(ctx)
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Type == eventbus.EventNotificationCreated {
				debounce.Reset(watchDebounce)
			}
		case ev := <-watchEvents:
			if strings.HasSuffix(ev.Name, ".yaml") && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				debounce.Reset(watchDebounce)
			}
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	accounts, err := r.accounts.List(ctx)
	if err != nil {
		slog.Error("delivery: failed to list accounts", "error", err)
		return
	}
	for _, acc := range accounts {
		page, err := r.repo.ListUndelivered(ctx, acc.ID, r.env.PageSize)
		if err != nil {
			slog.Error("delivery: failed to list undelivered", "account_id", acc.ID, "error", err)
			continue
		}
		for _, n := range page {
			if ctx.Err() != nil {
				return
			}
			r.attempt(ctx, n)
		}
	}
}

func (r *Runner) attempt(ctx context.Context, n *notification.Notification) {
	n.Read(time.Now())
	if err := r.repo.Update(ctx, n); err != nil {
		slog.Error("delivery: failed to mark read", "id", n.ID, "error", err)
		return
	}

	err := r.deliver(ctx, n)
	if err != nil {
		slog.Warn("delivery: attempt failed", "id", n.ID, "recipient", n.RecipientID, "error", err)
		if endErr := n.EndDelivery(time.Now()); endErr != nil {
			slog.Error("delivery: failed to end delivery", "id", n.ID, "error", endErr)
			return
		}
		if updErr := r.repo.Update(ctx, n); updErr != nil {
			slog.Error("delivery: failed to persist delivery end", "id", n.ID, "error", updErr)
		}
		return
	}

	n.Deliver(time.Now())
	if err := r.repo.Update(ctx, n); err != nil {
		slog.Error("delivery: failed to mark delivered", "id", n.ID, "error", err)
		return
	}
	r.bus.PublishNew(eventbus.EventNotificationDelivered, n.AccountID, n.ID, nil)
}

func (r *Runner) deliver(ctx context.Context, n *notification.Notification) error {
	switch n.RecipientType {
	case notification.RecipientAgent:
		a, err := r.agents.Get(ctx, n.RecipientID)
		if err != nil {
			return err
		}
		if a.Status == agent.StatusOffline || a.Status == agent.StatusError {
			return &agentUnavailableError{agentID: a.ID, status: string(a.Status)}
		}
		r.bus.PublishNew(eventbus.EventNotificationDispatched, n.AccountID, n.ID, map[string]string{
			"recipient_id": n.RecipientID,
			"type":         string(n.Type),
		})
		return nil
	case notification.RecipientUser:
		return r.push.SendToUser(ctx, n.AccountID, n.RecipientID, &PushPayload{
			Title: n.Title,
			Body:  n.Body,
			URL:   "/tasks/" + n.TaskID,
			Tag:   n.ID,
		})
	default:
		return &agentUnavailableError{agentID: n.RecipientID, status: "unknown recipient type"}
	}
}

type agentUnavailableError struct {
	agentID string
	status  string
}

func (e *agentUnavailableError) Error() string {
	return "agent " + e.agentID + " unavailable: " + e.status
}
