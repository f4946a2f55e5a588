package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/taskrelay/taskrelay/internal/config"
	"github.com/taskrelay/taskrelay/internal/pushsubscription"
)

type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// PushSender delivers notifications to human recipients through Web Push.
type PushSender struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
}

func NewPushSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *PushSender {
	return &PushSender{
		vapidEnv: vapidEnv,
		repo:     repo,
	}
}

// SendToUser pushes the payload to every subscription the user registered.
// Succeeds when at least one endpoint accepts the push; expired endpoints
// (410 Gone) are pruned along the way.
func (s *PushSender) SendToUser(ctx context.Context, accountID, userID string, payload *PushPayload) error {
	if s.vapidEnv.VAPIDPrivateKey == "" || s.vapidEnv.VAPIDPublicKey == "" {
		return errors.New("VAPID keys not configured")
	}

	subs, err := s.repo.ListByUser(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("user %s has no push subscriptions", userID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	delivered := false
	for _, sub := range subs {
		if s.sendToSubscription(ctx, sub, data) {
			delivered = true
		}
	}
	if !delivered {
		return fmt.Errorf("no push endpoint accepted the notification for user %s", userID)
	}
	return nil
}

func (s *PushSender) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) bool {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotification(data, wpSub, &webpush.Options{
		VAPIDPublicKey:  s.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapidEnv.VAPIDPrivateKey,
		Subscriber:      s.vapidEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		slog.Error("web push: failed to send", "endpoint", sub.Endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		slog.Info("web push: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			slog.Error("web push: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return false
	}

	if resp.StatusCode >= 400 {
		slog.Warn("web push: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		return false
	}
	return true
}
