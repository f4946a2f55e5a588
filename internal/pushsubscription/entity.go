package pushsubscription

import "time"

// Subscription is a Web Push endpoint registered by a human user's browser.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	AccountID string    `yaml:"account_id" json:"account_id"`
	UserID    string    `yaml:"user_id" json:"user_id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key" json:"auth_key"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}
