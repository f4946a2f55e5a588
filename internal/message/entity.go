package message

import "time"

type AuthorType string

const (
	AuthorUser  AuthorType = "user"
	AuthorAgent AuthorType = "agent"
)

// Message is one entry in a task's thread. The thread itself is a plain
// append-only log; rendering and rich content are a client concern.
type Message struct {
	ID         string     `yaml:"id" json:"id"`
	AccountID  string     `yaml:"account_id" json:"account_id"`
	TaskID     string     `yaml:"task_id" json:"task_id"`
	AuthorType AuthorType `yaml:"author_type" json:"author_type"`
	AuthorID   string     `yaml:"author_id" json:"author_id"`
	Body       string     `yaml:"body" json:"body"`
	CreatedAt  time.Time  `yaml:"created_at" json:"created_at"`
}
