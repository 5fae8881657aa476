package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is one outbound message queued by the notifier service.
type Notification struct {
	Channel string // "telegram" now
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

// Sender delivers text to a chat. Long texts may be split into several
// messages; the returned ref points at the first one.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender with a lifecycle.
type Adapter interface {
	Sender
	Name() string
	Stop(ctx context.Context) error
}
