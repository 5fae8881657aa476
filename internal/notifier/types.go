package notifier

import (
	"context"
	"time"

	"subwatch/internal/record"
)

// Key identifies one notifiable submission of one account.
type Key struct {
	Account string
	Record  record.Key
}

// Event is a single "new submission" notification.
type Event struct {
	Account     string    `json:"account"`
	AccountName string    `json:"account_name"`
	Problem     string    `json:"problem"`
	ProblemName string    `json:"problem_name"`
	PostDate    string    `json:"post_date"`
	Posted      time.Time `json:"-"`
	Difficulty  string    `json:"difficulty"`
	Color       string    `json:"color"`
	Session     string    `json:"session,omitempty"`
}

func (e Event) Key() Key {
	return Key{Account: e.Account, Record: record.Key{Problem: e.Problem, PostDate: e.PostDate}}
}

// Sink receives events. Implementations must tolerate duplicates.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

// Observer receives notification outcomes. stage is "emit" for dispatcher
// emissions and the channel name for queued deliveries.
type Observer interface {
	ObserveNotify(stage string, err error)
}

// Config controls the async delivery pipeline (Service).
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Channel       string
	ChatID        int64
	ThreadID      int
	ParseMode     string
}

// DeliveryStats counts queued deliveries since the service was created.
type DeliveryStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}
