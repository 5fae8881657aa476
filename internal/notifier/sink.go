package notifier

import (
	"context"
	"errors"

	logx "subwatch/pkg/logx"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Log.Info("new submission",
		logx.String("account", e.Account),
		logx.String("account_name", e.AccountName),
		logx.String("problem", e.Problem),
		logx.String("problem_name", e.ProblemName),
		logx.String("difficulty", e.Difficulty),
		logx.String("color", e.Color),
		logx.String("post_date", e.PostDate),
	)
	return nil
}

// Multi fans an event out to every sink. All sinks are tried; their errors are joined.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
