package scheduler

import (
	"fmt"

	logx "subwatch/pkg/logx"
)

// cronLogger routes robfig/cron's logging into logx; its info chatter is
// demoted to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, pairs(kv)...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(pairs(kv), logx.Err(err))...)
}

func pairs(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 1; i < len(kv); i += 2 {
		fields = append(fields, logx.Any(fmt.Sprint(kv[i-1]), kv[i]))
	}
	return fields
}
