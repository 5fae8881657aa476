package systemd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	logx "subwatch/pkg/logx"
)

func TestDisabledNotifierIsInert(t *testing.T) {
	n := New(false, logx.Nop())
	assert.Zero(t, n.WatchdogInterval())
	n.Ready()
	n.Status("idle")
	n.Stopping()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, n.Run(ctx, func() time.Duration { return time.Minute }))
}

func TestHeartbeatMovesForward(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := New(true, logx.Nop())
	before := n.lastBeat.Load()
	time.Sleep(time.Millisecond)
	n.Heartbeat()
	assert.Greater(t, n.lastBeat.Load(), before)
}
