package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	c1, u1 := b.Subscribe(1)
	c2, u2 := b.Subscribe(1)
	defer u1()
	defer u2()

	b.Publish(Event{Type: TypeCycleCompleted, Data: CycleInfo{Cycle: 1}})

	for i, ch := range []<-chan Event{c1, c2} {
		select {
		case e := <-ch:
			if e.Type != TypeCycleCompleted || e.Time.IsZero() {
				t.Fatalf("sub %d got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d got nothing", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := Dropped(b); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
