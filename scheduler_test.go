package storion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueScheduler_DeferRunsOnFlush(t *testing.T) {
	q := NewQueueScheduler()
	var order []int

	q.Defer(func() { order = append(order, 1) })
	q.Defer(func() {
		order = append(order, 2)
		q.Defer(func() { order = append(order, 3) })
	})
	assert.Empty(t, order)
	assert.Equal(t, 2, q.Pending())

	q.Flush()
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, q.Pending())
}

func TestQueueScheduler_AfterUsesVirtualClock(t *testing.T) {
	q := NewQueueScheduler()
	var order []string

	q.After(2*time.Second, func() { order = append(order, "late") })
	q.After(time.Second, func() { order = append(order, "early") })
	q.After(time.Second, func() { order = append(order, "early-2") })

	q.Flush()
	assert.Empty(t, order)

	q.Advance(time.Second)
	assert.Equal(t, []string{"early", "early-2"}, order)

	q.Advance(time.Second)
	assert.Equal(t, []string{"early", "early-2", "late"}, order)
}

func TestQueueScheduler_Cancel(t *testing.T) {
	q := NewQueueScheduler()
	ran := false

	cancel := q.After(time.Second, func() { ran = true })
	cancel()
	cancel()

	assert.Equal(t, 0, q.Pending())
	q.Advance(time.Minute)
	assert.False(t, ran)
}

func TestTimerScheduler(t *testing.T) {
	s := NewTimerScheduler()

	done := make(chan struct{})
	s.Defer(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred task did not run")
	}

	fired := make(chan struct{}, 1)
	cancel := s.After(time.Hour, func() { fired <- struct{}{} })
	cancel()

	after := make(chan struct{})
	s.After(time.Millisecond, func() { close(after) })
	select {
	case <-after:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.Empty(t, fired)
}
