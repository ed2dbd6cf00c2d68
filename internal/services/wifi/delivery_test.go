package wifi

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-wifi/internal/telemetry"
)

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

func TestNotifier_DeliversInOrderBeforeShutdown(t *testing.T) {
	n := newNotifier()

	var mu sync.Mutex
	var got []uint32
	link := func(r Reason) {
		mu.Lock()
		got = append(got, r.Code)
		mu.Unlock()
	}

	for i := 1; i <= notificationQueueSize; i++ {
		require.True(t, n.enqueue(notification{kind: notifyLinkUp, reason: Reason{Code: uint32(i)}, link: link}))
	}
	require.True(t, n.enqueue(notification{kind: notifyShutdown}))
	waitClosed(t, n.done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, notificationQueueSize)
	for i, code := range got {
		assert.Equal(t, uint32(i+1), code)
	}
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	telemetry.InitMetrics()
	dropped := telemetry.NotificationsDroppedTotal.WithLabelValues("link_down", "full")
	before := testutil.ToFloat64(dropped)

	n := newNotifier()
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	count := func(Reason) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}

	require.True(t, n.enqueue(notification{kind: notifyLinkUp, link: func(Reason) {
		close(entered)
		<-release
	}}))
	waitClosed(t, entered)

	accepted := 0
	for i := 0; i < 2*notificationQueueSize; i++ {
		if n.enqueue(notification{kind: notifyLinkDown, link: count}) {
			accepted++
		}
	}
	// the blocked callback still holds one slot
	assert.Equal(t, notificationQueueSize-1, accepted)
	assert.Equal(t, before+float64(2*notificationQueueSize-accepted), testutil.ToFloat64(dropped))

	// shutdown is accepted even when full
	require.True(t, n.enqueue(notification{kind: notifyShutdown}))
	close(release)
	waitClosed(t, n.done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, accepted, delivered)
}

func TestNotifier_DropsAfterShutdown(t *testing.T) {
	n := newNotifier()
	require.True(t, n.enqueue(notification{kind: notifyShutdown}))
	assert.False(t, n.enqueue(notification{kind: notifyLinkDown, link: func(Reason) { t.Error("delivered after shutdown") }}))
	waitClosed(t, n.done)
}

func TestNotifier_RecoversCallbackPanic(t *testing.T) {
	n := newNotifier()
	called := make(chan struct{})

	n.enqueue(notification{kind: notifyScanResult, scan: func() { panic("boom") }})
	n.enqueue(notification{kind: notifyScanResult, scan: func() { close(called) }})
	n.enqueue(notification{kind: notifyShutdown})

	waitClosed(t, called)
	waitClosed(t, n.done)
}

func TestNotifier_CallbackMayReenter(t *testing.T) {
	n := newNotifier()
	inner := make(chan struct{})

	n.enqueue(notification{kind: notifyLinkUp, link: func(Reason) {
		n.enqueue(notification{kind: notifyScanResult, scan: func() { close(inner) }})
		n.enqueue(notification{kind: notifyShutdown})
	}})

	waitClosed(t, inner)
	waitClosed(t, n.done)
}

func TestNotificationKindString(t *testing.T) {
	assert.Equal(t, "shutdown", notifyShutdown.String())
	assert.Equal(t, "link_up", notifyLinkUp.String())
	assert.Equal(t, "link_down", notifyLinkDown.String())
	assert.Equal(t, "scan_result", notifyScanResult.String())
}
