package wifi

import (
	"log"
	"sync"

	"github.com/bbernstein/lacylights-wifi/internal/telemetry"
)

// notificationQueueSize is the maximum number of notifications accepted and
// not yet delivered. Shutdown is always accepted.
const notificationQueueSize = 10

type notificationKind int

const (
	notifyShutdown notificationKind = iota
	notifyLinkUp
	notifyLinkDown
	notifyScanResult
)

func (k notificationKind) String() string {
	switch k {
	case notifyShutdown:
		return "shutdown"
	case notifyLinkUp:
		return "link_up"
	case notifyLinkDown:
		return "link_down"
	default:
		return "scan_result"
	}
}

// notification carries the handler captured when it was enqueued, so a
// handler replaced later still receives what was queued for it.
type notification struct {
	kind   notificationKind
	reason Reason
	link   LinkFunc
	scan   ScanFunc
}

// notifier moves notifications from the critical section to user callbacks.
// enqueue never blocks: entries are appended to pending and a pump goroutine
// feeds them into the queue read by the delivery goroutine. At most
// notificationQueueSize entries are in flight; more are dropped. Shutdown is
// itself an entry, so everything queued before it is delivered first.
type notifier struct {
	mu       sync.Mutex
	pending  []notification
	inflight int
	closed   bool
	wake     chan struct{}

	queue chan notification
	done  chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		wake:  make(chan struct{}, 1),
		queue: make(chan notification, notificationQueueSize),
		done:  make(chan struct{}),
	}
	go n.pump()
	go n.deliver()
	return n
}

func (n *notifier) enqueue(msg notification) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		log.Printf("wifi: dropping %s notification after shutdown", msg.kind)
		telemetry.NotificationsDroppedTotal.WithLabelValues(msg.kind.String(), "shutdown").Inc()
		return false
	}
	if msg.kind == notifyShutdown {
		n.closed = true
	} else {
		if n.inflight >= notificationQueueSize {
			n.mu.Unlock()
			log.Printf("wifi: notification queue full, dropping %s", msg.kind)
			telemetry.NotificationsDroppedTotal.WithLabelValues(msg.kind.String(), "full").Inc()
			return false
		}
		n.inflight++
	}
	n.pending = append(n.pending, msg)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	return true
}

func (n *notifier) pump() {
	for range n.wake {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		n.mu.Unlock()

		for _, msg := range batch {
			n.queue <- msg
			if msg.kind == notifyShutdown {
				close(n.queue)
				return
			}
		}
	}
}

func (n *notifier) deliver() {
	defer close(n.done)
	for msg := range n.queue {
		if msg.kind == notifyShutdown {
			return
		}
		dispatch(msg)
		n.mu.Lock()
		n.inflight--
		n.mu.Unlock()
	}
}

func dispatch(msg notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("wifi: %s callback panicked: %v", msg.kind, r)
		}
	}()
	switch msg.kind {
	case notifyLinkUp, notifyLinkDown:
		if msg.link != nil {
			msg.link(msg.reason)
		}
	case notifyScanResult:
		if msg.scan != nil {
			msg.scan()
		}
	}
	telemetry.NotificationsTotal.WithLabelValues(msg.kind.String()).Inc()
}

// notifyLink queues a link notification for the current handler. Nothing is
// queued when no handler is registered.
func (d *Driver) notifyLink(kind notificationKind, reason Reason) {
	fn := d.cur.linkUp
	if kind == notifyLinkDown {
		fn = d.cur.linkDown
	}
	if fn == nil || d.session == nil {
		return
	}
	d.session.notifier.enqueue(notification{kind: kind, reason: reason, link: fn})
}

// notifyScan queues the scan handler once and unregisters it.
func (d *Driver) notifyScan() {
	fn := d.cur.scan
	d.cur.scan = nil
	d.saved.scan = nil
	if fn == nil || d.session == nil {
		return
	}
	d.session.notifier.enqueue(notification{kind: notifyScanResult, scan: fn})
}
