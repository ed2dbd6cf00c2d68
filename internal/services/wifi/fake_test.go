package wifi

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-wifi/internal/services/ctrl"
)

const (
	testBSSID    = "00:11:22:33:44:55"
	emptyListing = "network id / ssid / bssid / flags\n"
)

// fakeChannel is a scripted supplicant control channel. Replies are looked
// up by full command, then by verb, and default to OK. Hooks push event lines
// after the reply to a command has been produced.
type fakeChannel struct {
	mu       sync.Mutex
	commands []string
	replies  map[string]string
	verbs    map[string]string
	hooks    map[string][]string
	nextID   int

	events chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		replies: map[string]string{},
		verbs: map[string]string{
			"LIST_NETWORKS": emptyListing,
			"STATUS":        "bssid=" + testBSSID + "\nfreq=2437\nssid=home\nwpa_state=COMPLETED\naddress=02:00:00:aa:bb:cc\n",
			"GET_TX_POWER":  "FAIL\n",
		},
		hooks:  map[string][]string{},
		events: make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Request(_ context.Context, command string) (ctrl.Reply, error) {
	f.mu.Lock()
	select {
	case <-f.closed:
		f.mu.Unlock()
		return ctrl.Reply{}, ctrl.ErrClosed
	default:
	}
	f.commands = append(f.commands, command)

	text, ok := f.replies[command]
	if !ok {
		text, ok = f.verbs[verb(command)]
	}
	if !ok {
		text = "OK\n"
		if command == "ADD_NETWORK" {
			text = strconv.Itoa(f.nextID) + "\n"
			f.nextID++
		}
	}
	hooks := f.hooks[command]
	f.mu.Unlock()

	for _, line := range hooks {
		f.emit(line)
	}
	return ctrl.Reply{Text: text, Result: ctrl.Classify(text)}, nil
}

func (f *fakeChannel) Recv(ctx context.Context) (string, error) {
	select {
	case line := <-f.events:
		return line, nil
	case <-f.closed:
		return "", ctrl.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeChannel) Close(bool) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) emit(line string) {
	f.events <- "<3>" + line
}

func (f *fakeChannel) reply(command, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[command] = text
}

func (f *fakeChannel) on(command string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[command] = lines
}

func (f *fakeChannel) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeChannel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out a fresh channel per dial, configured by setup.
type fakeDialer struct {
	mu       sync.Mutex
	setup    func(*fakeChannel)
	channels []*fakeChannel
	err      error
}

func (d *fakeDialer) Dial(context.Context, string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	if d.setup != nil {
		d.setup(ch)
	}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) current() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

type fakeProcess struct {
	pid  int
	exit chan struct{}
	once sync.Once
}

func (p *fakeProcess) Wait() error {
	<-p.exit
	return nil
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.exit) })
	return nil
}

func (p *fakeProcess) Pid() int { return p.pid }

type fakeLauncher struct {
	mu    sync.Mutex
	args  [][]string
	procs []*fakeProcess
	err   error
}

func (l *fakeLauncher) Launch(_ context.Context, _ string, args []string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := &fakeProcess{pid: 1000 + len(l.procs), exit: make(chan struct{})}
	l.args = append(l.args, args)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

// stationHooks scripts a supplicant that connects on SELECT_NETWORK and
// confirms disconnects. Every harness channel already confirms TERMINATE.
func stationHooks(ch *fakeChannel) {
	ch.on("SELECT_NETWORK 0", "CTRL-EVENT-CONNECTED - Connection to "+testBSSID+" completed [id=0 id_str=]")
	ch.on("DISCONNECT", "CTRL-EVENT-DISCONNECTED bssid="+testBSSID+" reason=3 locally_generated=1")
}

// apHooks scripts a supplicant that enables the AP on SELECT_NETWORK.
func apHooks(ch *fakeChannel) {
	ch.on("SELECT_NETWORK 0", "AP-ENABLED ")
	ch.on("STOP_AP", "AP-DISABLED ")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartTimeout = 200 * time.Millisecond
	cfg.EventTimeout = 2 * time.Second
	cfg.RecoveryTimeout = 2 * time.Second
	cfg.TerminateTimeout = 20 * time.Millisecond
	return cfg
}

type harness struct {
	d        *Driver
	launcher *fakeLauncher
	dialer   *fakeDialer
	nv       *MemoryNVStore
}

func newHarness(t *testing.T, cfg Config, setup func(*fakeChannel)) *harness {
	t.Helper()
	h := &harness{
		launcher: &fakeLauncher{},
		dialer: &fakeDialer{setup: func(ch *fakeChannel) {
			ch.on("TERMINATE", "CTRL-EVENT-TERMINATING")
			if setup != nil {
				setup(ch)
			}
		}},
		nv: &MemoryNVStore{},
	}
	h.d = NewDriver(cfg, h.launcher, h.dialer, h.nv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.d.Stop(ctx)
	})
	return h
}

func (h *harness) ch() *fakeChannel {
	return h.dialer.current()
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.d.State()
		return s.State == want && !s.Recovering
	}, 3*time.Second, 5*time.Millisecond, "state never reached %s, last %s", want, h.d.State().State)
}

// connect starts station mode and joins the open network "home".
func (h *harness) connect(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.d.Start(ctx, KindStation, nil))
	require.NoError(t, h.d.NetworkJoin(ctx, []byte("home"), nil, nil))
	h.waitState(t, StateStaConnected)
}

// linkRecorder collects link notifications.
type linkRecorder struct {
	ups   chan Reason
	downs chan Reason
}

func newLinkRecorder() *linkRecorder {
	return &linkRecorder{ups: make(chan Reason, 32), downs: make(chan Reason, 32)}
}

func (r *linkRecorder) up(reason Reason)   { r.ups <- reason }
func (r *linkRecorder) down(reason Reason) { r.downs <- reason }

func next(t *testing.T, ch <-chan Reason) Reason {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no notification delivered")
		return Reason{}
	}
}

func quiet(t *testing.T, ch <-chan Reason, within time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected notification %+v", r)
	case <-time.After(within):
	}
}

var errDial = errors.New("connection refused")
