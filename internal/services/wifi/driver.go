package wifi

import (
	"context"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bbernstein/lacylights-wifi/internal/services/ctrl"
	"github.com/bbernstein/lacylights-wifi/internal/telemetry"
)

const (
	scanIntervalIdle    = 15
	scanIntervalConnect = 10
	bssExpireAge        = 10
	dialRetryDelay      = 100 * time.Millisecond
)

// Config holds driver settings.
type Config struct {
	Interface    string
	P2PInterface string
	CtrlDir      string

	SupplicantPath string
	// ConfigFile is passed with -c and enables SaveConfig. When empty the
	// supplicant is started with -C CtrlDir.
	ConfigFile string
	LogFile    string

	AutoRecovery bool
	AutoConnect  bool

	RequestTimeout time.Duration
	RequestRetries int
	StartTimeout   time.Duration
	// EventTimeout bounds waits for AP, disconnect and terminate events.
	// Zero waits forever.
	EventTimeout     time.Duration
	RecoveryTimeout  time.Duration
	TerminateTimeout time.Duration

	JoinScanAttempts int
	HashPassphrase   bool
	Verbose          bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Interface:        "wlan0",
		P2PInterface:     "p2p0",
		CtrlDir:          "/var/run/wpa_supplicant",
		SupplicantPath:   "wpa_supplicant",
		AutoRecovery:     true,
		AutoConnect:      true,
		RequestTimeout:   ctrl.DefaultTimeout,
		RequestRetries:   ctrl.DefaultRetryCount,
		StartTimeout:     5 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		TerminateTimeout: 5 * time.Second,
		JoinScanAttempts: 3,
	}
}

func (c Config) socketPath() string {
	return filepath.Join(c.CtrlDir, c.Interface)
}

// callbacks is one set of registered notification handlers.
type callbacks struct {
	linkUp   LinkFunc
	linkDown LinkFunc
	scan     ScanFunc
}

// session lives from the first Start to Stop and owns the delivery and
// recovery goroutines.
type session struct {
	notifier     *notifier
	kick         chan struct{}
	quit         chan struct{}
	recoveryDone chan struct{}
}

// Driver supervises one supplicant and serializes every operation on it.
//
// All fields below mu are guarded by it. Blocking waits for supplicant events
// release mu first, so the monitor can make progress while a caller waits.
type Driver struct {
	cfg      Config
	launcher ProcessLauncher
	dialer   Dialer
	nv       NVStore

	mu    sync.Mutex
	state State

	// recovering parks API callers on gate until recovery completes.
	recovering bool
	gate       chan struct{}
	rec        recoveryData

	// busy names the operation that is waiting on a supplicant event with mu
	// released. Other operations that change the supplicant are refused.
	busy string

	proc        Process
	ch          Channel
	running     bool
	monitorDone chan struct{}
	session     *session

	scanning      bool
	networkID     string
	scanNetworkID string
	numSta        int
	joinCount     int
	apConfig      *AccessPointConfig
	activeIface   string

	semAP         chan struct{}
	semDisconnect chan struct{}
	semTerminate  chan struct{}

	cur   callbacks
	saved callbacks

	allocMu     sync.Mutex
	outstanding ScanStats
}

// NewDriver creates a stopped driver. A nil launcher or dialer selects the
// real supplicant executable and control socket.
func NewDriver(cfg Config, launcher ProcessLauncher, dialer Dialer, nv NVStore) *Driver {
	def := DefaultConfig()
	if cfg.Interface == "" {
		cfg.Interface = def.Interface
	}
	if cfg.CtrlDir == "" {
		cfg.CtrlDir = def.CtrlDir
	}
	if cfg.SupplicantPath == "" {
		cfg.SupplicantPath = def.SupplicantPath
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = def.TerminateTimeout
	}
	if cfg.JoinScanAttempts <= 0 {
		cfg.JoinScanAttempts = def.JoinScanAttempts
	}
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if dialer == nil {
		dialer = CtrlDialer{Retries: cfg.RequestRetries, Timeout: cfg.RequestTimeout}
	}
	if nv == nil {
		nv = &MemoryNVStore{}
	}
	return &Driver{
		cfg:           cfg,
		launcher:      launcher,
		dialer:        dialer,
		nv:            nv,
		semAP:         make(chan struct{}, 1),
		semDisconnect: make(chan struct{}, 1),
		semTerminate:  make(chan struct{}, 1),
	}
}

// enter takes the critical section, first waiting out any recovery in
// progress. It returns with mu held unless ctx ends while parked.
func (d *Driver) enter(ctx context.Context) error {
	d.mu.Lock()
	for d.recovering {
		gate := d.gate
		d.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
	}
	return nil
}

// admit is enter for operations that change the supplicant. It refuses them
// while another operation waits on an event.
func (d *Driver) admit(ctx context.Context) error {
	if err := d.enter(ctx); err != nil {
		return err
	}
	if d.busy != "" {
		busy := d.busy
		d.mu.Unlock()
		return fmt.Errorf("%w: %s in progress", StatusNotAllowed, busy)
	}
	return nil
}

// await releases mu, waits for one post on sem and takes mu again. It fails
// with NotStarted when the control channel was torn down meanwhile.
func (d *Driver) await(sem chan struct{}, what string) error {
	ch := d.ch
	d.mu.Unlock()

	var timeout <-chan time.Time
	if d.cfg.EventTimeout > 0 {
		t := time.NewTimer(d.cfg.EventTimeout)
		defer t.Stop()
		timeout = t.C
	}
	var err error
	select {
	case <-sem:
	case <-timeout:
		err = fmt.Errorf("%w: timed out waiting for %s", StatusError, what)
	}

	d.mu.Lock()
	if err == nil && d.ch != ch {
		err = fmt.Errorf("%w: supplicant stopped while waiting for %s", StatusNotStarted, what)
	}
	return err
}

func post(sem chan struct{}) {
	select {
	case sem <- struct{}{}:
	default:
	}
}

func drain(sem chan struct{}) {
	select {
	case <-sem:
	default:
	}
}

func (d *Driver) setState(s State) {
	if d.state == s {
		return
	}
	if d.cfg.Verbose {
		log.Printf("wifi: state %s -> %s", d.state, s)
	}
	d.state = s
	telemetry.StateTransitionsTotal.WithLabelValues(s.String()).Inc()
}

// request sends one command on the current channel.
func (d *Driver) request(ctx context.Context, command string) (ctrl.Reply, error) {
	v := verb(command)
	if d.ch == nil {
		telemetry.CommandsTotal.WithLabelValues(v, "error").Inc()
		return ctrl.Reply{}, fmt.Errorf("%w: no control channel for %s", StatusNotStarted, v)
	}
	if d.cfg.Verbose {
		log.Printf("wifi: > %s", redact(command))
	}
	reply, err := d.ch.Request(ctx, command)
	if err != nil {
		telemetry.CommandsTotal.WithLabelValues(v, "error").Inc()
		return ctrl.Reply{}, fmt.Errorf("%w: %w", StatusError, err)
	}
	telemetry.CommandsTotal.WithLabelValues(v, reply.Result.String()).Inc()
	if d.cfg.Verbose {
		log.Printf("wifi: < %s", strings.TrimSpace(reply.Text))
	}
	return reply, nil
}

// command sends a command that must be answered with OK.
func (d *Driver) command(ctx context.Context, command string) error {
	reply, err := d.request(ctx, command)
	if err != nil {
		return err
	}
	if reply.Result != ctrl.ResultSuccess {
		return fmt.Errorf("%w: %s: %s", statusFromResult(reply.Result), verb(redact(command)), strings.TrimSpace(reply.Text))
	}
	return nil
}

// query sends a command that answers with a value.
func (d *Driver) query(ctx context.Context, command string) (string, error) {
	reply, err := d.request(ctx, command)
	if err != nil {
		return "", err
	}
	switch reply.Result {
	case ctrl.ResultCommandFailed, ctrl.ResultCommandUnknown:
		return "", fmt.Errorf("%w: %s", statusFromResult(reply.Result), verb(command))
	}
	return reply.Text, nil
}

// try sends a command whose failure is only logged.
func (d *Driver) try(ctx context.Context, command string) {
	if err := d.command(ctx, command); err != nil {
		log.Printf("wifi: %s failed: %v", verb(redact(command)), err)
	}
}

func verb(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}

func (d *Driver) removeNetwork(ctx context.Context, id string) {
	if id == "" {
		return
	}
	d.try(ctx, "REMOVE_NETWORK "+id)
}

// statusFields parses a STATUS reply into its key=value pairs.
func statusFields(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			out[k] = v
		}
	}
	return out
}

// linkDetails reads the connected SSID and BSSID from STATUS.
func (d *Driver) linkDetails(ctx context.Context) (Reason, error) {
	text, err := d.query(ctx, "STATUS")
	if err != nil {
		return Reason{}, err
	}
	f := statusFields(text)
	var r Reason
	if mac, err := net.ParseMAC(f["bssid"]); err == nil {
		r.BSSID = mac
	}
	if ssid, ok := f["ssid"]; ok {
		r.SSID = DecodeSSID(ssid)
	}
	return r, nil
}

// State returns a snapshot of the driver state without waiting for recovery.
func (d *Driver) State() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		State:      d.state,
		Kind:       kindOf(d.state),
		Interface:  d.activeIface,
		Stations:   d.numSta,
		Recovering: d.recovering,
		Scanning:   d.scanning,
	}
}

func (d *Driver) setScanInterval(ctx context.Context, seconds int) {
	d.try(ctx, fmt.Sprintf("SCAN_INTERVAL %d", seconds))
}
