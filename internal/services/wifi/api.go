package wifi

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
)

const maxSSIDLen = 32

func setNetwork(id, param string) string {
	return "SET_NETWORK " + id + " " + param
}

func validSSID(ssid []byte) error {
	if len(ssid) == 0 || len(ssid) > maxSSIDLen {
		return fmt.Errorf("%w: ssid length %d", StatusParamFailed, len(ssid))
	}
	return nil
}

// requireStarted reports NotStarted unless a supplicant is up and serving.
func (d *Driver) requireStarted() error {
	if d.state == StateNotStarted || d.state == StateTerminating || !d.running {
		return StatusNotStarted
	}
	return nil
}

func (d *Driver) newSession() *session {
	s := &session{
		notifier:     newNotifier(),
		kick:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		recoveryDone: make(chan struct{}),
	}
	go d.recoveryLoop(s)
	return s
}

// Start brings up the supplicant if needed and switches it to kind. ap is
// required for KindSoftAP and ignored otherwise.
func (d *Driver) Start(ctx context.Context, kind InterfaceKind, ap *AccessPointConfig) error {
	if kind != KindStation && kind != KindSoftAP && kind != KindP2P {
		return fmt.Errorf("%w: interface kind %s", StatusParamFailed, kind)
	}
	if kind == KindSoftAP && ap == nil {
		return fmt.Errorf("%w: AP mode needs a configuration", StatusParamFailed)
	}
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if d.state == StateTerminating {
		return fmt.Errorf("%w: stop in progress", StatusNotAllowed)
	}
	if kindOf(d.state) == kind {
		return StatusAlreadyStarted
	}
	if d.session == nil {
		d.session = d.newSession()
	}
	d.busy = "start"
	defer func() { d.busy = "" }()
	log.Printf("wifi: starting %s mode from %s", kind, d.state)
	return d.apiStart(ctx, kind, ap)
}

// apiStart is shared by Start and the recovery replay.
func (d *Driver) apiStart(ctx context.Context, kind InterfaceKind, ap *AccessPointConfig) error {
	if err := d.init(ctx); err != nil {
		return err
	}
	switch kind {
	case KindStation:
		return d.startStation(ctx)
	case KindSoftAP:
		return d.startSoftAP(ctx, ap)
	default:
		return d.startP2P(ctx)
	}
}

func (d *Driver) init(ctx context.Context) error {
	d.scanning = false
	if d.proc == nil {
		return d.startSupplicant(ctx)
	}
	if !d.running {
		return fmt.Errorf("%w: supplicant is not running", StatusError)
	}
	return nil
}

func (d *Driver) startSupplicant(ctx context.Context) error {
	if d.cfg.ConfigFile != "" {
		if err := ensureConfigFile(d.cfg.ConfigFile, d.cfg.CtrlDir); err != nil {
			return fmt.Errorf("%w: %w", StatusSupplicantStartFailed, err)
		}
	}
	proc, err := d.launcher.Launch(ctx, d.cfg.SupplicantPath, supplicantArgs(d.cfg))
	if err != nil {
		return fmt.Errorf("%w: %w", StatusSupplicantStartFailed, err)
	}

	ch, err := d.dialSupplicant(ctx)
	if err != nil {
		if kerr := proc.Kill(); kerr != nil {
			log.Printf("wifi: kill supplicant: %v", kerr)
		}
		reap(proc, d.cfg.TerminateTimeout)
		return fmt.Errorf("%w: %w", StatusSupplicantStartFailed, err)
	}
	log.Printf("wifi: supplicant started, pid %d", proc.Pid())

	d.proc = proc
	d.ch = ch
	d.running = true
	d.setState(StateSupplicantRunning)
	d.monitorDone = make(chan struct{})
	go d.monitor(ch, d.monitorDone)

	d.postStart(ctx)
	return nil
}

// dialSupplicant retries until the control socket appears or StartTimeout
// passes.
func (d *Driver) dialSupplicant(ctx context.Context) (Channel, error) {
	deadline := time.Now().Add(d.cfg.StartTimeout)
	path := d.cfg.socketPath()
	for {
		ch, err := d.dialer.Dial(ctx, path)
		if err == nil {
			return ch, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("dial %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryDelay):
		}
	}
}

func (d *Driver) postStart(ctx context.Context) {
	rec, err := loadNV(ctx, d.nv)
	if err != nil {
		log.Printf("wifi: %v, using defaults", err)
		rec = nvRecord{Country: DefaultCountryCode, TxPower: DefaultTxPower}
	}
	d.try(ctx, "DRIVER COUNTRY "+rec.Country)
	d.try(ctx, fmt.Sprintf("SET_TX_POWER %d", rec.TxPower))
	d.try(ctx, "SET update_config 1")
	d.setScanInterval(ctx, scanIntervalIdle)
	d.try(ctx, fmt.Sprintf("BSS_EXPIRE_AGE %d", bssExpireAge))
}

func (d *Driver) startStation(ctx context.Context) error {
	switch {
	case isApState(d.state):
		if err := d.stopAP(ctx); err != nil {
			return err
		}
	case d.state == StateP2P:
		d.setState(StateSupplicantRunning)
	}
	d.activeIface = d.cfg.Interface
	auto := 0
	if d.cfg.AutoConnect {
		auto = 1
	}
	d.try(ctx, fmt.Sprintf("STA_AUTOCONNECT %d", auto))
	return nil
}

func (d *Driver) startSoftAP(ctx context.Context, ap *AccessPointConfig) error {
	switch {
	case kindOf(d.state) == KindStation:
		if err := d.stopStation(ctx); err != nil {
			return err
		}
	case d.state == StateP2P:
		d.setState(StateSupplicantRunning)
	}
	d.activeIface = d.cfg.Interface
	d.try(ctx, "STA_AUTOCONNECT 0")
	if err := d.startAP(ctx, ap); err != nil {
		return err
	}
	if !d.recovering {
		d.rec.ap = ap.Clone()
	}
	return nil
}

func (d *Driver) startP2P(ctx context.Context) error {
	switch {
	case isApState(d.state):
		if err := d.stopAP(ctx); err != nil {
			return err
		}
	case kindOf(d.state) == KindStation:
		if err := d.stopStation(ctx); err != nil {
			return err
		}
	}
	d.activeIface = d.cfg.P2PInterface
	d.try(ctx, "STA_AUTOCONNECT 0")
	d.setState(StateP2P)
	return nil
}

// stopStation leaves any station network so another mode can start.
func (d *Driver) stopStation(ctx context.Context) error {
	switch d.state {
	case StateStaConnecting:
		d.try(ctx, "DISCONNECT")
		d.removeNetwork(ctx, d.networkID)
		d.networkID = ""
		d.joinCount = 0
		d.setState(StateSupplicantRunning)
	case StateStaConnected:
		return d.disconnect(ctx)
	}
	return nil
}

// disconnect leaves the connected network and waits for the monitor to see
// the matching disconnect event.
func (d *Driver) disconnect(ctx context.Context) error {
	d.setState(StateStaDisconnecting)
	drain(d.semDisconnect)
	if err := d.command(ctx, "DISCONNECT"); err != nil {
		d.setState(StateStaConnected)
		return err
	}
	return d.await(d.semDisconnect, "disconnect")
}

func (d *Driver) stopAP(ctx context.Context) error {
	prev := d.state
	d.setState(StateApDisabling)
	drain(d.semAP)
	if err := d.command(ctx, "STOP_AP"); err != nil {
		d.setState(prev)
		return err
	}
	if err := d.await(d.semAP, "AP disable"); err != nil {
		return err
	}
	if d.state != StateSupplicantRunning {
		return fmt.Errorf("%w: AP still active in %s", StatusError, d.state)
	}
	d.try(ctx, "DISABLE_NETWORK all")
	d.removeNetwork(ctx, d.networkID)
	d.networkID = ""
	d.numSta = 0
	d.apConfig = nil
	return nil
}

// addNetwork returns the id of an existing network with this SSID, or of a
// newly added one.
func (d *Driver) addNetwork(ctx context.Context, ssid []byte) (id string, existing bool, err error) {
	if len(ssid) > 0 {
		if text, err := d.query(ctx, "LIST_NETWORKS"); err == nil {
			if id, ok := findNetworkID(text, EncodeSSID(ssid)); ok {
				return id, true, nil
			}
		}
	}
	text, err := d.query(ctx, "ADD_NETWORK")
	if err != nil {
		return "", false, err
	}
	id = strings.TrimSpace(text)
	if _, err := strconv.Atoi(id); err != nil {
		return "", false, fmt.Errorf("%w: ADD_NETWORK returned %q", StatusCommandFailed, id)
	}
	return id, false, nil
}

func (d *Driver) startAP(ctx context.Context, ap *AccessPointConfig) error {
	d.setState(StateApEnabling)
	id, _, err := d.addNetwork(ctx, ap.SSID)
	if err != nil {
		d.setState(StateSupplicantRunning)
		return err
	}
	ch := d.ch
	fail := func(err error) error {
		// the supplicant may have been stopped or replaced during the wait
		if d.running && ch != nil && d.ch == ch {
			d.removeNetwork(ctx, id)
			d.setState(StateSupplicantRunning)
		}
		return err
	}

	country := DefaultCountryCode
	if rec, err := loadNV(ctx, d.nv); err == nil {
		country = rec.Country
	}
	cmds, err := apCommands(id, ap, country, d.cfg.HashPassphrase)
	if err != nil {
		return fail(err)
	}
	for _, c := range cmds {
		if err := d.command(ctx, c); err != nil {
			return fail(err)
		}
	}

	drain(d.semAP)
	if err := d.command(ctx, "SELECT_NETWORK "+id); err != nil {
		return fail(err)
	}
	if err := d.await(d.semAP, "AP enable"); err != nil {
		return fail(err)
	}
	if d.state != StateApEnabled && d.state != StateApConnected {
		return fail(fmt.Errorf("%w: AP did not start, in %s", StatusError, d.state))
	}
	d.networkID = id
	d.apConfig = ap.Clone()
	log.Printf("wifi: AP %q enabled on network %s", EncodeSSID(ap.SSID), id)
	return nil
}

// Stop leaves the current mode, terminates the supplicant and ends the
// session. Stopping a stopped driver succeeds.
func (d *Driver) Stop(ctx context.Context) error {
	if err := d.enter(ctx); err != nil {
		return err
	}
	if d.state == StateTerminating || d.busy == "stop" {
		d.mu.Unlock()
		return fmt.Errorf("%w: stop in progress", StatusNotAllowed)
	}

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if d.busy != "" {
		// Terminating releases the waiting caller through deinit.
		log.Printf("wifi: stopping during %s in %s", d.busy, d.state)
	} else {
		d.busy = "stop"
		switch {
		case d.state == StateStaConnected || d.state == StateStaConnecting:
			keep(d.stopStation(ctx))
		case isApState(d.state):
			keep(d.stopAP(ctx))
		}
		d.busy = ""
	}

	d.clearRecovery()
	sess := d.session
	d.session = nil
	if sess != nil {
		sess.notifier.enqueue(notification{kind: notifyShutdown})
	}

	proc, ch, done := d.proc, d.ch, d.monitorDone
	if ch != nil && d.running {
		d.setState(StateTerminating)
		drain(d.semTerminate)
		if err := d.command(ctx, "TERMINATE"); err != nil {
			keep(err)
		} else {
			keep(d.await(d.semTerminate, "terminate"))
		}
	}
	d.running = false
	d.mu.Unlock()

	reap(proc, d.cfg.TerminateTimeout)
	if ch != nil {
		if err := ch.Close(true); err != nil {
			log.Printf("wifi: close control channel: %v", err)
		}
	}
	if done != nil {
		<-done
	}
	if sess != nil {
		close(sess.quit)
		<-sess.recoveryDone
		<-sess.notifier.done
	}

	d.mu.Lock()
	d.deinit()
	d.monitorDone = nil
	d.mu.Unlock()
	if proc != nil {
		log.Printf("wifi: stopped")
	}
	return first
}

// deinit drops everything tied to the supplicant process and releases any
// caller still waiting on an event. The recovery gate is left alone.
func (d *Driver) deinit() {
	d.cur = callbacks{}
	d.running = false
	d.scanning = false
	d.proc = nil
	d.ch = nil
	d.numSta = 0
	d.joinCount = 0
	d.networkID = ""
	d.scanNetworkID = ""
	d.apConfig = nil
	d.activeIface = ""
	d.setState(StateNotStarted)
	post(d.semAP)
	post(d.semDisconnect)
	post(d.semTerminate)
}

// NetworkJoin starts joining ssid. The outcome arrives as a LinkUp
// notification whose Reason.Code is zero on success.
func (d *Driver) NetworkJoin(ctx context.Context, ssid []byte, bssid net.HardwareAddr, sec *SecurityConfig) error {
	if err := validSSID(ssid); err != nil {
		return err
	}
	if sec != nil && sec.Mode != SecurityOpen && sec.Passphrase == "" {
		return fmt.Errorf("%w: %s needs a passphrase", StatusParamFailed, sec.Mode)
	}
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	switch d.state {
	case StateSupplicantRunning:
	case StateStaConnected:
		return StatusAlreadyConnected
	case StateNotStarted, StateTerminating:
		return StatusNotStarted
	default:
		return fmt.Errorf("%w: join in %s", StatusNotAllowed, d.state)
	}
	if err := d.joinNetwork(ctx, ssid, bssid, sec); err != nil {
		return err
	}
	if !d.recovering {
		d.rec.saveJoin(ssid, bssid, sec)
	}
	return nil
}

func (d *Driver) joinNetwork(ctx context.Context, ssid []byte, bssid net.HardwareAddr, sec *SecurityConfig) error {
	id, existing, err := d.addNetwork(ctx, ssid)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		d.networkID = ""
		if d.running && d.ch != nil {
			d.removeNetwork(ctx, id)
			d.setState(StateSupplicantRunning)
		}
		return err
	}

	var params []string
	if !existing {
		params = append(params, `ssid P"`+EncodeSSID(ssid)+`"`, "scan_ssid 1")
	}
	if len(bssid) > 0 {
		params = append(params, "bssid "+bssid.String())
	}
	for _, p := range params {
		if err := d.command(ctx, setNetwork(id, p)); err != nil {
			return fail(err)
		}
	}

	secParams, err := securityParams(sec, false, ssid, d.cfg.HashPassphrase)
	if err != nil {
		return fail(err)
	}
	for _, p := range secParams {
		if err := d.command(ctx, setNetwork(id, p)); err != nil {
			return fail(fmt.Errorf("%w: %w", StatusSecurityFailed, err))
		}
	}

	d.setState(StateStaConnecting)
	d.joinCount = 0
	d.networkID = id
	d.setScanInterval(ctx, scanIntervalConnect)
	if err := d.command(ctx, "SELECT_NETWORK "+id); err != nil {
		return fail(err)
	}
	log.Printf("wifi: joining %q on network %s", EncodeSSID(ssid), id)
	return nil
}

// NetworkLeave disconnects the station and blocks until the supplicant
// confirms.
func (d *Driver) NetworkLeave(ctx context.Context) error {
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return err
	}
	if d.state != StateStaConnected {
		return StatusNotConnected
	}
	d.rec.hasJoin = false
	d.busy = "leave"
	defer func() { d.busy = "" }()
	return d.disconnect(ctx)
}

// ScanNetwork requests a full scan. A registered scan callback fires once
// when results are ready.
func (d *Driver) ScanNetwork(ctx context.Context) error {
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return err
	}
	if err := d.command(ctx, "SCAN"); err != nil {
		return err
	}
	d.scanning = true
	return nil
}

// ScanSpecificNetwork scans for one SSID, which also finds hidden networks.
func (d *Driver) ScanSpecificNetwork(ctx context.Context, ssid []byte, sec *SecurityConfig) error {
	if err := validSSID(ssid); err != nil {
		return err
	}
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return err
	}
	if d.scanNetworkID != "" {
		d.removeNetwork(ctx, d.scanNetworkID)
		d.scanNetworkID = ""
	}

	text, err := d.query(ctx, "ADD_NETWORK")
	if err != nil {
		return err
	}
	id := strings.TrimSpace(text)
	if _, err := strconv.Atoi(id); err != nil {
		return fmt.Errorf("%w: ADD_NETWORK returned %q", StatusCommandFailed, id)
	}

	cmds := []string{setNetwork(id, `ssid P"`+EncodeSSID(ssid)+`"`), setNetwork(id, "scan_ssid 1")}
	secParams, err := securityParams(sec, false, ssid, d.cfg.HashPassphrase)
	if err != nil {
		d.removeNetwork(ctx, id)
		return err
	}
	for _, p := range secParams {
		cmds = append(cmds, setNetwork(id, p))
	}
	cmds = append(cmds, "SCAN scan_id="+id)
	for _, c := range cmds {
		if err := d.command(ctx, c); err != nil {
			d.removeNetwork(ctx, id)
			return err
		}
	}
	d.scanNetworkID = id
	d.scanning = true
	return nil
}

// GetScanResults reads the supplicant's BSS table. The list must be handed
// back with FreeScanResults.
func (d *Driver) GetScanResults(ctx context.Context) (*ScanList, error) {
	if err := d.enter(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return nil, err
	}
	text, err := d.query(ctx, "SCAN_RESULTS")
	if err != nil {
		return nil, err
	}

	list := &ScanList{}
	for _, bssid := range parseScanBSSIDs(text) {
		reply, err := d.query(ctx, "BSS "+bssid)
		if err != nil {
			log.Printf("wifi: read BSS %s: %v", bssid, err)
			continue
		}
		info, ok := parseBSS(reply)
		if !ok {
			if d.cfg.Verbose {
				log.Printf("wifi: discarding unparsable BSS %s", bssid)
			}
			continue
		}
		list.Results = append(list.Results, info)
	}
	list.stats = statsOf(list.Results)

	d.allocMu.Lock()
	d.outstanding = d.outstanding.add(list.stats)
	d.allocMu.Unlock()
	return list, nil
}

// FreeScanResults releases a list from GetScanResults and returns what it
// held. Freeing the same list twice releases nothing the second time.
func (d *Driver) FreeScanResults(list *ScanList) ScanStats {
	if list == nil || list.freed {
		return ScanStats{}
	}
	st := list.stats
	list.Results = nil
	list.stats = ScanStats{}
	list.freed = true

	d.allocMu.Lock()
	d.outstanding = d.outstanding.sub(st)
	d.allocMu.Unlock()
	return st
}

// OutstandingScanAllocations reports scan results handed out and not yet
// freed.
func (d *Driver) OutstandingScanAllocations() ScanStats {
	d.allocMu.Lock()
	defer d.allocMu.Unlock()
	return d.outstanding
}

// RegisterLinkCallback replaces the link handlers. When a link is already
// up, up is called straight away.
func (d *Driver) RegisterLinkCallback(ctx context.Context, up, down LinkFunc) error {
	if err := d.enter(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	d.cur.linkUp, d.cur.linkDown = up, down
	d.saved.linkUp, d.saved.linkDown = up, down

	switch {
	case !d.running:
	case d.state == StateStaConnected:
		reason, err := d.linkDetails(ctx)
		if err != nil {
			log.Printf("wifi: read link status: %v", err)
		}
		d.notifyLink(notifyLinkUp, reason)
	case d.state == StateApConnected:
		d.notifyLink(notifyLinkUp, Reason{})
	}
	return nil
}

// RegisterScanCallback replaces the scan handler. It is called once, for the
// next completed scan.
func (d *Driver) RegisterScanCallback(ctx context.Context, fn ScanFunc) error {
	if err := d.enter(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	d.cur.scan = fn
	d.saved.scan = fn
	return nil
}

// SetTxPower stores the transmit power. It is applied to the driver at once
// when a link is up, and on the next start otherwise.
func (d *Driver) SetTxPower(ctx context.Context, dbm int) error {
	if dbm < minTxPower || dbm > maxTxPower {
		return fmt.Errorf("%w: tx power %d dBm outside %d..%d", StatusParamFailed, dbm, minTxPower, maxTxPower)
	}
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if d.running && isConnected(d.state) {
		if err := d.command(ctx, fmt.Sprintf("SET_TX_POWER %d", dbm)); err != nil {
			return err
		}
	}
	if err := updateNV(ctx, d.nv, func(r *nvRecord) { r.TxPower = uint8(dbm) }); err != nil {
		return fmt.Errorf("%w: %w", StatusError, err)
	}
	return nil
}

// GetTxPower asks the driver, falling back to the stored value.
func (d *Driver) GetTxPower(ctx context.Context) (int, error) {
	if err := d.enter(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return 0, err
	}
	if text, err := d.query(ctx, "GET_TX_POWER"); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
			return v, nil
		}
	}
	rec, err := loadNV(ctx, d.nv)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", StatusError, err)
	}
	return int(rec.TxPower), nil
}

// SetCountryCode stores a two letter country code. In station mode it is
// also sent to the driver.
func (d *Driver) SetCountryCode(ctx context.Context, cc string) error {
	if len(cc) != 2 || cc[0] < 'A' || cc[0] > 'Z' || cc[1] < 'A' || cc[1] > 'Z' {
		return fmt.Errorf("%w: country code %q", StatusParamFailed, cc)
	}
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if d.running && kindOf(d.state) == KindStation {
		if err := d.command(ctx, "DRIVER COUNTRY "+cc); err != nil {
			return err
		}
	}
	if err := updateNV(ctx, d.nv, func(r *nvRecord) { r.Country = cc }); err != nil {
		return fmt.Errorf("%w: %w", StatusError, err)
	}
	return nil
}

// GetCountryCode returns the stored country code.
func (d *Driver) GetCountryCode(ctx context.Context) (string, error) {
	if err := d.enter(ctx); err != nil {
		return "", err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return "", err
	}
	rec, err := loadNV(ctx, d.nv)
	if err != nil {
		return "", fmt.Errorf("%w: %w", StatusError, err)
	}
	return rec.Country, nil
}

// GetMAC returns the hardware address of the active interface.
func (d *Driver) GetMAC(ctx context.Context) (net.HardwareAddr, error) {
	if err := d.enter(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return nil, err
	}
	text, err := d.query(ctx, "STATUS")
	if err != nil {
		return nil, err
	}
	mac, err := net.ParseMAC(statusFields(text)["address"])
	if err != nil {
		return nil, fmt.Errorf("%w: no address in STATUS", StatusError)
	}
	return mac, nil
}

// connectedQuery runs command for GetRSSI and GetChannel and returns the
// value of key in the reply.
func (d *Driver) connectedQuery(ctx context.Context, command, key string) (int, error) {
	if err := d.enter(ctx); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return 0, err
	}
	if !isConnected(d.state) {
		return 0, StatusNotConnected
	}
	text, err := d.query(ctx, command)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(statusFields(text)[key])
	if err != nil {
		return 0, fmt.Errorf("%w: no %s in %s", StatusError, key, command)
	}
	return v, nil
}

// GetRSSI returns the signal strength of the current link in dBm.
func (d *Driver) GetRSSI(ctx context.Context) (int, error) {
	return d.connectedQuery(ctx, "SIGNAL_POLL", "RSSI")
}

// GetChannel returns the channel of the current link.
func (d *Driver) GetChannel(ctx context.Context) (int, error) {
	freq, err := d.connectedQuery(ctx, "STATUS", "freq")
	if err != nil {
		return 0, err
	}
	return freqToChannel(freq), nil
}

// IsConnected returns the number of links up: 1 for a connected station with
// its details, or the number of associated stations in AP mode.
func (d *Driver) IsConnected(ctx context.Context) (int, *Reason, error) {
	if err := d.enter(ctx); err != nil {
		return 0, nil, err
	}
	defer d.mu.Unlock()

	switch d.state {
	case StateStaConnected:
		reason, err := d.linkDetails(ctx)
		if err != nil {
			return 1, nil, err
		}
		return 1, &reason, nil
	case StateApConnected:
		return d.numSta, nil, nil
	case StateNotStarted:
		return 0, nil, StatusNotStarted
	default:
		return 0, nil, StatusNotConnected
	}
}

// SaveConfig writes the supplicant's networks to its configuration file.
func (d *Driver) SaveConfig(ctx context.Context) error {
	if d.cfg.ConfigFile == "" {
		return StatusNotSupported
	}
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	switch {
	case d.requireStarted() != nil:
		return StatusNotStarted
	case kindOf(d.state) != KindStation:
		return fmt.Errorf("%w: save config in %s", StatusNotAllowed, d.state)
	}
	return d.command(ctx, "SAVE_CONFIG")
}

// ForcePanic asks the driver to crash the firmware, which exercises
// recovery.
func (d *Driver) ForcePanic(ctx context.Context) error {
	if err := d.admit(ctx); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.requireStarted(); err != nil {
		return err
	}
	return d.command(ctx, "DRIVER FORCE_PANIC")
}

// GetOpMode returns the active interface kind without waiting for recovery.
func (d *Driver) GetOpMode() InterfaceKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return kindOf(d.state)
}
