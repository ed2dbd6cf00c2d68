package wifi

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/bbernstein/lacylights-wifi/internal/telemetry"
)

type recoveryPhase int

const (
	phaseIdle recoveryPhase = iota
	// phaseTerminating waits for the hung supplicant to report TERMINATING.
	phaseTerminating
	// phaseTearingDown is set while the old process is being reaped.
	phaseTearingDown
	// phaseReplaying restarts the supplicant and restores the saved mode.
	phaseReplaying
)

// recoveryData is what a recovery cycle needs to restore the driver. The
// join and AP snapshots are recorded as the matching operations succeed and
// are kept until Stop, so a later hang can restore them again.
type recoveryData struct {
	oldState        State
	recoveringState State
	// replaying is set while reinitiate drives the API, so convergence seen by
	// the monitor does not open the gate before the replay has finished.
	replaying bool

	hasJoin   bool
	joinSSID  []byte
	joinBSSID net.HardwareAddr
	joinSec   *SecurityConfig

	ap *AccessPointConfig

	phase recoveryPhase
	epoch int
	timer *time.Timer
}

func (r *recoveryData) saveJoin(ssid []byte, bssid net.HardwareAddr, sec *SecurityConfig) {
	r.hasJoin = true
	r.joinSSID = append([]byte(nil), ssid...)
	r.joinBSSID = append(net.HardwareAddr(nil), bssid...)
	r.joinSec = sec.clone()
}

type recoveryAction int

const (
	actionUndefined recoveryAction = iota
	// actionRelease restores nothing and opens the gate.
	actionRelease
	// actionStationRelease restarts station mode and opens the gate at once.
	actionStationRelease
	// actionStation restarts station mode and waits for convergence.
	actionStation
	// actionRejoin restarts station mode and replays the saved join.
	actionRejoin
	// actionAccessPoint restarts the saved AP.
	actionAccessPoint
	// actionP2P restarts P2P mode.
	actionP2P
	// actionShutdown leaves the driver stopped.
	actionShutdown
)

type recoveryStep struct {
	action recoveryAction
	// target replaces the expected state when retarget is set.
	target   State
	retarget bool
}

// reinitiateTable maps the state at the time of the hang onto the recovery
// replay. Every State has an entry.
var reinitiateTable = [...]recoveryStep{
	StateNotStarted:        {action: actionRelease},
	StateSupplicantRunning: {action: actionStationRelease},
	StateStaConnecting:     {action: actionRejoin, target: StateStaConnected, retarget: true},
	StateStaConnected:      {action: actionRejoin},
	StateStaDisconnecting:  {action: actionStation, target: StateSupplicantRunning, retarget: true},
	StateApEnabling:        {action: actionAccessPoint, target: StateApEnabled, retarget: true},
	StateApEnabled:         {action: actionAccessPoint},
	StateApConnected:       {action: actionAccessPoint, target: StateApEnabled, retarget: true},
	StateApDisabling:       {action: actionShutdown},
	StateTerminating:       {action: actionShutdown},
	StateRecovering:        {action: actionRelease},
	StateP2P:               {action: actionP2P},
}

func stepFor(s State) recoveryStep {
	if s < 0 || int(s) >= len(reinitiateTable) || reinitiateTable[s].action == actionUndefined {
		return recoveryStep{action: actionRelease}
	}
	return reinitiateTable[s]
}

// handleHang starts a recovery cycle when ev reports a hung driver. It
// returns true when the event was consumed.
func (d *Driver) handleHang(ctx context.Context, ev Event) bool {
	if ev.Type != EventHung {
		return false
	}
	if !d.cfg.AutoRecovery || d.session == nil {
		log.Printf("recovery: driver hang reported in %s, auto recovery disabled", d.state)
		return true
	}
	if d.recovering || d.state == StateTerminating || d.state == StateRecovering {
		return false
	}

	log.Printf("recovery: driver hang reported in %s", d.state)
	telemetry.RecoveriesTotal.Inc()
	d.rec.oldState = d.state
	d.rec.recoveringState = d.state
	d.setState(StateRecovering)
	d.recovering = true
	d.gate = make(chan struct{})
	d.rec.phase = phaseTerminating
	d.armRecoveryTimer()

	if err := d.command(ctx, "TERMINATE"); err != nil {
		log.Printf("recovery: terminate supplicant: %v", err)
	}
	return true
}

// teardownForRecovery reaps the hung supplicant, closes its channel and
// hands over to the recovery goroutine. mu is released while reaping.
func (d *Driver) teardownForRecovery() {
	d.rec.phase = phaseTearingDown
	proc := d.proc
	d.mu.Unlock()
	reap(proc, d.cfg.TerminateTimeout)
	d.mu.Lock()

	d.running = false
	if d.ch != nil {
		if err := d.ch.Close(false); err != nil {
			log.Printf("recovery: close control channel: %v", err)
		}
	}
	d.deinit()

	d.rec.phase = phaseReplaying
	d.armRecoveryTimer()
	if d.session != nil {
		select {
		case d.session.kick <- struct{}{}:
		default:
		}
	}
}

// recoveryLoop replays the saved state each time it is kicked.
func (d *Driver) recoveryLoop(s *session) {
	defer close(s.recoveryDone)
	for {
		select {
		case <-s.quit:
			return
		case <-s.kick:
		}
		d.mu.Lock()
		if d.recovering && d.rec.phase == phaseReplaying && d.session == s {
			d.reinitiate()
		}
		d.mu.Unlock()
	}
}

// reinitiate runs with mu held. It makes a single attempt; a failed replay
// opens the gate and leaves the driver where the replay stopped.
func (d *Driver) reinitiate() {
	step := stepFor(d.rec.oldState)
	if step.retarget {
		d.rec.recoveringState = step.target
	}
	log.Printf("recovery: restoring %s", d.rec.oldState)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RecoveryTimeout)
	defer cancel()

	d.rec.replaying = true
	var err error
	switch step.action {
	case actionRelease:
		d.verifyBack(ctx)
		return
	case actionStationRelease:
		err = d.apiStart(ctx, KindStation, nil)
		d.rec.replaying = false
		d.verifyBack(ctx)
		if err != nil {
			log.Printf("recovery: restart station: %v", err)
		}
		return
	case actionStation:
		err = d.apiStart(ctx, KindStation, nil)
	case actionRejoin:
		err = d.apiStart(ctx, KindStation, nil)
		if err == nil && d.rec.hasJoin {
			err = d.joinNetwork(ctx, d.rec.joinSSID, d.rec.joinBSSID, d.rec.joinSec)
		}
	case actionAccessPoint:
		if d.rec.ap == nil {
			err = fmt.Errorf("%w: no saved AP configuration", StatusError)
			break
		}
		err = d.apiStart(ctx, KindSoftAP, d.rec.ap.Clone())
	case actionP2P:
		err = d.apiStart(ctx, KindP2P, nil)
	case actionShutdown:
		d.setState(StateNotStarted)
		d.verifyBack(ctx)
		return
	}
	d.rec.replaying = false

	if err != nil {
		log.Printf("recovery: replay of %s failed: %v", d.rec.oldState, err)
		if d.recovering {
			d.verifyBack(ctx)
		}
		return
	}
	d.verifyRecovered(ctx)
}

// verifyRecovered opens the gate once the live state matches the expected
// one, and synthesizes the link notification observers missed when the
// restored state differs from the state at the time of the hang.
func (d *Driver) verifyRecovered(ctx context.Context) {
	if !d.recovering || d.rec.phase != phaseReplaying || d.rec.replaying {
		return
	}
	if d.state != d.rec.recoveringState {
		if d.cfg.Verbose {
			log.Printf("recovery: in %s, waiting for %s", d.state, d.rec.recoveringState)
		}
		return
	}

	d.verifyBack(ctx)
	if d.rec.recoveringState == d.rec.oldState {
		return
	}
	switch d.rec.oldState {
	case StateStaDisconnecting, StateApConnected:
		d.notifyLink(notifyLinkDown, Reason{})
	case StateStaConnecting:
		d.notifyLink(notifyLinkUp, Reason{})
	}
}

// verifyBack restores the registered callbacks, resumes a pending scan and
// releases parked API callers.
func (d *Driver) verifyBack(ctx context.Context) {
	d.cur = d.saved
	if d.saved.scan != nil && d.ch != nil {
		if err := d.command(ctx, "SCAN"); err != nil {
			log.Printf("recovery: restart scan: %v", err)
		} else {
			d.scanning = true
		}
	}
	d.releaseGate()
	log.Printf("recovery: back in %s", d.state)
}

func (d *Driver) releaseGate() {
	if d.rec.timer != nil {
		d.rec.timer.Stop()
		d.rec.timer = nil
	}
	d.rec.phase = phaseIdle
	d.rec.replaying = false
	d.rec.epoch++
	if d.recovering {
		d.recovering = false
		close(d.gate)
	}
}

// armRecoveryTimer bounds the current recovery phase by RecoveryTimeout.
func (d *Driver) armRecoveryTimer() {
	if d.rec.timer != nil {
		d.rec.timer.Stop()
	}
	d.rec.epoch++
	epoch := d.rec.epoch
	d.rec.timer = time.AfterFunc(d.cfg.RecoveryTimeout, func() { d.recoveryTimeout(epoch) })
}

func (d *Driver) recoveryTimeout(epoch int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.recovering || d.rec.epoch != epoch {
		return
	}
	switch d.rec.phase {
	case phaseTerminating:
		log.Printf("recovery: no TERMINATING after %s, forcing teardown", d.cfg.RecoveryTimeout)
		d.teardownForRecovery()
	case phaseReplaying:
		log.Printf("recovery: state %s did not reach %s in %s", d.state, d.rec.recoveringState, d.cfg.RecoveryTimeout)
		d.verifyBack(context.Background())
	}
}

// clearRecovery drops the snapshot. Called from Stop.
func (d *Driver) clearRecovery() {
	d.releaseGate()
	d.rec = recoveryData{epoch: d.rec.epoch}
	d.saved = callbacks{}
}
