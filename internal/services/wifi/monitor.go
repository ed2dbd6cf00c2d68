package wifi

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/bbernstein/lacylights-wifi/internal/services/ctrl"
	"github.com/bbernstein/lacylights-wifi/internal/telemetry"
)

// monitor processes event lines from ch in arrival order until the channel
// is closed, replaced, or the driver stops running.
func (d *Driver) monitor(ch Channel, done chan struct{}) {
	defer close(done)
	for {
		line, err := ch.Recv(context.Background())
		if err != nil {
			if !errors.Is(err, ctrl.ErrClosed) {
				log.Printf("wifi: monitor stopped: %v", err)
			}
			return
		}
		body, ok := ctrl.StripPriority(line)
		if !ok {
			continue
		}

		d.mu.Lock()
		if d.ch != ch {
			d.mu.Unlock()
			return
		}
		d.handleEvent(strings.TrimRight(body, "\r\n"))
		stop := !d.running || d.ch != ch
		d.mu.Unlock()
		if stop {
			return
		}
	}
}

// handleEvent runs with mu held.
func (d *Driver) handleEvent(line string) {
	ev := ParseEvent(line)
	telemetry.EventsTotal.WithLabelValues(ev.Type.String()).Inc()
	if d.cfg.Verbose {
		log.Printf("wifi: event %q in %s", line, d.state)
	}
	ctx := context.Background()

	if d.handleHang(ctx, ev) {
		return
	}

	if d.state == StateP2P {
		log.Printf("wifi: p2p event ignored: %s", line)
		d.verifyRecovered(ctx)
		return
	}

	if d.scanning && ev.Type == EventScanResults {
		d.scanning = false
		d.notifyScan()
		if d.scanNetworkID != "" {
			d.removeNetwork(ctx, d.scanNetworkID)
			d.scanNetworkID = ""
		}
	}

	switch d.state {
	case StateSupplicantRunning:
		// reconnect after a remote disconnect
		if ev.Type == EventConnected {
			reason, err := d.linkDetails(ctx)
			if err != nil {
				log.Printf("wifi: read link status: %v", err)
			}
			if text, err := d.query(ctx, "LIST_NETWORKS"); err == nil {
				if id, ok := findNetworkID(text, EncodeSSID(reason.SSID)); ok {
					d.networkID = id
				}
			}
			d.setState(StateStaConnected)
			d.setScanInterval(ctx, scanIntervalIdle)
			d.notifyLink(notifyLinkUp, reason)
		}
		d.joinCount = 0

	case StateApEnabling:
		switch ev.Type {
		case EventApEnabled:
			d.setState(StateApEnabled)
			post(d.semAP)
		case EventApDisabled:
			d.setState(StateSupplicantRunning)
			post(d.semAP)
		}

	case StateApEnabled, StateApConnected:
		switch ev.Type {
		case EventStationJoined:
			d.numSta++
			if d.numSta == 1 {
				d.setState(StateApConnected)
			}
			d.notifyLink(notifyLinkUp, Reason{BSSID: ev.Reason.BSSID})
		case EventStationLeft:
			if d.state != StateApConnected {
				break
			}
			d.stationLeft(ev)
			if d.numSta == 0 {
				d.setState(StateApEnabled)
			}
		}

	case StateApDisabling:
		switch ev.Type {
		case EventApDisabled:
			d.setState(StateSupplicantRunning)
			post(d.semAP)
		case EventApEnabled:
			d.setState(StateApEnabled)
			post(d.semAP)
		case EventStationLeft:
			d.stationLeft(ev)
		}

	case StateStaConnecting:
		d.handleConnecting(ctx, ev)

	case StateStaConnected:
		if ev.Type == EventDisconnected {
			d.setState(StateSupplicantRunning)
			d.notifyLink(notifyLinkDown, ev.Reason)
			d.networkID = ""
		}

	case StateStaDisconnecting:
		if ev.Type == EventDisconnected {
			d.setState(StateSupplicantRunning)
			d.try(ctx, "DISABLE_NETWORK all")
			d.removeNetwork(ctx, d.networkID)
			d.networkID = ""
			post(d.semDisconnect)
			d.notifyLink(notifyLinkDown, ev.Reason)
		}

	case StateTerminating:
		if ev.Type == EventTerminating {
			d.running = false
			post(d.semTerminate)
		}

	case StateRecovering:
		if ev.Type == EventTerminating && d.rec.phase == phaseTerminating {
			d.teardownForRecovery()
		}
	}

	d.verifyRecovered(ctx)
}

func (d *Driver) stationLeft(ev Event) {
	if d.numSta > 0 {
		d.numSta--
	}
	d.notifyLink(notifyLinkDown, Reason{BSSID: ev.Reason.BSSID, Code: ev.Reason.Code})
}

func (d *Driver) handleConnecting(ctx context.Context, ev Event) {
	var reason Reason
	switch ev.Type {
	case EventConnected:
		r, err := d.linkDetails(ctx)
		if err != nil {
			log.Printf("wifi: read link status: %v", err)
		}
		reason = r
		d.setState(StateStaConnected)
		d.setScanInterval(ctx, scanIntervalIdle)
	case EventNetworkNotFound:
		d.joinCount++
		if d.joinCount < d.cfg.JoinScanAttempts {
			return
		}
		reason.Code = ReasonNetworkConfigurationNotFound
	case EventTempDisabled:
		reason.Code = ReasonAuthenticationFailed
	case EventAssocFailed, EventDisconnected:
		reason.Code = ReasonAssociationRequestFailed
	default:
		return
	}

	d.joinCount = 0
	if reason.Code != 0 {
		log.Printf("wifi: join failed with reason %d", reason.Code)
		d.setState(StateSupplicantRunning)
		d.removeNetwork(ctx, d.networkID)
		d.networkID = ""
	}
	d.notifyLink(notifyLinkUp, reason)
}
