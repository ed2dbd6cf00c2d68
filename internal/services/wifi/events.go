package wifi

import (
	"net"
	"strconv"
	"strings"
)

// EventType identifies a supplicant event line.
type EventType int

const (
	EventUnknown EventType = iota
	EventScanResults
	EventConnected
	EventDisconnected
	EventTerminating
	EventHung
	EventApEnabled
	EventApDisabled
	EventStationJoined
	EventStationLeft
	EventNetworkNotFound
	EventTempDisabled
	EventAssocFailed
)

var eventPrefixes = []struct {
	prefix string
	typ    EventType
}{
	{"CTRL-EVENT-SCAN-RESULTS", EventScanResults},
	{"CTRL-EVENT-CONNECTED", EventConnected},
	{"CTRL-EVENT-DISCONNECTED", EventDisconnected},
	{"CTRL-EVENT-TERMINATING", EventTerminating},
	{"CTRL-EVENT-HANGED", EventHung},
	{"AP-ENABLED", EventApEnabled},
	{"AP-DISABLED", EventApDisabled},
	{"AP-STA-CONNECTED ", EventStationJoined},
	{"AP-STA-DISCONNECTED ", EventStationLeft},
	{"CTRL-EVENT-NETWORK-NOT-FOUND", EventNetworkNotFound},
	{"CTRL-EVENT-SSID-TEMP-DISABLED", EventTempDisabled},
	{"Association request to the driver failed", EventAssocFailed},
}

// String returns the event name used in logs and metrics.
func (t EventType) String() string {
	switch t {
	case EventScanResults:
		return "scan_results"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTerminating:
		return "terminating"
	case EventHung:
		return "hung"
	case EventApEnabled:
		return "ap_enabled"
	case EventApDisabled:
		return "ap_disabled"
	case EventStationJoined:
		return "sta_joined"
	case EventStationLeft:
		return "sta_left"
	case EventNetworkNotFound:
		return "network_not_found"
	case EventTempDisabled:
		return "temp_disabled"
	case EventAssocFailed:
		return "assoc_failed"
	default:
		return "unknown"
	}
}

// Event is a parsed event line. Reason is filled for disconnect and
// station join/leave events. WellFormed is false when one of the fields the
// event type normally carries was missing or unparsable; the missing fields
// are left zero.
type Event struct {
	Type       EventType
	Reason     Reason
	WellFormed bool
	Raw        string
}

const bssidTextLen = 17

// ParseEvent classifies an event line with its priority prefix already
// removed and extracts the embedded fields.
func ParseEvent(line string) Event {
	ev := Event{Raw: line, WellFormed: true}
	for _, p := range eventPrefixes {
		if strings.HasPrefix(line, p.prefix) {
			ev.Type = p.typ
			break
		}
	}

	switch ev.Type {
	case EventDisconnected:
		ev.Reason, ev.WellFormed = parseDisconnect(line)
	case EventStationJoined:
		ev.Reason.BSSID, ev.WellFormed = parseBSSIDAt(line, len("AP-STA-CONNECTED "))
	case EventStationLeft:
		rest := line[len("AP-STA-DISCONNECTED "):]
		ev.Reason.BSSID, ev.WellFormed = parseBSSIDAt(rest, 0)
		if code, ok := intField(rest, "reason_code="); ok {
			ev.Reason.Code = code
		}
	}
	return ev
}

// parseDisconnect reads bssid=, reason= and locally_generated= in order. Each
// search starts after the previous match, or from the start of the line when
// the previous field was absent.
func parseDisconnect(line string) (Reason, bool) {
	var r Reason
	ok := true

	rest := line
	if i := strings.Index(rest, "bssid="); i >= 0 {
		var good bool
		r.BSSID, good = parseBSSIDAt(rest, i+len("bssid="))
		ok = ok && good
		rest = rest[min(len(rest), i+len("bssid=")+bssidTextLen):]
	} else {
		ok = false
		rest = line
	}

	if code, found := intField(rest, "reason="); found {
		r.Code = code
		rest = rest[strings.Index(rest, "reason="):]
	} else {
		ok = false
		rest = line
	}

	if v, found := intField(rest, "locally_generated="); found {
		r.LocallyGenerated = v != 0
	}
	return r, ok
}

func parseBSSIDAt(s string, off int) (net.HardwareAddr, bool) {
	if off < 0 || len(s) < off+bssidTextLen {
		return nil, false
	}
	mac, err := net.ParseMAC(s[off : off+bssidTextLen])
	if err != nil {
		return nil, false
	}
	return mac, true
}

// intField finds key in s and parses the leading decimal digits after it.
func intField(s, key string) (uint32, bool) {
	i := strings.Index(s, key)
	if i < 0 {
		return 0, false
	}
	v := s[i+len(key):]
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(v[:end], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
