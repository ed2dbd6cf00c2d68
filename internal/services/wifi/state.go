package wifi

// State is the interface state of the driver.
type State int

const (
	StateNotStarted State = iota
	StateSupplicantRunning
	StateStaConnecting
	StateStaConnected
	StateStaDisconnecting
	StateApEnabling
	StateApEnabled
	StateApConnected
	StateApDisabling
	StateTerminating
	StateRecovering
	StateP2P
)

var stateNames = [...]string{
	StateNotStarted:        "NOT_STARTED",
	StateSupplicantRunning: "SUPPLICANT_RUNNING",
	StateStaConnecting:     "STA_CONNECTING",
	StateStaConnected:      "STA_CONNECTED",
	StateStaDisconnecting:  "STA_DISCONNECTING",
	StateApEnabling:        "AP_ENABLING",
	StateApEnabled:         "AP_ENABLED",
	StateApConnected:       "AP_CONNECTED",
	StateApDisabling:       "AP_DISABLING",
	StateTerminating:       "TERMINATING",
	StateRecovering:        "RECOVERING",
	StateP2P:               "P2P",
}

// String returns the state name, or UNKNOWN.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// kindOf derives the active interface from a state.
func kindOf(s State) InterfaceKind {
	switch {
	case s >= StateSupplicantRunning && s <= StateStaDisconnecting:
		return KindStation
	case s >= StateApEnabling && s <= StateApDisabling:
		return KindSoftAP
	case s == StateP2P:
		return KindP2P
	default:
		return KindNone
	}
}

func isConnected(s State) bool {
	return s == StateStaConnected || s == StateApConnected
}

func isApState(s State) bool {
	return kindOf(s) == KindSoftAP
}
