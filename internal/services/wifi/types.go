// Package wifi drives a wpa_supplicant process over its control socket and
// exposes station, soft-AP and P2P operation behind a thread-safe API.
package wifi

import (
	"fmt"
	"net"
	"strings"
)

// InterfaceKind is the logical interface the driver is operating.
type InterfaceKind int

const (
	KindNone InterfaceKind = iota
	KindStation
	KindSoftAP
	KindP2P
)

// String returns the lower case kind name accepted by ParseInterfaceKind.
func (k InterfaceKind) String() string {
	switch k {
	case KindStation:
		return "station"
	case KindSoftAP:
		return "ap"
	case KindP2P:
		return "p2p"
	default:
		return "none"
	}
}

// ParseInterfaceKind accepts the names produced by InterfaceKind.String.
func ParseInterfaceKind(s string) (InterfaceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "station", "sta", "client":
		return KindStation, nil
	case "ap", "softap":
		return KindSoftAP, nil
	case "p2p":
		return KindP2P, nil
	case "none", "":
		return KindNone, nil
	}
	return KindNone, fmt.Errorf("%w: unknown interface kind %q", StatusParamFailed, s)
}

// SecurityMode is a bitfield of authentication and cipher flags.
type SecurityMode uint32

const (
	SecurityOpen      SecurityMode = 0
	SecurityWEP       SecurityMode = 0x1
	SecurityWEPShared SecurityMode = 0x2
	SecurityWPATKIP   SecurityMode = 0x100
	SecurityWPACCMP   SecurityMode = 0x200
	SecurityWPAMixed  SecurityMode = SecurityWPATKIP | SecurityWPACCMP
	SecurityWPA2TKIP  SecurityMode = 0x400
	SecurityWPA2CCMP  SecurityMode = 0x800
	SecurityWPA2Mixed SecurityMode = SecurityWPA2TKIP | SecurityWPA2CCMP
	SecurityEAP       SecurityMode = 0x1000

	securityWPAAny  = SecurityWPAMixed
	securityWPA2Any = SecurityWPA2Mixed
)

var securityNames = []struct {
	mode SecurityMode
	name string
}{
	{SecurityOpen, "open"},
	{SecurityWEP, "wep"},
	{SecurityWEPShared, "wep_shared"},
	{SecurityWPATKIP, "wpa_tkip"},
	{SecurityWPACCMP, "wpa_ccmp"},
	{SecurityWPAMixed, "wpa_mixed"},
	{SecurityWPA2TKIP, "wpa2_tkip"},
	{SecurityWPA2CCMP, "wpa2_ccmp"},
	{SecurityWPA2Mixed, "wpa2_mixed"},
	{SecurityEAP, "eap"},
}

// String returns the mode name accepted by ParseSecurityMode.
func (m SecurityMode) String() string {
	for _, n := range securityNames {
		if n.mode == m {
			return n.name
		}
	}
	return fmt.Sprintf("0x%x", uint32(m))
}

// ParseSecurityMode maps a name such as "wpa2_ccmp" onto its mode.
func ParseSecurityMode(s string) (SecurityMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range securityNames {
		if n.name == s {
			return n.mode, nil
		}
	}
	return SecurityOpen, fmt.Errorf("%w: unknown security mode %q", StatusParamFailed, s)
}

// SecurityConfig is a security mode and its passphrase or key.
type SecurityConfig struct {
	Mode       SecurityMode
	Passphrase string
}

func (s *SecurityConfig) clone() *SecurityConfig {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// VendorIE is a vendor specific information element.
type VendorIE struct {
	OUI     [3]byte
	Content []byte
}

// HT capability bits used when building an AP network.
const (
	HTCapGreenField uint16 = 0x0010
	HTCapShortGI20  uint16 = 0x0020
)

// HTMode is the HT capability info and the supported MCS set.
type HTMode struct {
	CapabInfo uint16
	MCSIndex  [10]byte
}

// AccessPointConfig describes a soft-AP network.
type AccessPointConfig struct {
	SSID         []byte
	Channel      int
	BeaconPeriod int
	DTIMPeriod   int
	// PhyMode 0 disables HT.
	PhyMode   int
	HT        HTMode
	Security  *SecurityConfig
	VendorIEs []VendorIE
}

// Clone returns a deep copy.
func (c *AccessPointConfig) Clone() *AccessPointConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.SSID = append([]byte(nil), c.SSID...)
	out.Security = c.Security.clone()
	if c.VendorIEs != nil {
		out.VendorIEs = make([]VendorIE, len(c.VendorIEs))
		for i, ie := range c.VendorIEs {
			out.VendorIEs[i] = VendorIE{OUI: ie.OUI, Content: append([]byte(nil), ie.Content...)}
		}
	}
	return &out
}

// Reason codes reported with a failed LinkUp.
const (
	ReasonNetworkConfigurationNotFound uint32 = 1
	ReasonAuthenticationFailed         uint32 = 2
	ReasonAssociationRequestFailed     uint32 = 3
)

// Reason accompanies link notifications. On LinkUp a non-zero Code means the
// join failed.
type Reason struct {
	BSSID            net.HardwareAddr
	Code             uint32
	LocallyGenerated bool
	SSID             []byte
}

// LinkFunc receives link-up and link-down notifications.
type LinkFunc func(Reason)

// ScanFunc is called once when a requested scan completes.
type ScanFunc func()

// ScanInfo is one BSS from the last scan.
type ScanInfo struct {
	BSSID        net.HardwareAddr
	SSID         []byte
	Channel      int
	BeaconPeriod int
	// BSSType is 1 for IBSS and 0 for infrastructure.
	BSSType    int
	RSSI       int
	PhyMode    int
	HT         HTMode
	WPSSupport bool
	SecModes   []SecurityMode
	VendorIEs  []VendorIE
}

// ScanList owns the records returned by GetScanResults until FreeScanResults.
type ScanList struct {
	Results []ScanInfo
	stats   ScanStats
	freed   bool
}

// ScanStats counts scan result allocations.
type ScanStats struct {
	Nodes           int
	SecModeArrays   int
	VendorIEBuffers int
}

func (s ScanStats) add(o ScanStats) ScanStats {
	return ScanStats{
		Nodes:           s.Nodes + o.Nodes,
		SecModeArrays:   s.SecModeArrays + o.SecModeArrays,
		VendorIEBuffers: s.VendorIEBuffers + o.VendorIEBuffers,
	}
}

func (s ScanStats) sub(o ScanStats) ScanStats {
	return ScanStats{
		Nodes:           s.Nodes - o.Nodes,
		SecModeArrays:   s.SecModeArrays - o.SecModeArrays,
		VendorIEBuffers: s.VendorIEBuffers - o.VendorIEBuffers,
	}
}

func statsOf(results []ScanInfo) ScanStats {
	var st ScanStats
	for _, r := range results {
		st.Nodes++
		if r.SecModes != nil {
			st.SecModeArrays++
		}
		for _, ie := range r.VendorIEs {
			if ie.Content != nil {
				st.VendorIEBuffers++
			}
		}
	}
	return st
}

// Snapshot is a consistent view of driver state.
type Snapshot struct {
	State      State
	Kind       InterfaceKind
	Interface  string
	Stations   int
	Recovering bool
	Scanning   bool
}
