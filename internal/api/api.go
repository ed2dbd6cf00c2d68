// Package api holds the request and response bodies shared by the wifid HTTP
// server and the wifictl client.
package api

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bbernstein/lacylights-wifi/internal/services/network"
	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
)

// StartRequest is the body of POST /api/start.
type StartRequest struct {
	Kind string     `json:"kind" yaml:"kind"`
	AP   *APProfile `json:"ap,omitempty" yaml:"ap,omitempty"`
}

// JoinRequest is the body of POST /api/join.
type JoinRequest struct {
	SSID       string `json:"ssid" yaml:"ssid"`
	BSSID      string `json:"bssid,omitempty" yaml:"bssid,omitempty"`
	Security   string `json:"security,omitempty" yaml:"security,omitempty"`
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// ScanRequest is the optional body of POST /api/scan. An empty SSID scans
// every channel.
type ScanRequest struct {
	SSID       string `json:"ssid,omitempty" yaml:"ssid,omitempty"`
	Security   string `json:"security,omitempty" yaml:"security,omitempty"`
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// TxPower is the body of GET and PUT /api/txpower.
type TxPower struct {
	DBm int `json:"dbm" yaml:"dbm"`
}

// Country is the body of GET and PUT /api/country.
type Country struct {
	Code string `json:"code" yaml:"code"`
}

// Value carries a single scalar reading such as the MAC address or RSSI.
type Value struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// Error is returned with every non-2xx response.
type Error struct {
	Error  string `json:"error" yaml:"error"`
	Status string `json:"status" yaml:"status"`
}

// Status is the body of GET /api/status.
type Status struct {
	State      string `json:"state" yaml:"state"`
	Kind       string `json:"kind" yaml:"kind"`
	Interface  string `json:"interface,omitempty" yaml:"interface,omitempty"`
	Recovering bool   `json:"recovering" yaml:"recovering"`
	Scanning   bool   `json:"scanning" yaml:"scanning"`
	// Connected is 1 for a connected station, or the number of associated
	// stations in AP mode.
	Connected int    `json:"connected" yaml:"connected"`
	BSSID     string `json:"bssid,omitempty" yaml:"bssid,omitempty"`
	SSID      string `json:"ssid,omitempty" yaml:"ssid,omitempty"`
}

// NewStatus combines a driver snapshot with the result of IsConnected.
func NewStatus(snap wifi.Snapshot, connected int, reason *wifi.Reason) Status {
	s := Status{
		State:      snap.State.String(),
		Kind:       snap.Kind.String(),
		Interface:  snap.Interface,
		Recovering: snap.Recovering,
		Scanning:   snap.Scanning,
		Connected:  connected,
	}
	if reason != nil {
		if len(reason.BSSID) > 0 {
			s.BSSID = reason.BSSID.String()
		}
		s.SSID = string(reason.SSID)
	}
	return s
}

// VendorIE is a hex encoded vendor information element.
type VendorIE struct {
	OUI     string `json:"oui" yaml:"oui"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

// ScanResult is one BSS from GET /api/scan/results.
type ScanResult struct {
	BSSID        string     `json:"bssid" yaml:"bssid"`
	SSID         string     `json:"ssid" yaml:"ssid"`
	Channel      int        `json:"channel" yaml:"channel"`
	RSSI         int        `json:"rssi" yaml:"rssi"`
	BeaconPeriod int        `json:"beaconPeriod,omitempty" yaml:"beaconPeriod,omitempty"`
	IBSS         bool       `json:"ibss,omitempty" yaml:"ibss,omitempty"`
	PhyMode      int        `json:"phyMode,omitempty" yaml:"phyMode,omitempty"`
	HTCapab      uint16     `json:"htCapab,omitempty" yaml:"htCapab,omitempty"`
	WPS          bool       `json:"wps,omitempty" yaml:"wps,omitempty"`
	Security     []string   `json:"security" yaml:"security"`
	VendorIEs    []VendorIE `json:"vendorIEs,omitempty" yaml:"vendorIEs,omitempty"`
}

// ScanResults is the body of GET /api/scan/results. Freed reports what was
// released back to the driver after the copy.
type ScanResults struct {
	Results []ScanResult   `json:"results" yaml:"results"`
	Freed   wifi.ScanStats `json:"freed" yaml:"freed"`
}

// NewScanResults copies a driver scan list into response form.
func NewScanResults(list *wifi.ScanList) []ScanResult {
	if list == nil {
		return []ScanResult{}
	}
	out := make([]ScanResult, 0, len(list.Results))
	for _, r := range list.Results {
		res := ScanResult{
			SSID:         string(r.SSID),
			Channel:      r.Channel,
			RSSI:         r.RSSI,
			BeaconPeriod: r.BeaconPeriod,
			IBSS:         r.BSSType == 1,
			PhyMode:      r.PhyMode,
			HTCapab:      r.HT.CapabInfo,
			WPS:          r.WPSSupport,
			Security:     make([]string, 0, len(r.SecModes)),
		}
		if len(r.BSSID) > 0 {
			res.BSSID = r.BSSID.String()
		}
		for _, m := range r.SecModes {
			res.Security = append(res.Security, m.String())
		}
		for _, ie := range r.VendorIEs {
			res.VendorIEs = append(res.VendorIEs, VendorIE{
				OUI:     hex.EncodeToString(ie.OUI[:]),
				Content: hex.EncodeToString(ie.Content),
			})
		}
		out = append(out, res)
	}
	return out
}

// Event is one message on the /api/events websocket.
type Event struct {
	Topic            string    `json:"topic" yaml:"topic"`
	Interface        string    `json:"interface,omitempty" yaml:"interface,omitempty"`
	BSSID            string    `json:"bssid,omitempty" yaml:"bssid,omitempty"`
	SSID             string    `json:"ssid,omitempty" yaml:"ssid,omitempty"`
	Code             uint32    `json:"code,omitempty" yaml:"code,omitempty"`
	LocallyGenerated bool      `json:"locallyGenerated,omitempty" yaml:"locallyGenerated,omitempty"`
	State            *Status   `json:"state,omitempty" yaml:"state,omitempty"`
	Time             time.Time `json:"time" yaml:"time"`
}

// Interfaces is the body of GET /api/interfaces.
type Interfaces struct {
	Interfaces []network.Interface `json:"interfaces" yaml:"interfaces"`
}

// Security builds a driver security config. An empty mode is open and yields
// nil.
func Security(mode, passphrase string) (*wifi.SecurityConfig, error) {
	if mode == "" {
		if passphrase != "" {
			return &wifi.SecurityConfig{Mode: wifi.SecurityWPA2CCMP, Passphrase: passphrase}, nil
		}
		return nil, nil
	}
	m, err := wifi.ParseSecurityMode(mode)
	if err != nil {
		return nil, err
	}
	if m == wifi.SecurityOpen {
		return nil, nil
	}
	return &wifi.SecurityConfig{Mode: m, Passphrase: passphrase}, nil
}

// Config converts a join request into driver arguments.
func (r JoinRequest) Config() (ssid []byte, bssid net.HardwareAddr, sec *wifi.SecurityConfig, err error) {
	if r.SSID == "" {
		return nil, nil, nil, fmt.Errorf("%w: ssid is required", wifi.StatusParamFailed)
	}
	if r.BSSID != "" {
		bssid, err = net.ParseMAC(r.BSSID)
		if err != nil || len(bssid) != 6 {
			return nil, nil, nil, fmt.Errorf("%w: invalid bssid %q", wifi.StatusParamFailed, r.BSSID)
		}
	}
	sec, err = Security(r.Security, r.Passphrase)
	if err != nil {
		return nil, nil, nil, err
	}
	return []byte(r.SSID), bssid, sec, nil
}

// APProfile is the operator-facing description of a soft-AP network. It is
// read from yaml files and stored in the NV store as the last used profile.
type APProfile struct {
	SSID         string     `json:"ssid" yaml:"ssid"`
	Channel      int        `json:"channel" yaml:"channel"`
	BeaconPeriod int        `json:"beaconPeriod,omitempty" yaml:"beaconPeriod,omitempty"`
	DTIMPeriod   int        `json:"dtimPeriod,omitempty" yaml:"dtimPeriod,omitempty"`
	PhyMode      int        `json:"phyMode,omitempty" yaml:"phyMode,omitempty"`
	HTCapab      uint16     `json:"htCapab,omitempty" yaml:"htCapab,omitempty"`
	MCS          string     `json:"mcs,omitempty" yaml:"mcs,omitempty"`
	Security     string     `json:"security,omitempty" yaml:"security,omitempty"`
	Passphrase   string     `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	VendorIEs    []VendorIE `json:"vendorIEs,omitempty" yaml:"vendorIEs,omitempty"`
}

// ParseAPProfile decodes a yaml profile.
func ParseAPProfile(data []byte) (*APProfile, error) {
	var p APProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse AP profile: %w", err)
	}
	return &p, nil
}

// LoadAPProfile reads a yaml profile from disk.
func LoadAPProfile(path string) (*APProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read AP profile: %w", err)
	}
	return ParseAPProfile(data)
}

// Marshal encodes the profile as yaml.
func (p *APProfile) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Config converts the profile into a driver AP configuration. Zero beacon and
// DTIM periods take the driver defaults.
func (p *APProfile) Config() (*wifi.AccessPointConfig, error) {
	if p.SSID == "" {
		return nil, fmt.Errorf("%w: AP profile needs an ssid", wifi.StatusParamFailed)
	}
	cfg := &wifi.AccessPointConfig{
		SSID:         []byte(p.SSID),
		Channel:      p.Channel,
		BeaconPeriod: p.BeaconPeriod,
		DTIMPeriod:   p.DTIMPeriod,
		PhyMode:      p.PhyMode,
		HT:           wifi.HTMode{CapabInfo: p.HTCapab},
	}
	if cfg.BeaconPeriod == 0 {
		cfg.BeaconPeriod = 100
	}
	if cfg.DTIMPeriod == 0 {
		cfg.DTIMPeriod = 2
	}
	if p.MCS != "" {
		mcs, err := hex.DecodeString(strings.ReplaceAll(p.MCS, ":", ""))
		if err != nil || len(mcs) > len(cfg.HT.MCSIndex) {
			return nil, fmt.Errorf("%w: invalid mcs set %q", wifi.StatusParamFailed, p.MCS)
		}
		copy(cfg.HT.MCSIndex[:], mcs)
	}

	sec, err := Security(p.Security, p.Passphrase)
	if err != nil {
		return nil, err
	}
	cfg.Security = sec

	for _, v := range p.VendorIEs {
		oui, err := hex.DecodeString(strings.ReplaceAll(v.OUI, ":", ""))
		if err != nil || len(oui) != 3 {
			return nil, fmt.Errorf("%w: invalid vendor OUI %q", wifi.StatusParamFailed, v.OUI)
		}
		content, err := hex.DecodeString(v.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid vendor content for %s", wifi.StatusParamFailed, v.OUI)
		}
		ie := wifi.VendorIE{Content: content}
		copy(ie.OUI[:], oui)
		cfg.VendorIEs = append(cfg.VendorIEs, ie)
	}
	return cfg, nil
}
