package api

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
)

const profileYAML = `
ssid: stage-ap
channel: 6
phyMode: 1
htCapab: 0x0030
mcs: ff00000000
security: wpa2_ccmp
passphrase: lights-on
vendorIEs:
  - oui: "00:50:f2"
    content: "0102"
`

func TestParseAPProfile(t *testing.T) {
	p, err := ParseAPProfile([]byte(profileYAML))
	require.NoError(t, err)

	cfg, err := p.Config()
	require.NoError(t, err)

	assert.Equal(t, []byte("stage-ap"), cfg.SSID)
	assert.Equal(t, 6, cfg.Channel)
	assert.Equal(t, 100, cfg.BeaconPeriod)
	assert.Equal(t, 2, cfg.DTIMPeriod)
	assert.Equal(t, uint16(0x30), cfg.HT.CapabInfo)
	assert.Equal(t, byte(0xff), cfg.HT.MCSIndex[0])
	require.NotNil(t, cfg.Security)
	assert.Equal(t, wifi.SecurityWPA2CCMP, cfg.Security.Mode)
	assert.Equal(t, "lights-on", cfg.Security.Passphrase)
	require.Len(t, cfg.VendorIEs, 1)
	assert.Equal(t, [3]byte{0x00, 0x50, 0xf2}, cfg.VendorIEs[0].OUI)
	assert.Equal(t, []byte{1, 2}, cfg.VendorIEs[0].Content)
}

func TestAPProfile_RoundTripThroughYAML(t *testing.T) {
	p, err := ParseAPProfile([]byte(profileYAML))
	require.NoError(t, err)

	data, err := p.Marshal()
	require.NoError(t, err)
	again, err := ParseAPProfile(data)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestAPProfile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		profile APProfile
	}{
		{"no ssid", APProfile{Channel: 6}},
		{"bad security", APProfile{SSID: "x", Security: "wpa3"}},
		{"bad mcs", APProfile{SSID: "x", MCS: "zz"}},
		{"mcs too long", APProfile{SSID: "x", MCS: "0011223344556677889900"}},
		{"short oui", APProfile{SSID: "x", VendorIEs: []VendorIE{{OUI: "0050"}}}},
		{"bad content", APProfile{SSID: "x", VendorIEs: []VendorIE{{OUI: "0050f2", Content: "q"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.profile.Config()
			assert.ErrorIs(t, err, wifi.StatusParamFailed)
		})
	}
}

func TestLoadAPProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profileYAML), 0o600))

	p, err := LoadAPProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "stage-ap", p.SSID)

	_, err = LoadAPProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSecurity(t *testing.T) {
	sec, err := Security("", "")
	require.NoError(t, err)
	assert.Nil(t, sec)

	sec, err = Security("open", "ignored")
	require.NoError(t, err)
	assert.Nil(t, sec)

	sec, err = Security("", "secret123")
	require.NoError(t, err)
	assert.Equal(t, &wifi.SecurityConfig{Mode: wifi.SecurityWPA2CCMP, Passphrase: "secret123"}, sec)

	sec, err = Security("wpa_tkip", "secret123")
	require.NoError(t, err)
	assert.Equal(t, wifi.SecurityWPATKIP, sec.Mode)

	_, err = Security("nope", "")
	assert.ErrorIs(t, err, wifi.StatusParamFailed)
}

func TestJoinRequestConfig(t *testing.T) {
	ssid, bssid, sec, err := JoinRequest{SSID: "stage", BSSID: "00:11:22:33:44:55", Security: "wpa2_ccmp", Passphrase: "secret123"}.Config()
	require.NoError(t, err)
	assert.Equal(t, []byte("stage"), ssid)
	assert.Equal(t, "00:11:22:33:44:55", bssid.String())
	assert.Equal(t, wifi.SecurityWPA2CCMP, sec.Mode)

	_, _, _, err = JoinRequest{}.Config()
	assert.ErrorIs(t, err, wifi.StatusParamFailed)
	_, _, _, err = JoinRequest{SSID: "x", BSSID: "nope"}.Config()
	assert.ErrorIs(t, err, wifi.StatusParamFailed)
}

func TestNewStatus(t *testing.T) {
	snap := wifi.Snapshot{State: wifi.StateStaConnected, Kind: wifi.KindStation, Interface: "wlan0"}
	reason := &wifi.Reason{BSSID: net.HardwareAddr{0, 0x11, 0x22, 0x33, 0x44, 0x55}, SSID: []byte("stage")}

	s := NewStatus(snap, 1, reason)
	assert.Equal(t, "STA_CONNECTED", s.State)
	assert.Equal(t, "station", s.Kind)
	assert.Equal(t, 1, s.Connected)
	assert.Equal(t, "00:11:22:33:44:55", s.BSSID)
	assert.Equal(t, "stage", s.SSID)

	s = NewStatus(wifi.Snapshot{}, 0, nil)
	assert.Equal(t, "NOT_STARTED", s.State)
	assert.Empty(t, s.BSSID)
}

func TestNewScanResults(t *testing.T) {
	assert.Empty(t, NewScanResults(nil))

	list := &wifi.ScanList{Results: []wifi.ScanInfo{{
		BSSID:    net.HardwareAddr{2, 0, 0, 0, 0, 1},
		SSID:     []byte("stage"),
		Channel:  11,
		RSSI:     -50,
		BSSType:  1,
		SecModes: []wifi.SecurityMode{wifi.SecurityWPA2CCMP},
		VendorIEs: []wifi.VendorIE{
			{OUI: [3]byte{0x00, 0x50, 0xf2}, Content: []byte{0x04}},
		},
	}}}

	out := NewScanResults(list)
	require.Len(t, out, 1)
	assert.Equal(t, "02:00:00:00:00:01", out[0].BSSID)
	assert.True(t, out[0].IBSS)
	assert.Equal(t, []string{"wpa2_ccmp"}, out[0].Security)
	assert.Equal(t, []VendorIE{{OUI: "0050f2", Content: "04"}}, out[0].VendorIEs)
}
