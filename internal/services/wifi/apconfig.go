package wifi

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	defaultBeaconPeriod = 100
	defaultDTIMPeriod   = 2
	maxVendorIEContent  = 253
)

// channelFrequency converts a 2.4 GHz channel into MHz for the regulatory
// domain given by country. Zero means the channel is not allowed.
func channelFrequency(channel int, country string) int {
	last := 13
	if country == "US" || country == "CA" {
		last = 11
	}
	if channel >= 1 && channel <= last {
		return 2407 + 5*channel
	}
	if country == "JP" && channel == 14 {
		return 2484
	}
	return 0
}

// freqToChannel maps a BSS frequency onto its channel number.
func freqToChannel(freq int) int {
	switch {
	case freq >= 2412 && freq <= 2472:
		return (freq - 2407) / 5
	case freq == 2484:
		return 14
	case freq >= 5000 && freq <= 5900:
		return (freq - 5000) / 5
	default:
		return 0
	}
}

// apCommands builds every command that configures network id as a soft AP,
// in the order they are sent. Nothing is sent when validation fails.
func apCommands(id string, cfg *AccessPointConfig, country string, hash bool) ([]string, error) {
	set := func(param string) string { return "SET_NETWORK " + id + " " + param }

	cmds := []string{set("mode 2")}
	if len(cfg.SSID) != 0 {
		cmds = append(cmds, set(`ssid P"`+EncodeSSID(cfg.SSID)+`"`))
	}
	cmds = append(cmds, set("disabled 0"))

	sec, err := securityParams(cfg.Security, true, cfg.SSID, hash)
	if err != nil {
		return nil, err
	}
	for _, p := range sec {
		cmds = append(cmds, set(p))
	}

	if cfg.Channel != 0 {
		freq := channelFrequency(cfg.Channel, country)
		if freq == 0 {
			return nil, fmt.Errorf("%w: channel %d not allowed in %q", StatusParamFailed, cfg.Channel, country)
		}
		cmds = append(cmds, set(fmt.Sprintf("frequency %d", freq)))
	}
	if cfg.BeaconPeriod != defaultBeaconPeriod {
		cmds = append(cmds, set(fmt.Sprintf("beacon_int %d", cfg.BeaconPeriod)))
	}
	if cfg.DTIMPeriod != defaultDTIMPeriod {
		cmds = append(cmds, set(fmt.Sprintf("dtim_period %d", cfg.DTIMPeriod)))
	}

	for _, ie := range cfg.VendorIEs {
		if len(ie.Content) > maxVendorIEContent {
			return nil, fmt.Errorf("%w: vendor IE content is %d bytes", StatusParamFailed, len(ie.Content))
		}
		cmds = append(cmds, fmt.Sprintf("SET vsie %s %s",
			strings.ToUpper(hex.EncodeToString(ie.OUI[:])),
			strings.ToUpper(hex.EncodeToString(ie.Content))))
	}

	if cfg.PhyMode == 0 {
		return append(cmds, set("disable_ht 1")), nil
	}
	capab := cfg.HT.CapabInfo
	if capab&HTCapGreenField != 0 && capab&HTCapShortGI20 != 0 {
		return nil, fmt.Errorf("%w: green field and short GI are exclusive", StatusParamFailed)
	}
	if capab&HTCapGreenField != 0 {
		cmds = append(cmds, set("ht_greenfield 1"))
	}
	if capab&HTCapShortGI20 == 0 {
		cmds = append(cmds, set("disable_sgi 1"))
	}
	if cfg.HT.MCSIndex[0] != 0 || cfg.HT.MCSIndex[1] != 0 {
		cmds = append(cmds, set(fmt.Sprintf(`ht_mcs "%s"`, hex.EncodeToString(cfg.HT.MCSIndex[:]))))
	}
	return cmds, nil
}
