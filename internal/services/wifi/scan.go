package wifi

import (
	"encoding/binary"
	"encoding/hex"
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
)

const capabilityIBSS = 0x0002

var wpsOUIType = []byte{0x00, 0x50, 0xf2, 0x04}

// parseScanBSSIDs returns the first column of every SCAN_RESULTS row.
func parseScanBSSIDs(text string) []string {
	var out []string
	for i, line := range strings.Split(text, "\n") {
		if i == 0 || line == "" {
			continue
		}
		field, _, _ := strings.Cut(line, "\t")
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

// parseBSS turns a BSS reply into a ScanInfo. ok is false when a required
// field is missing or the security flags cannot be mapped, in which case the
// record is discarded.
func parseBSS(text string) (ScanInfo, bool) {
	kv := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		k, v, found := strings.Cut(line, "=")
		if found {
			kv[k] = v
		}
	}

	var info ScanInfo
	mac, err := net.ParseMAC(kv["bssid"])
	if err != nil {
		return info, false
	}
	info.BSSID = mac

	freq, err := strconv.Atoi(kv["freq"])
	if err != nil {
		return info, false
	}
	info.Channel = freqToChannel(freq)

	if v, err := strconv.Atoi(kv["beacon_int"]); err == nil {
		info.BeaconPeriod = v
	}
	if caps, err := strconv.ParseUint(strings.TrimPrefix(kv["capabilities"], "0x"), 16, 16); err == nil && caps&capabilityIBSS != 0 {
		info.BSSType = 1
	}
	if v, err := strconv.Atoi(kv["qual"]); err == nil {
		info.RSSI = v
	} else if v, err := strconv.Atoi(kv["level"]); err == nil {
		info.RSSI = v
	}

	if raw, err := hex.DecodeString(kv["ie"]); err == nil {
		parseIEs(raw, &info)
	}

	modes, ok := securityFromFlags(kv["flags"])
	if !ok {
		return info, false
	}
	info.SecModes = modes
	info.SSID = DecodeSSID(kv["ssid"])
	return info, true
}

// iterateIEs walks tag/length/value elements and stops at the first element
// that overruns the buffer.
func iterateIEs(data []byte, fn func(id layers.Dot11InformationElementID, body []byte)) {
	for off := 0; off+2 <= len(data); {
		id := layers.Dot11InformationElementID(data[off])
		n := int(data[off+1])
		off += 2
		if off+n > len(data) {
			return
		}
		fn(id, data[off:off+n])
		off += n
	}
}

func parseIEs(raw []byte, info *ScanInfo) {
	iterateIEs(raw, func(id layers.Dot11InformationElementID, body []byte) {
		switch id {
		case layers.Dot11InformationElementIDHTCapabilities:
			info.PhyMode = 1
			if len(body) == 26 {
				info.HT.CapabInfo = binary.LittleEndian.Uint16(body[0:2])
				copy(info.HT.MCSIndex[:], body[3:13])
			}
		case layers.Dot11InformationElementIDVendor:
			if len(body) < 3 {
				return
			}
			if len(body) >= 4 && string(body[:4]) == string(wpsOUIType) {
				info.WPSSupport = true
			}
			ie := VendorIE{Content: append([]byte{}, body[3:]...)}
			copy(ie.OUI[:], body[:3])
			info.VendorIEs = append(info.VendorIEs, ie)
		}
	})
}

// securityFromFlags maps a flags field such as
// "[WPA-PSK-CCMP+TKIP][WPA2-PSK-CCMP][ESS]" onto one security mode per
// bracketed entry. [ESS] and [P2P] entries are not counted. A record with no
// counted entry is only accepted when its flags are empty or just [ESS].
func securityFromFlags(flags string) ([]SecurityMode, bool) {
	var entries []string
	for rest := flags; ; {
		start := strings.IndexByte(rest, '[')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], ']')
		if end < 0 {
			break
		}
		entry := rest[start+1 : start+end]
		rest = rest[start+end+1:]
		if strings.HasPrefix(entry, "E") || strings.HasPrefix(entry, "P") {
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return []SecurityMode{}, flags == "" || flags == "[ESS]"
	}

	modes := make([]SecurityMode, 0, len(entries))
	for _, e := range entries {
		modes = append(modes, flagMode(e))
	}
	return modes, true
}

func flagMode(entry string) SecurityMode {
	cipher := func(mixed, ccmp, tkip SecurityMode) SecurityMode {
		switch {
		case strings.Contains(entry, "CCMP+TKIP"):
			return mixed
		case strings.Contains(entry, "CCMP"):
			return ccmp
		case strings.Contains(entry, "TKIP"):
			return tkip
		}
		return SecurityOpen
	}

	switch {
	case strings.Contains(entry, "WPA2-PSK"):
		return cipher(SecurityWPA2Mixed, SecurityWPA2CCMP, SecurityWPA2TKIP)
	case strings.Contains(entry, "WPA-PSK"):
		return cipher(SecurityWPAMixed, SecurityWPACCMP, SecurityWPATKIP)
	case strings.Contains(entry, "WEP"):
		return SecurityWEP | SecurityWEPShared
	case strings.Contains(entry, "WPA2-EAP"), strings.Contains(entry, "WPA-EAP"):
		return SecurityEAP
	default:
		return SecurityOpen
	}
}
