package wifi

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	wepASCIIKeyMin = 5
	wepASCIIKeyMax = 13
	wepHexKeyMin   = 10
	wepHexKeyMax   = 26
	wpaASCIIKeyMin = 8
	wpaASCIIKeyMax = 63
	wpaHexKeyLen   = 64
)

// DerivePSK computes the 256-bit WPA pre-shared key for a passphrase and
// SSID and returns it hex encoded.
func DerivePSK(passphrase string, ssid []byte) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(passphrase), ssid, 4096, 32, sha1.New))
}

// securityParams returns the SET_NETWORK "<param> <value>" pairs for a
// security config, in the order they are sent. ap selects soft-AP rules
// (no WEP, group cipher set). When hash is set a WPA passphrase is replaced
// by its derived PSK.
func securityParams(sec *SecurityConfig, ap bool, ssid []byte, hash bool) ([]string, error) {
	if sec == nil {
		return []string{"key_mgmt NONE"}, nil
	}

	var params []string
	keyMgmt := "key_mgmt NONE"
	authAlg := "OPEN"

	switch {
	case sec.Mode == SecurityOpen:
	case sec.Mode == SecurityWEP || sec.Mode == SecurityWEPShared:
		if ap {
			return nil, fmt.Errorf("%w: WEP is not supported in AP mode", StatusParamFailed)
		}
	case sec.Mode == SecurityEAP:
		return nil, fmt.Errorf("%w: EAP is not supported", StatusParamFailed)
	case sec.Mode == SecurityWEP|SecurityWEPShared:
		return nil, fmt.Errorf("%w: WEP open and shared cannot be combined", StatusParamFailed)
	case sec.Mode&(securityWPAAny|securityWPA2Any) != 0:
		keyMgmt = "key_mgmt WPA-PSK"

		proto := "WPA"
		switch {
		case sec.Mode&securityWPAAny != 0 && sec.Mode&securityWPA2Any != 0:
			proto = "WPA RSN"
		case sec.Mode&securityWPA2Any != 0:
			proto = "RSN"
		}
		params = append(params, "proto "+proto)

		var cipher string
		switch sec.Mode {
		case SecurityWPAMixed, SecurityWPA2Mixed, SecurityWPAMixed | SecurityWPA2Mixed:
			cipher = "CCMP TKIP"
		case SecurityWPACCMP, SecurityWPA2CCMP:
			cipher = "CCMP"
		default:
			cipher = "TKIP"
		}
		params = append(params, "pairwise "+cipher)
		if ap {
			params = append(params, "group "+cipher)
		}
	default:
		return nil, fmt.Errorf("%w: security mode %s", StatusParamFailed, sec.Mode)
	}

	params = append(params, keyMgmt)
	if sec.Mode == SecurityWEPShared {
		authAlg = "SHARED"
	}
	params = append(params, "auth_alg "+authAlg)

	if sec.Mode == SecurityOpen || sec.Passphrase == "" {
		return params, nil
	}

	key, err := keyParam(sec, ssid, hash)
	if err != nil {
		return nil, err
	}
	return append(params, key), nil
}

func keyParam(sec *SecurityConfig, ssid []byte, hash bool) (string, error) {
	pass := sec.Passphrase
	n := len(pass)

	if sec.Mode == SecurityWEP || sec.Mode == SecurityWEPShared {
		if pass[0] == '"' {
			if n < wepASCIIKeyMin+2 || n > wepASCIIKeyMax+2 {
				return "", fmt.Errorf("%w: WEP ASCII key length %d", StatusParamFailed, n-2)
			}
		} else if n < wepHexKeyMin || n > wepHexKeyMax || !isHex(pass) {
			return "", fmt.Errorf("%w: WEP hex key length %d", StatusParamFailed, n)
		}
		return "wep_key0 " + pass, nil
	}

	switch {
	case n == wpaHexKeyLen && isHex(pass):
		return "psk " + pass, nil
	case n >= wpaASCIIKeyMin && n <= wpaASCIIKeyMax:
		if hash {
			return "psk " + DerivePSK(pass, ssid), nil
		}
		return fmt.Sprintf("psk \"%s\"", pass), nil
	default:
		return "", fmt.Errorf("%w: WPA passphrase length %d", StatusParamFailed, n)
	}
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// redact hides key material in a command before it is logged.
func redact(command string) string {
	for _, key := range []string{" psk ", " wep_key0 "} {
		if i := strings.Index(command, key); i >= 0 {
			return command[:i+len(key)] + "[redacted]"
		}
	}
	return command
}
