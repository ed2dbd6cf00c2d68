package wifi

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeSSID escapes an SSID the way the supplicant prints it, so it can be
// sent as ssid P"<encoded>" and compared with LIST_NETWORKS output.
func EncodeSSID(ssid []byte) string {
	var b strings.Builder
	for _, c := range ssid {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case 0x1b:
			b.WriteString(`\e`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c >= 32 && c <= 126 {
				b.WriteByte(c)
			} else {
				fmt.Fprintf(&b, `\x%02x`, c)
			}
		}
	}
	return b.String()
}

// DecodeSSID reverses EncodeSSID. Octal escapes are also accepted.
func DecodeSSID(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			out = append(out, s[i])
			continue
		}
		i++
		switch s[i] {
		case '"', '\\':
			out = append(out, s[i])
		case 'e':
			out = append(out, 0x1b)
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					out = append(out, byte(v))
					i += 2
					continue
				}
			}
			out = append(out, '\\', 'x')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			end := i
			for end < len(s) && end < i+3 && s[end] >= '0' && s[end] <= '7' {
				end++
			}
			v, _ := strconv.ParseUint(s[i:end], 8, 16)
			out = append(out, byte(v))
			i = end - 1
		default:
			out = append(out, '\\', s[i])
		}
	}
	return out
}

// findNetworkID returns the id of the LIST_NETWORKS row whose ssid column
// equals the encoded SSID.
func findNetworkID(listing string, encoded string) (string, bool) {
	for i, line := range strings.Split(listing, "\n") {
		if i == 0 || line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		if fields[1] == encoded {
			return fields[0], true
		}
	}
	return "", false
}
