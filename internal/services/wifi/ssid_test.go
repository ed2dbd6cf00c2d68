package wifi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeSSID(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("home"), "home"},
		{[]byte(`say "hi"`), `say \"hi\"`},
		{[]byte(`a\b`), `a\\b`},
		{[]byte{'a', '\t', 'b', '\n'}, `a\tb\n`},
		{[]byte{0x1b, 0x00, 0xff}, `\e\x00\xff`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeSSID(tt.in))
	}
}

func TestDecodeSSID(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"home", []byte("home")},
		{`say \"hi\"`, []byte(`say "hi"`)},
		{`\x00\xff\e`, []byte{0x00, 0xff, 0x1b}},
		{`\101\102`, []byte("AB")},
		{`trailing\`, []byte(`trailing\`)},
		{`\q`, []byte(`\q`)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeSSID(tt.in), "decode %q", tt.in)
	}
}

func TestSSIDRoundTrip(t *testing.T) {
	ssid := []byte{'c', 'a', 'f', 0xc3, 0xa9, ' ', '"', '\\', 0x7f}
	assert.Equal(t, ssid, DecodeSSID(EncodeSSID(ssid)))
}

func TestFindNetworkID(t *testing.T) {
	listing := "network id / ssid / bssid / flags\n" +
		"0\toffice\tany\t[DISABLED]\n" +
		"1\tsay \\\"hi\\\"\tany\t\n" +
		"7\thome\t00:11:22:33:44:55\t[CURRENT]\n"

	id, ok := findNetworkID(listing, "home")
	assert.True(t, ok)
	assert.Equal(t, "7", id)

	id, ok = findNetworkID(listing, EncodeSSID([]byte(`say "hi"`)))
	assert.True(t, ok)
	assert.Equal(t, "1", id)

	_, ok = findNetworkID(listing, "network id")
	assert.False(t, ok)
	_, ok = findNetworkID(listing, "missing")
	assert.False(t, ok)
}
