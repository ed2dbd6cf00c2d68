// Package network enumerates host network interfaces the wifi daemon can drive
package network

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Interface describes one host network interface
type Interface struct {
	Name      string   `json:"name" yaml:"name"`
	MAC       string   `json:"mac,omitempty" yaml:"mac,omitempty"`
	Up        bool     `json:"up" yaml:"up"`
	Addresses []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	// Type is "wifi", "ethernet" or "other"
	Type string `json:"type" yaml:"type"`
	// Supplicant is true when a control socket for the interface exists
	Supplicant bool `json:"supplicant" yaml:"supplicant"`
}

// Lister finds interfaces under a sysfs root and a supplicant control
// directory. The zero value uses /sys and no control directory.
type Lister struct {
	SysRoot string
	CtrlDir string
}

type hostInterface struct {
	name  string
	mac   net.HardwareAddr
	flags net.Flags
	addrs []string
}

// hostInterfaces is replaced in tests
var hostInterfaces = func() ([]hostInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]hostInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		h := hostInterface{name: iface.Name, mac: iface.HardwareAddr, flags: iface.Flags}
		if addrs, err := iface.Addrs(); err == nil {
			for _, a := range addrs {
				h.addrs = append(h.addrs, a.String())
			}
		}
		out = append(out, h)
	}
	return out, nil
}

func (l Lister) sysRoot() string {
	if l.SysRoot == "" {
		return "/sys"
	}
	return l.SysRoot
}

// InterfaceType classifies an interface. The kernel's wireless marker in
// sysfs wins; naming conventions are the fallback.
func (l Lister) InterfaceType(name string) string {
	base := filepath.Join(l.sysRoot(), "class", "net", name)
	for _, marker := range []string{"wireless", "phy80211"} {
		if _, err := os.Stat(filepath.Join(base, marker)); err == nil {
			return "wifi"
		}
	}
	return fallbackInterfaceType(name)
}

// fallbackInterfaceType uses naming patterns to guess interface type
func fallbackInterfaceType(ifaceName string) string {
	name := strings.ToLower(ifaceName)

	if strings.HasPrefix(name, "wlan") ||
		strings.HasPrefix(name, "wl") ||
		strings.HasPrefix(name, "p2p") ||
		strings.Contains(name, "wifi") ||
		strings.Contains(name, "wireless") {
		return "wifi"
	}

	if strings.HasPrefix(name, "eth") ||
		strings.HasPrefix(name, "en") {
		return "ethernet"
	}

	return "other"
}

func (l Lister) hasSupplicant(name string) bool {
	if l.CtrlDir == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(l.CtrlDir, name))
	return err == nil && fi.Mode()&os.ModeSocket != 0
}

// List returns every non-loopback interface, wireless ones first, each group
// sorted by name
func (l Lister) List() ([]Interface, error) {
	hosts, err := hostInterfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var out []Interface
	for _, h := range hosts {
		if h.flags&net.FlagLoopback != 0 {
			continue
		}
		iface := Interface{
			Name:       h.name,
			Up:         h.flags&net.FlagUp != 0,
			Addresses:  h.addrs,
			Type:       l.InterfaceType(h.name),
			Supplicant: l.hasSupplicant(h.name),
		}
		if len(h.mac) > 0 {
			iface.MAC = h.mac.String()
		}
		out = append(out, iface)
	}

	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Type == "wifi", out[j].Type == "wifi"
		if wi != wj {
			return wi
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Wireless returns only the wifi interfaces
func (l Lister) Wireless() ([]Interface, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	var out []Interface
	for _, iface := range all {
		if iface.Type == "wifi" {
			out = append(out, iface)
		}
	}
	return out, nil
}
