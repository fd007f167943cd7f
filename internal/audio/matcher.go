package audio

import "strings"

// SinkMatcher decides whether a sink belongs to a Bluetooth device. The
// naming scheme for Bluetooth-backed nodes varies across audio server
// versions, so the heuristic is pluggable rather than baked in.
type SinkMatcher interface {
	// Match reports whether the named sink is backed by the device with
	// the given address. An empty address matches any Bluetooth sink.
	Match(sinkName, addr string) bool
}

// DefaultMatcher implements the PipeWire/BlueZ convention: node names carry
// the device address with colons replaced by underscores (for example
// "bluez_output.14_3F_A6_27_0E_DD.1"), and descriptions of Bluetooth nodes
// mention "bluez" or "bluetooth".
type DefaultMatcher struct{}

// AddrFragment returns the underscored form of a MAC address as it appears
// in PipeWire node names.
func AddrFragment(addr string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(addr)), ":", "_")
}

func (DefaultMatcher) Match(sinkName, addr string) bool {
	name := strings.ToLower(sinkName)
	if addr != "" && strings.Contains(strings.ToUpper(sinkName), AddrFragment(addr)) {
		return true
	}
	return strings.Contains(name, "bluez") || strings.Contains(name, "bluetooth")
}
