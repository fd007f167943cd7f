// Package resolve matches a user-supplied device query against the paired
// device set. It is a pure function of its inputs so the same query always
// picks the same device.
package resolve

import (
	"strings"

	"github.com/mil-ad/blueteeth/internal/bluez"
)

// Resolution classifies the outcome of a Resolve call.
type Resolution int

const (
	// NotFound means nothing matched the query.
	NotFound Resolution = iota
	// Found means exactly one device was selected.
	Found
	// Ambiguous means more than one device matched and the caller has to
	// disambiguate; non-interactive callers fail.
	Ambiguous
)

// Result is the outcome of resolving a query. For Found, Match is set; for
// Ambiguous, Candidates holds the matches in rank order.
type Result struct {
	Match      *bluez.Device
	Candidates []bluez.Device
}

// Resolution returns the kind of result this is.
func (r Result) Resolution() Resolution {
	switch {
	case r.Match != nil:
		return Found
	case len(r.Candidates) > 0:
		return Ambiguous
	default:
		return NotFound
	}
}

func single(d bluez.Device) Result {
	return Result{Match: &d}
}

// Resolve picks a device for the query.
//
// Empty query: the remembered last device wins if it is still paired;
// otherwise a lone paired device is selected; otherwise all paired devices
// come back as candidates.
//
// Non-empty query: an exact address match (case-insensitive) wins outright;
// otherwise names are searched case-insensitively, with exact full-name
// matches ranked above substring matches and ties broken by address so the
// ordering is deterministic.
func Resolve(query string, devices []bluez.Device, lastUsed string) Result {
	if query == "" {
		if lastUsed != "" {
			want := bluez.NormalizeAddress(lastUsed)
			for _, d := range devices {
				if bluez.NormalizeAddress(d.Address) == want {
					return single(d)
				}
			}
		}
		if len(devices) == 1 {
			return single(devices[0])
		}
		if len(devices) == 0 {
			return Result{}
		}
		candidates := append([]bluez.Device(nil), devices...)
		bluez.SortDevices(candidates)
		return Result{Candidates: candidates}
	}

	if addr := bluez.NormalizeAddress(query); looksLikeAddress(addr) {
		for _, d := range devices {
			if bluez.NormalizeAddress(d.Address) == addr {
				return single(d)
			}
		}
	}

	q := strings.ToLower(query)
	var exact, partial []bluez.Device
	for _, d := range devices {
		name := strings.ToLower(d.Name)
		switch {
		case name == q:
			exact = append(exact, d)
		case strings.Contains(name, q):
			partial = append(partial, d)
		}
	}
	bluez.SortDevices(exact)
	bluez.SortDevices(partial)

	switch {
	case len(exact) == 1 && len(partial) == 0:
		return single(exact[0])
	case len(exact) == 0 && len(partial) == 1:
		return single(partial[0])
	case len(exact) == 0 && len(partial) == 0:
		return Result{}
	case len(exact) == 1:
		// One exact full-name match outranks any number of substring hits.
		return single(exact[0])
	default:
		return Result{Candidates: append(exact, partial...)}
	}
}

// looksLikeAddress reports whether s has the shape of a MAC address. Name
// matching is skipped for address-shaped queries only when they resolve;
// a mistyped address still falls through to the name search.
func looksLikeAddress(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
	}
	return true
}
