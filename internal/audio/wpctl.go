package audio

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// wpctl status renders a tree like:
//
//	Audio
//	 ├─ Devices:
//	 │      41. Built-in Audio                     [alsa]
//	 │
//	 ├─ Sinks:
//	 │  *   43. Built-in Audio Analog Stereo       [vol: 0.40]
//	 │      57. WH-1000XM4                         [vol: 1.00]
//	 │
//	 ├─ Sources:
//
// Only the Sinks block is of interest. The leading "*" marks the default.
var sinkLine = regexp.MustCompile(`^(\*?)\s*(\d+)\.\s+(.*?)\s*(\[vol:.*)?$`)

func stripTree(line string) string {
	return strings.TrimLeft(line, " \t│├└─")
}

func parseSinks(status string, matcher SinkMatcher) []Sink {
	var sinks []Sink
	inSinks := false
	for _, raw := range strings.Split(status, "\n") {
		line := stripTree(raw)
		switch {
		case strings.HasPrefix(line, "Sinks:"):
			inSinks = true
			continue
		case strings.HasSuffix(line, ":") && line != "":
			// Next section (Sources:, Filters:, ...) ends the block.
			inSinks = false
			continue
		}
		if !inSinks || line == "" {
			continue
		}
		m := sinkLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(m[3])
		sinks = append(sinks, Sink{
			ID:        uint32(id),
			Name:      name,
			Default:   m[1] == "*",
			Bluetooth: matcher.Match(name, ""),
		})
	}
	sort.Slice(sinks, func(i, j int) bool { return sinks[i].ID < sinks[j].ID })
	return sinks
}
