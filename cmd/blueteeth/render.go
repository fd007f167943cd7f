package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/mil-ad/blueteeth/internal/audio"
	"github.com/mil-ad/blueteeth/internal/bluez"
	"github.com/mil-ad/blueteeth/internal/orchestrate"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
)

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderResult prints the workflow outcome and, on anything but clean
// success, the full step trail: which step failed, after how many attempts,
// and the external error text verbatim.
func (a *app) renderResult(res orchestrate.Result) {
	if a.jsonOut {
		writeJSON(res)
		return
	}
	switch res.Status {
	case orchestrate.Success:
		fmt.Println(okStyle.Render("✓") + " done")
		if res.Sink != nil {
			fmt.Printf("%s audio output is %s\n", okStyle.Render("✓"), res.Sink.Name)
		}
		return
	case orchestrate.Partial:
		fmt.Println(warnStyle.Render("⚠") + " connected, but audio routing unconfirmed")
	case orchestrate.Aborted:
		fmt.Println(badStyle.Render("✗") + " aborted")
	default:
		fmt.Println(badStyle.Render("✗") + " failed")
	}
	for _, s := range res.Steps {
		glyph := okStyle.Render("✓")
		if !s.OK {
			glyph = badStyle.Render("✗")
		}
		line := fmt.Sprintf("  %s %s", glyph, s.State)
		if s.Attempts > 1 {
			line += dimStyle.Render(fmt.Sprintf(" (%d attempts)", s.Attempts))
		}
		if s.Note != "" {
			line += dimStyle.Render(" — " + s.Note)
		}
		if s.Error != "" {
			line += badStyle.Render(": " + s.Error)
		}
		fmt.Println(line)
	}
}

func deviceMarkers(d bluez.Device) string {
	var m []string
	if d.Connected {
		m = append(m, okStyle.Render("connected"))
	}
	if d.Trusted {
		m = append(m, "trusted")
	}
	if len(m) == 0 {
		return ""
	}
	out := " ("
	for i, s := range m {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out + ")"
}

func (a *app) renderDevices(devices []bluez.Device) error {
	if a.jsonOut {
		return writeJSON(devices)
	}
	if len(devices) == 0 {
		fmt.Println("No paired devices")
		return nil
	}
	fmt.Println(boldStyle.Render("Paired devices:"))
	for _, d := range devices {
		fmt.Printf("  • %s %s%s\n", d.Name, dimStyle.Render(d.Address), deviceMarkers(d))
	}
	return nil
}

func (a *app) renderCandidates(devices []bluez.Device) {
	if a.jsonOut {
		writeJSON(devices)
		return
	}
	fmt.Println("Matching devices:")
	for _, d := range devices {
		fmt.Printf("  • %s %s\n", d.Name, dimStyle.Render(d.Address))
	}
}

func (a *app) renderSinks(sinks []audio.Sink) {
	if a.jsonOut {
		writeJSON(sinks)
		return
	}
	fmt.Println(boldStyle.Render("Sinks:"))
	for _, s := range sinks {
		marker := "  "
		if s.Default {
			marker = okStyle.Render("* ")
		}
		tag := ""
		if s.Bluetooth {
			tag = dimStyle.Render(" [bluetooth]")
		}
		fmt.Printf("  %s%d. %s%s\n", marker, s.ID, s.Name, tag)
	}
}

type statusReport struct {
	Connected  *bluez.Device `json:"connected,omitempty"`
	Sink       *audio.Sink   `json:"sink,omitempty"`
	LastDevice string        `json:"last_device,omitempty"`
}

func (a *app) renderStatus(dev *bluez.Device, sink *audio.Sink, lastDevice string) error {
	if a.jsonOut {
		return writeJSON(statusReport{Connected: dev, Sink: sink, LastDevice: lastDevice})
	}
	if dev == nil {
		fmt.Println("Status: not connected")
		if lastDevice != "" {
			fmt.Printf("Last device: %s\n", dimStyle.Render(lastDevice))
		}
		return nil
	}
	fmt.Printf("Connected to: %s\n", boldStyle.Render(dev.Name))
	fmt.Printf("Address: %s\n", dev.Address)
	if sink == nil {
		fmt.Println("Audio sink: " + warnStyle.Render("not present"))
		return nil
	}
	fmt.Printf("Audio sink: %s (id %d)\n", sink.Name, sink.ID)
	if sink.Default {
		fmt.Println("Audio output: " + okStyle.Render("✓ default"))
	} else {
		fmt.Println("Audio output: " + warnStyle.Render("✗ not default"))
	}
	return nil
}

func yesNo(ok bool) string {
	if ok {
		return okStyle.Render("yes")
	}
	return badStyle.Render("no")
}

func (a *app) renderDiagnosis(d orchestrate.Diagnosis) error {
	if a.jsonOut {
		return writeJSON(d)
	}
	fmt.Println(boldStyle.Render("Bluetooth"))
	fmt.Printf("  service reachable: %s\n", yesNo(d.AdapterAvailable))
	if d.AdapterAvailable {
		fmt.Printf("  adapter powered:   %s\n", yesNo(d.AdapterPowered))
		fmt.Printf("  paired devices:    %d\n", len(d.PairedDevices))
	}
	if d.AdapterError != "" {
		fmt.Printf("  %s\n", badStyle.Render(d.AdapterError))
	}
	fmt.Println(boldStyle.Render("Audio"))
	fmt.Printf("  server reachable:  %s\n", yesNo(d.AudioAvailable))
	if d.AudioAvailable {
		fmt.Printf("  sinks:             %d\n", len(d.Sinks))
		if d.DefaultSink != nil {
			fmt.Printf("  default sink:      %s (id %d)\n", d.DefaultSink.Name, d.DefaultSink.ID)
		}
	}
	if d.AudioError != "" {
		fmt.Printf("  %s\n", badStyle.Render(d.AudioError))
	}
	fmt.Println(boldStyle.Render("Preferences"))
	if d.StoreError != "" {
		fmt.Printf("  %s\n", badStyle.Render(d.StoreError))
		fmt.Println(dimStyle.Render("  the file is kept as-is; inspect or remove it manually to reset"))
	} else {
		fmt.Printf("  readable:          %s\n", yesNo(true))
		if d.LastDevice != "" {
			fmt.Printf("  last device:       %s\n", d.LastDevice)
		}
	}
	return nil
}
