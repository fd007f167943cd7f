package audio

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wpctlStatus = `PipeWire 'pipewire-0' [1.0.5]
 └─ Clients:
        32. WirePlumber

Audio
 ├─ Devices:
 │      41. Built-in Audio                      [alsa]
 │      55. WH-1000XM4                          [bluez5]
 │
 ├─ Sinks:
 │  *   43. Built-in Audio Analog Stereo        [vol: 0.40]
 │      57. bluez_output.14_3F_A6_27_0E_DD.1    [vol: 1.00]
 │
 ├─ Sources:
 │      44. Built-in Audio Analog Stereo        [vol: 1.00]
 │
 └─ Streams:

Video
 ├─ Sinks:
`

const pactlCards = `Card #41
	Name: alsa_card.pci-0000_00_1f.3
	Driver: alsa
	Active Profile: output:analog-stereo
Card #55
	Name: bluez_card.14_3F_A6_27_0E_DD
	Driver: module-bluez5-device.c
	Active Profile: a2dp-sink
	Profiles:
		a2dp-sink: High Fidelity Playback (A2DP Sink) (sinks: 1, sources: 0, priority: 40, available: yes)
		headset-head-unit: Headset Head Unit (HSP/HFP) (sinks: 1, sources: 1, priority: 30, available: yes)
`

// scriptRunner returns canned output per command name.
type scriptRunner struct {
	out   map[string]string
	err   map[string]error
	calls []string
}

func (s *scriptRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	s.calls = append(s.calls, key)
	if err, ok := s.err[key]; ok {
		return "", err
	}
	for prefix, out := range s.out {
		if strings.HasPrefix(key, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func newTestGateway(r *scriptRunner) *Gateway {
	return &Gateway{run: r, matcher: DefaultMatcher{}, log: zerolog.Nop()}
}

func TestParseSinks(t *testing.T) {
	sinks := parseSinks(wpctlStatus, DefaultMatcher{})
	require.Len(t, sinks, 2)

	assert.Equal(t, uint32(43), sinks[0].ID)
	assert.Equal(t, "Built-in Audio Analog Stereo", sinks[0].Name)
	assert.True(t, sinks[0].Default)
	assert.False(t, sinks[0].Bluetooth)

	assert.Equal(t, uint32(57), sinks[1].ID)
	assert.Equal(t, "bluez_output.14_3F_A6_27_0E_DD.1", sinks[1].Name)
	assert.False(t, sinks[1].Default)
	assert.True(t, sinks[1].Bluetooth)
}

func TestParseSinksIgnoresOtherSections(t *testing.T) {
	// The Sources and Devices blocks carry the same line shape and must
	// not leak into the sink list.
	sinks := parseSinks(wpctlStatus, DefaultMatcher{})
	for _, s := range sinks {
		assert.NotEqual(t, uint32(44), s.ID)
		assert.NotEqual(t, uint32(41), s.ID)
	}
}

func TestListSinksUnavailable(t *testing.T) {
	r := &scriptRunner{err: map[string]error{"wpctl status": errors.New("connect to PipeWire failed")}}
	g := newTestGateway(r)

	_, err := g.ListSinks(context.Background())
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "connect to PipeWire failed")
}

func TestSetDefaultSink(t *testing.T) {
	r := &scriptRunner{out: map[string]string{"wpctl status": wpctlStatus}}
	g := newTestGateway(r)

	require.NoError(t, g.SetDefaultSink(context.Background(), 57))
	assert.Contains(t, r.calls, "wpctl set-default 57")

	err := g.SetDefaultSink(context.Background(), 999)
	require.ErrorIs(t, err, ErrSinkNotFound)
	assert.NotContains(t, r.calls, "wpctl set-default 999")
}

func TestFindBluetoothSink(t *testing.T) {
	r := &scriptRunner{out: map[string]string{"wpctl status": wpctlStatus}}
	g := newTestGateway(r)

	sink, err := g.FindBluetoothSink(context.Background(), "14:3f:a6:27:0e:dd")
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.Equal(t, uint32(57), sink.ID)
}

func TestFindBluetoothSinkNotMaterialized(t *testing.T) {
	noBT := strings.ReplaceAll(wpctlStatus, "bluez_output.14_3F_A6_27_0E_DD.1", "HDMI Output")
	r := &scriptRunner{out: map[string]string{"wpctl status": noBT}}
	g := newTestGateway(r)

	sink, err := g.FindBluetoothSink(context.Background(), "14:3F:A6:27:0E:DD")
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestDefaultMatcher(t *testing.T) {
	m := DefaultMatcher{}
	assert.True(t, m.Match("bluez_output.14_3F_A6_27_0E_DD.1", "14:3F:A6:27:0E:DD"))
	assert.True(t, m.Match("bluez_output.14_3F_A6_27_0E_DD.1", ""))
	assert.True(t, m.Match("Sony Bluetooth Headphones", ""))
	assert.False(t, m.Match("Built-in Audio Analog Stereo", "14:3F:A6:27:0E:DD"))
}

func TestSelectProfileAlreadyActive(t *testing.T) {
	r := &scriptRunner{out: map[string]string{"pactl list cards": pactlCards}}
	g := newTestGateway(r)

	// The PulseAudio-style token matches the PipeWire-style active profile.
	outcome, err := g.SelectProfile(context.Background(), "14:3F:A6:27:0E:DD", "a2dp_sink")
	require.NoError(t, err)
	assert.Equal(t, ProfileAlreadyActive, outcome)
	assert.NotContains(t, strings.Join(r.calls, "\n"), "set-card-profile")
}

func TestSelectProfileApplied(t *testing.T) {
	r := &scriptRunner{out: map[string]string{"pactl list cards": pactlCards}}
	g := newTestGateway(r)

	outcome, err := g.SelectProfile(context.Background(), "14:3F:A6:27:0E:DD", "headset-head-unit")
	require.NoError(t, err)
	assert.Equal(t, ProfileApplied, outcome)
	assert.Contains(t, r.calls,
		"pactl set-card-profile bluez_card.14_3F_A6_27_0E_DD headset-head-unit")
}

func TestSelectProfileUnsupported(t *testing.T) {
	r := &scriptRunner{
		out: map[string]string{"pactl list cards": pactlCards},
		err: map[string]error{
			"pactl set-card-profile bluez_card.14_3F_A6_27_0E_DD aptx": errors.New("Failure: No such entity"),
		},
	}
	g := newTestGateway(r)

	_, err := g.SelectProfile(context.Background(), "14:3F:A6:27:0E:DD", "aptx")
	require.ErrorIs(t, err, ErrProfileUnsupported)
	assert.Contains(t, err.Error(), "No such entity")
}

func TestActiveProfileParsing(t *testing.T) {
	assert.Equal(t, "a2dp-sink", activeProfile(pactlCards, "bluez_card.14_3F_A6_27_0E_DD"))
	assert.Equal(t, "output:analog-stereo", activeProfile(pactlCards, "alsa_card.pci-0000_00_1f.3"))
	assert.Empty(t, activeProfile(pactlCards, "bluez_card.00_00_00_00_00_00"))
}
