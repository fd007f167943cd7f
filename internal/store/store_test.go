package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "blueteeth", "config.json"), zerolog.Nop())
}

func TestLoadMissingFileIsEmptyDefaults(t *testing.T) {
	s := newTestStore(t)
	prefs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, prefs.LastDevice)
	assert.Empty(t, prefs.TrustedDevices)
	assert.Equal(t, "a2dp_sink", prefs.DefaultProfile)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		prefs Preferences
	}{
		{"empty", Preferences{DefaultProfile: DefaultProfile}},
		{"last device only", Preferences{LastDevice: "14:3F:A6:27:0E:DD", DefaultProfile: DefaultProfile}},
		{
			"full",
			Preferences{
				LastDevice:     "14:3F:A6:27:0E:DD",
				TrustedDevices: []string{"14:3F:A6:27:0E:DD", "70:99:1C:AA:BB:CC"},
				DefaultProfile: "headset_head_unit",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, s.Save(tt.prefs))
			got, err := s.Load()
			require.NoError(t, err)
			assert.True(t, tt.prefs.Equal(got), "got %+v", got)
		})
	}
}

func TestLoadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	require.ErrorIs(t, err, ErrCorrupt)
	// The corrupt file must be left in place for inspection.
	_, statErr := os.Stat(s.Path())
	assert.NoError(t, statErr)
}

func TestUnknownKeysSurviveSave(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	raw := `{"last_device": null, "trusted_devices": [], "future_knob": {"a": 1}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o644))

	prefs, err := s.Load()
	require.NoError(t, err)
	prefs.LastDevice = "14:3F:A6:27:0E:DD"
	require.NoError(t, s.Save(prefs))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	assert.JSONEq(t, `{"a": 1}`, string(out["future_knob"]))
	assert.JSONEq(t, `"14:3F:A6:27:0E:DD"`, string(out["last_device"]))
}

func TestNullLastDevice(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Preferences{}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "null", string(out["last_device"]))

	prefs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, prefs.LastDevice)
}

func TestRecordConnectedAndTrusted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordConnected("14:3F:A6:27:0E:DD"))
	require.NoError(t, s.RecordTrusted("14:3F:A6:27:0E:DD"))
	require.NoError(t, s.RecordTrusted("14:3F:A6:27:0E:DD")) // no duplicate
	require.NoError(t, s.RecordTrusted("70:99:1C:AA:BB:CC"))

	prefs, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "14:3F:A6:27:0E:DD", prefs.LastDevice)
	assert.Equal(t, []string{"14:3F:A6:27:0E:DD", "70:99:1C:AA:BB:CC"}, prefs.TrustedDevices)
}

func TestForget(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordConnected("14:3F:A6:27:0E:DD"))
	require.NoError(t, s.RecordTrusted("14:3F:A6:27:0E:DD"))
	require.NoError(t, s.RecordTrusted("70:99:1C:AA:BB:CC"))

	require.NoError(t, s.Forget("14:3F:A6:27:0E:DD"))
	prefs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, prefs.LastDevice)
	assert.Equal(t, []string{"70:99:1C:AA:BB:CC"}, prefs.TrustedDevices)

	// Forgetting a device that was never recorded is fine.
	require.NoError(t, s.Forget("00:00:00:00:00:00"))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Preferences{LastDevice: "14:3F:A6:27:0E:DD"}))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.json", entries[0].Name())
}
