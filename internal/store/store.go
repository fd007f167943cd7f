// Package store persists device preferences as JSON under the user's config
// directory. Writes are whole-record and atomic; this tool runs one
// invocation at a time, so no finer-grained locking exists.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// ErrCorrupt means the preferences file exists but is not valid JSON.
	// The file is left in place for inspection; callers should suggest a
	// manual reset rather than delete it.
	ErrCorrupt = errors.New("preferences file corrupt")

	// ErrUnwritable means the preferences file could not be written.
	ErrUnwritable = errors.New("preferences file unwritable")
)

// DefaultProfile is the profile used when the file carries none.
const DefaultProfile = "a2dp_sink"

// Preferences is everything blueteeth remembers between invocations.
// Unknown keys found in the file are carried through Save untouched so
// newer versions can add fields without older ones destroying them.
type Preferences struct {
	LastDevice     string   `json:"last_device"`
	TrustedDevices []string `json:"trusted_devices"`
	DefaultProfile string   `json:"default_profile"`

	extra map[string]json.RawMessage
}

// Equal compares the known fields of two Preferences values.
func (p Preferences) Equal(o Preferences) bool {
	if p.LastDevice != o.LastDevice || p.DefaultProfile != o.DefaultProfile {
		return false
	}
	if len(p.TrustedDevices) != len(o.TrustedDevices) {
		return false
	}
	for i := range p.TrustedDevices {
		if p.TrustedDevices[i] != o.TrustedDevices[i] {
			return false
		}
	}
	return true
}

// Store reads and writes one preferences file.
type Store struct {
	path string
	log  zerolog.Logger
}

// DefaultPath is $XDG_CONFIG_HOME/blueteeth/config.json, falling back to
// ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "blueteeth", "config.json")
}

// New returns a Store bound to the given file path.
func New(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log.With().Str("component", "store").Logger()}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// Load reads the preferences file. A missing file is not an error: first
// runs start from empty preferences with the default profile.
func (s *Store) Load() (Preferences, error) {
	prefs := Preferences{DefaultProfile: DefaultProfile}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("read %s: %w", s.path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return prefs, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if v, ok := raw["last_device"]; ok {
		if err := json.Unmarshal(v, &prefs.LastDevice); err != nil && string(v) != "null" {
			return prefs, fmt.Errorf("%w: %s: last_device: %v", ErrCorrupt, s.path, err)
		}
		delete(raw, "last_device")
	}
	if v, ok := raw["trusted_devices"]; ok {
		if err := json.Unmarshal(v, &prefs.TrustedDevices); err != nil {
			return prefs, fmt.Errorf("%w: %s: trusted_devices: %v", ErrCorrupt, s.path, err)
		}
		delete(raw, "trusted_devices")
	}
	if v, ok := raw["default_profile"]; ok {
		var p string
		if err := json.Unmarshal(v, &p); err != nil {
			return prefs, fmt.Errorf("%w: %s: default_profile: %v", ErrCorrupt, s.path, err)
		}
		if p != "" {
			prefs.DefaultProfile = p
		}
		delete(raw, "default_profile")
	}
	prefs.extra = raw
	return prefs, nil
}

// Save writes the whole record atomically: temp file in the same directory,
// then rename, so a crash mid-write cannot leave a half-written file.
func (s *Store) Save(prefs Preferences) error {
	out := make(map[string]json.RawMessage, len(prefs.extra)+3)
	for k, v := range prefs.extra {
		out[k] = v
	}
	put := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if prefs.LastDevice == "" {
		out["last_device"] = json.RawMessage("null")
	} else if err := put("last_device", prefs.LastDevice); err != nil {
		return err
	}
	trusted := prefs.TrustedDevices
	if trusted == nil {
		trusted = []string{}
	}
	if err := put("trusted_devices", trusted); err != nil {
		return err
	}
	profile := prefs.DefaultProfile
	if profile == "" {
		profile = DefaultProfile
	}
	if err := put("default_profile", profile); err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	s.log.Debug().Str("path", s.path).Msg("preferences saved")
	return nil
}

// RecordConnected remembers addr as the last connected device.
func (s *Store) RecordConnected(addr string) error {
	prefs, err := s.Load()
	if err != nil {
		return err
	}
	prefs.LastDevice = addr
	return s.Save(prefs)
}

// RecordTrusted adds addr to the cached trusted set. The set mirrors the
// stack's trust flags for offline display and stays in insertion order.
func (s *Store) RecordTrusted(addr string) error {
	prefs, err := s.Load()
	if err != nil {
		return err
	}
	for _, a := range prefs.TrustedDevices {
		if a == addr {
			return nil
		}
	}
	prefs.TrustedDevices = append(prefs.TrustedDevices, addr)
	return s.Save(prefs)
}

// Forget drops addr from the preferences: the trusted set, and the last
// device slot when it matches.
func (s *Store) Forget(addr string) error {
	prefs, err := s.Load()
	if err != nil {
		return err
	}
	if prefs.LastDevice == addr {
		prefs.LastDevice = ""
	}
	kept := prefs.TrustedDevices[:0]
	for _, a := range prefs.TrustedDevices {
		if a != addr {
			kept = append(kept, a)
		}
	}
	prefs.TrustedDevices = kept
	return s.Save(prefs)
}
