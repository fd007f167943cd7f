// Package audio talks to the PipeWire session manager through the wpctl and
// pactl command-line surfaces. PipeWire exposes no D-Bus control interface
// and no stable native Go client, so the gateway shells out the same way a
// user at a terminal would.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrServiceUnavailable means wpctl could not reach the audio server.
	ErrServiceUnavailable = errors.New("audio service unavailable")

	// ErrSinkNotFound means the requested sink id is absent from the
	// current listing.
	ErrSinkNotFound = errors.New("sink not found")

	// ErrProfileUnsupported means the device does not expose the requested
	// audio profile. Callers treat this as non-fatal.
	ErrProfileUnsupported = errors.New("profile unsupported")
)

// Sink is one audio output endpoint. IDs are assigned by the audio server
// and are not stable across restarts.
type Sink struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Default   bool   `json:"default"`
	Bluetooth bool   `json:"bluetooth"`
}

// ProfileOutcome reports what SelectProfile actually did.
type ProfileOutcome int

const (
	// ProfileApplied means the profile switch was issued and accepted.
	ProfileApplied ProfileOutcome = iota
	// ProfileAlreadyActive means the device already had the requested
	// profile; no switch was issued. Not an error.
	ProfileAlreadyActive
)

// runner executes an external control command and returns its stdout.
// Swapped for a script in tests.
type runner interface {
	run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String(), fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

// Gateway drives the host's audio routing layer.
type Gateway struct {
	run     runner
	matcher SinkMatcher
	log     zerolog.Logger
}

// New returns a Gateway using the default wpctl/pactl transport and the
// default Bluetooth sink matcher.
func New(log zerolog.Logger) *Gateway {
	return &Gateway{
		run:     execRunner{},
		matcher: DefaultMatcher{},
		log:     log.With().Str("component", "audio").Logger(),
	}
}

// WithMatcher replaces the Bluetooth sink matching heuristic. The default
// pattern is PipeWire-specific and may not fit every audio server version.
func (g *Gateway) WithMatcher(m SinkMatcher) *Gateway {
	g.matcher = m
	return g
}

// ListSinks enumerates the current sinks, ordered by id.
func (g *Gateway) ListSinks(ctx context.Context) ([]Sink, error) {
	out, err := g.run.run(ctx, "wpctl", "status")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return parseSinks(out, g.matcher), nil
}

// SetDefaultSink routes new streams to the given sink. The id is validated
// against the current listing first so a stale id fails cleanly.
func (g *Gateway) SetDefaultSink(ctx context.Context, id uint32) error {
	sinks, err := g.ListSinks(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, s := range sinks {
		if s.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: id %d", ErrSinkNotFound, id)
	}
	if _, err := g.run.run(ctx, "wpctl", "set-default", fmt.Sprintf("%d", id)); err != nil {
		return fmt.Errorf("set default sink %d: %w", id, err)
	}
	g.log.Debug().Uint32("sink", id).Msg("default sink set")
	return nil
}

// FindBluetoothSink looks for the sink backed by the given device. Returns
// nil when the audio server has not materialized the node yet, which is
// normal shortly after connect.
func (g *Gateway) FindBluetoothSink(ctx context.Context, addr string) (*Sink, error) {
	sinks, err := g.ListSinks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sinks {
		if g.matcher.Match(sinks[i].Name, addr) {
			return &sinks[i], nil
		}
	}
	return nil, nil
}
