// Package orchestrate sequences the multi-step workflows that take a device
// from paired to "connected and routing audio": trust, connect, wait for the
// audio node to materialize, select the playback profile, set the default
// sink. Every step can fail transiently, so the engine retries with bounded
// backoff and keeps a per-step diagnostic trail instead of failing opaquely.
package orchestrate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mil-ad/blueteeth/internal/audio"
	"github.com/mil-ad/blueteeth/internal/bluez"
)

// ErrAborted is recorded when the user interrupts a workflow between retry
// attempts. Actions already issued against the external stack are not
// undone.
var ErrAborted = errors.New("aborted")

// Options tune the retry engine. Zero values fall back to the defaults.
type Options struct {
	// Attempts is the per-step retry ceiling for trusting, connecting and
	// audio-node polling.
	Attempts int
	// Backoff holds the wait before retry n (1-based). The last entry
	// repeats if Attempts exceeds its length.
	Backoff []time.Duration
	// Profile is the audio profile token requested after connect.
	Profile string
	// DeepFixPause is the settle time between disconnect and reconnect in
	// the deep-fix path.
	DeepFixPause time.Duration
	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if len(o.Backoff) == 0 {
		o.Backoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	}
	if o.Profile == "" {
		o.Profile = "a2dp_sink"
	}
	if o.DeepFixPause <= 0 {
		o.DeepFixPause = 2 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator drives the workflows. It holds no device or sink state of
// its own: the external daemons own that state, and every workflow
// re-queries them.
type Orchestrator struct {
	bt    BluetoothGateway
	au    AudioGateway
	prefs PreferenceStore
	opts  Options
	log   zerolog.Logger
}

// New wires an orchestrator over the two gateways and the preference store.
func New(bt BluetoothGateway, au AudioGateway, prefs PreferenceStore, opts Options, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		bt:    bt,
		au:    au,
		prefs: prefs,
		opts:  opts.withDefaults(),
		log:   log.With().Str("component", "orchestrate").Logger(),
	}
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	if attempt-1 < len(o.opts.Backoff) {
		return o.opts.Backoff[attempt-1]
	}
	return o.opts.Backoff[len(o.opts.Backoff)-1]
}

// retry runs fn up to the attempt ceiling, sleeping between attempts.
// Cancellation is honored only between attempts, never mid-call. The
// returned step carries the attempt count and the last error text.
func (o *Orchestrator) retry(ctx context.Context, state State, fn func(context.Context) error) Step {
	step := Step{State: state}
	var lastErr error
	for attempt := 1; attempt <= o.opts.Attempts; attempt++ {
		step.Attempts = attempt
		lastErr = fn(ctx)
		if lastErr == nil {
			step.OK = true
			return step
		}
		o.log.Debug().Str("state", string(state)).Int("attempt", attempt).
			Err(lastErr).Msg("step attempt failed")
		if attempt == o.opts.Attempts {
			break
		}
		if err := o.opts.Sleep(ctx, o.backoff(attempt)); err != nil {
			step.Aborted = true
			step.Error = ErrAborted.Error()
			return step
		}
	}
	step.Error = lastErr.Error()
	return step
}

func aborted(step Step) bool {
	return step.Aborted
}

// Connect runs the full sequence for an already-paired device: trust,
// connect, wait for the audio node, select the profile, set the default
// sink.
func (o *Orchestrator) Connect(ctx context.Context, dev bluez.Device) Result {
	res := Result{Device: &dev}
	o.connectInto(ctx, dev, &res)
	return res
}

// connectInto appends the connect sequence's steps to res and sets its
// final status, so callers like Pair and Fix can extend an existing trail.
func (o *Orchestrator) connectInto(ctx context.Context, dev bluez.Device, res *Result) {
	addr := dev.Address

	// Trusting. The gateway no-ops when the device is already trusted, so
	// repeated connects do not touch external state.
	step := o.retry(ctx, StateTrusting, func(c context.Context) error {
		return o.bt.Trust(c, addr)
	})
	res.Steps = append(res.Steps, step)
	if aborted(step) {
		res.Status = Aborted
		return
	}
	if !step.OK {
		res.Status = Failure
		return
	}
	if err := o.prefs.RecordTrusted(addr); err != nil {
		o.log.Warn().Err(err).Msg("could not cache trust in preferences")
	}

	// Connecting.
	step = o.retry(ctx, StateConnecting, func(c context.Context) error {
		return o.bt.Connect(c, addr)
	})
	res.Steps = append(res.Steps, step)
	if aborted(step) {
		res.Status = Aborted
		return
	}
	if !step.OK {
		res.Status = Failure
		return
	}
	if err := o.prefs.RecordConnected(addr); err != nil {
		o.log.Warn().Err(err).Msg("could not record last device in preferences")
	}

	// Awaiting audio node. Link establishment and node materialization lag
	// the Connect call, so this is a poll, not a single query. Exhausting
	// the ceiling is not fatal: a connected device without confirmed audio
	// beats a disconnected one, so the workflow degrades to partial
	// instead of rolling back.
	var sink *audio.Sink
	step = o.retry(ctx, StateAwaitingAudioNode, func(c context.Context) error {
		s, err := o.au.FindBluetoothSink(c, addr)
		if err != nil {
			return err
		}
		if s == nil {
			return errors.New("audio node not yet present")
		}
		sink = s
		return nil
	})
	res.Steps = append(res.Steps, step)
	if aborted(step) {
		res.Status = Aborted
		return
	}
	if !step.OK {
		res.Status = Partial
		return
	}
	res.Sink = sink

	// Selecting profile, best effort. Unsupported or already-active
	// profiles do not block routing. A dead audio service ends the
	// workflow, but the device stays connected, so the outcome is
	// partial rather than failure.
	pstep := Step{State: StateSelectingProfile, Attempts: 1}
	outcome, err := o.au.SelectProfile(ctx, addr, o.opts.Profile)
	switch {
	case err == nil && outcome == audio.ProfileAlreadyActive:
		pstep.OK = true
		pstep.Note = "profile already active"
	case err == nil:
		pstep.OK = true
	case errors.Is(err, audio.ErrProfileUnsupported):
		pstep.OK = true
		pstep.Note = "profile not offered by device"
		pstep.Error = err.Error()
	default:
		pstep.Error = err.Error()
		res.Steps = append(res.Steps, pstep)
		res.Status = Partial
		return
	}
	res.Steps = append(res.Steps, pstep)

	// Setting default sink. Failure here downgrades to partial: the
	// connection itself succeeded even if routing did not.
	sstep := Step{State: StateSettingDefaultSink, Attempts: 1}
	if err := o.au.SetDefaultSink(ctx, sink.ID); err != nil {
		sstep.Error = err.Error()
		res.Steps = append(res.Steps, sstep)
		res.Status = Partial
		return
	}
	sstep.OK = true
	res.Steps = append(res.Steps, sstep)
	sink.Default = true
	res.Status = Success
}

// Disconnect drops the device's link.
func (o *Orchestrator) Disconnect(ctx context.Context, dev bluez.Device) Result {
	res := Result{Device: &dev}
	step := Step{State: StateDisconnecting, Attempts: 1}
	if err := o.bt.Disconnect(ctx, dev.Address); err != nil {
		step.Error = err.Error()
		res.Steps = append(res.Steps, step)
		res.Status = Failure
		return res
	}
	step.OK = true
	res.Steps = append(res.Steps, step)
	res.Status = Success
	return res
}
