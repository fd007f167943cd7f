package orchestrate

import (
	"context"
	"fmt"

	"github.com/mil-ad/blueteeth/internal/audio"
	"github.com/mil-ad/blueteeth/internal/bluez"
)

// Fix repairs a broken audio setup with the least intrusive action that
// works: re-route only if the device is connected but not the default sink,
// otherwise a full connect pass, and as a last resort a disconnect,
// a short pause, and one more connect pass ("deep fix").
func (o *Orchestrator) Fix(ctx context.Context, dev bluez.Device) Result {
	res := Result{Device: &dev}

	step := Step{State: StateCheckingStatus, Attempts: 1}
	st, err := o.bt.Status(ctx, dev.Address)
	if err != nil {
		step.Error = err.Error()
		res.Steps = append(res.Steps, step)
		res.Status = Failure
		return res
	}
	step.OK = true
	step.Note = fmt.Sprintf("paired=%v trusted=%v connected=%v", st.Paired, st.Trusted, st.Connected)
	res.Steps = append(res.Steps, step)

	if st.Connected {
		sink, err := o.au.FindBluetoothSink(ctx, dev.Address)
		if err == nil && sink != nil {
			if sink.Default {
				res.Sink = sink
				res.Status = Success
				return res
			}
			// Connected with a live audio node: just re-route.
			sstep := Step{State: StateSettingDefaultSink, Attempts: 1}
			if err := o.au.SetDefaultSink(ctx, sink.ID); err == nil {
				sstep.OK = true
				res.Steps = append(res.Steps, sstep)
				sink.Default = true
				res.Sink = sink
				res.Status = Success
				return res
			} else {
				sstep.Error = err.Error()
				res.Steps = append(res.Steps, sstep)
			}
		}
	}

	// First full pass. Trust/connect no-op when already satisfied, so this
	// is safe for a connected device whose audio node went missing.
	o.connectInto(ctx, dev, &res)
	if res.Status == Success || res.Status == Aborted {
		return res
	}

	o.log.Info().Str("device", dev.Address).Msg("escalating to deep fix")
	dstep := Step{State: StateDisconnecting, Attempts: 1}
	if err := o.bt.Disconnect(ctx, dev.Address); err != nil {
		dstep.Error = err.Error()
	} else {
		dstep.OK = true
	}
	res.Steps = append(res.Steps, dstep)
	if err := o.opts.Sleep(ctx, o.opts.DeepFixPause); err != nil {
		res.Status = Aborted
		return res
	}

	o.connectInto(ctx, dev, &res)
	return res
}

// Switch sets the default sink. A single synchronous call; no retry policy.
func (o *Orchestrator) Switch(ctx context.Context, sinkID uint32) Result {
	res := Result{}
	step := Step{State: StateSwitchingSink, Attempts: 1}

	sinks, err := o.au.ListSinks(ctx)
	if err != nil {
		step.Error = err.Error()
		res.Steps = append(res.Steps, step)
		res.Status = Failure
		return res
	}
	var target *audio.Sink
	for i := range sinks {
		if sinks[i].ID == sinkID {
			target = &sinks[i]
			break
		}
	}
	if target == nil {
		step.Error = fmt.Sprintf("%v: id %d", audio.ErrSinkNotFound, sinkID)
		res.Steps = append(res.Steps, step)
		res.Status = Failure
		return res
	}
	if err := o.au.SetDefaultSink(ctx, sinkID); err != nil {
		step.Error = err.Error()
		res.Steps = append(res.Steps, step)
		res.Status = Failure
		return res
	}
	step.OK = true
	res.Steps = append(res.Steps, step)
	target.Default = true
	res.Sink = target
	res.Status = Success
	return res
}

// Pair bonds with a freshly discovered device and chains straight into the
// connect workflow: a new device needs the same trust/connect/audio
// sequence as a known one.
func (o *Orchestrator) Pair(ctx context.Context, dev bluez.Device) Result {
	res := Result{Device: &dev}
	step := Step{State: StatePairing, Attempts: 1}
	if err := o.bt.Pair(ctx, dev.Address); err != nil {
		step.Error = err.Error()
		res.Steps = append(res.Steps, step)
		res.Status = Failure
		return res
	}
	step.OK = true
	res.Steps = append(res.Steps, step)
	o.connectInto(ctx, dev, &res)
	return res
}

// Diagnosis is a non-mutating health report across the Bluetooth stack,
// the audio server, and the preference store.
type Diagnosis struct {
	AdapterAvailable bool           `json:"adapter_available"`
	AdapterPowered   bool           `json:"adapter_powered"`
	AdapterError     string         `json:"adapter_error,omitempty"`
	PairedDevices    []bluez.Device `json:"paired_devices"`
	AudioAvailable   bool           `json:"audio_available"`
	AudioError       string         `json:"audio_error,omitempty"`
	Sinks            []audio.Sink   `json:"sinks"`
	DefaultSink      *audio.Sink    `json:"default_sink,omitempty"`
	StoreError       string         `json:"store_error,omitempty"`
	LastDevice       string         `json:"last_device,omitempty"`
}

// Diagnose inspects every external collaborator without mutating anything.
// The Bluetooth gateway may be nil when the service was unreachable at
// startup; adapterErr carries that constructor error for the report.
func (o *Orchestrator) Diagnose(ctx context.Context, adapterErr error) Diagnosis {
	var d Diagnosis

	if o.bt == nil {
		if adapterErr != nil {
			d.AdapterError = adapterErr.Error()
		}
	} else {
		d.AdapterAvailable = true
		powered, err := o.bt.AdapterPowered(ctx)
		if err != nil {
			d.AdapterError = err.Error()
		} else {
			d.AdapterPowered = powered
		}
		devices, err := o.bt.ListPaired(ctx)
		if err != nil {
			d.AdapterError = err.Error()
		} else {
			d.PairedDevices = devices
		}
	}

	sinks, err := o.au.ListSinks(ctx)
	if err != nil {
		d.AudioError = err.Error()
	} else {
		d.AudioAvailable = true
		d.Sinks = sinks
		for i := range sinks {
			if sinks[i].Default {
				d.DefaultSink = &sinks[i]
				break
			}
		}
	}

	prefs, err := o.prefs.Load()
	if err != nil {
		d.StoreError = err.Error()
	} else {
		d.LastDevice = prefs.LastDevice
	}
	return d
}
