package orchestrate

import (
	"context"
	"time"

	"github.com/mil-ad/blueteeth/internal/audio"
	"github.com/mil-ad/blueteeth/internal/bluez"
	"github.com/mil-ad/blueteeth/internal/store"
)

// State names one stage of the connect state machine. Transitions only move
// forward; StateDone is terminal.
type State string

const (
	StateIdle               State = "idle"
	StateTrusting           State = "trusting"
	StateConnecting         State = "connecting"
	StateAwaitingAudioNode  State = "awaiting-audio-node"
	StateSelectingProfile   State = "selecting-profile"
	StateSettingDefaultSink State = "setting-default-sink"
	StateDisconnecting      State = "disconnecting"
	StatePairing            State = "pairing"
	StateCheckingStatus     State = "checking-status"
	StateSwitchingSink      State = "switching-sink"
	StateDone               State = "done"
)

// Status is the overall outcome of a workflow.
type Status string

const (
	// Success: the device is connected and its sink is the default.
	Success Status = "success"
	// Partial: the device is connected but the default-sink assignment
	// could not be confirmed.
	Partial Status = "partial"
	// Failure: the workflow did not leave the device connected.
	Failure Status = "failure"
	// Aborted: the user interrupted the workflow between retry attempts.
	Aborted Status = "aborted"
)

// Step records one stage of a workflow for the diagnostic trail: which
// state ran, how many attempts it took, and the external error text
// verbatim when it failed. Aborted marks a user interrupt, kept separate
// from the error text so a gateway error reading "aborted" is not
// mistaken for one.
type Step struct {
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	OK       bool   `json:"ok"`
	Aborted  bool   `json:"aborted,omitempty"`
	Error    string `json:"error,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Result is the outcome of an orchestrated operation.
type Result struct {
	Status Status        `json:"status"`
	Device *bluez.Device `json:"device,omitempty"`
	Sink   *audio.Sink   `json:"sink,omitempty"`
	Steps  []Step        `json:"steps"`
}

// BluetoothGateway is the slice of the BlueZ surface the orchestrator
// drives. Satisfied by *bluez.Gateway; faked in tests.
type BluetoothGateway interface {
	ListPaired(ctx context.Context) ([]bluez.Device, error)
	Scan(ctx context.Context, window time.Duration) ([]bluez.Device, error)
	Status(ctx context.Context, addr string) (bluez.Status, error)
	AdapterPowered(ctx context.Context) (bool, error)
	Trust(ctx context.Context, addr string) error
	Connect(ctx context.Context, addr string) error
	Disconnect(ctx context.Context, addr string) error
	Pair(ctx context.Context, addr string) error
	RemovePairing(ctx context.Context, addr string) error
}

// AudioGateway is the slice of the audio routing surface the orchestrator
// drives. Satisfied by *audio.Gateway.
type AudioGateway interface {
	ListSinks(ctx context.Context) ([]audio.Sink, error)
	SetDefaultSink(ctx context.Context, id uint32) error
	FindBluetoothSink(ctx context.Context, addr string) (*audio.Sink, error)
	SelectProfile(ctx context.Context, addr, profile string) (audio.ProfileOutcome, error)
}

// PreferenceStore is the persistence the orchestrator touches mid-workflow.
// Satisfied by *store.Store.
type PreferenceStore interface {
	Load() (store.Preferences, error)
	RecordConnected(addr string) error
	RecordTrusted(addr string) error
}
