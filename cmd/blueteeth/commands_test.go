package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/blueteeth/internal/bluez"
	"github.com/mil-ad/blueteeth/internal/orchestrate"
)

// fakeAdapter satisfies orchestrate.BluetoothGateway for command-layer
// tests. The issued list records mutating calls only.
type fakeAdapter struct {
	devices []bluez.Device
	issued  []string
}

func (f *fakeAdapter) ListPaired(ctx context.Context) ([]bluez.Device, error) {
	return f.devices, nil
}

func (f *fakeAdapter) Scan(ctx context.Context, window time.Duration) ([]bluez.Device, error) {
	return nil, nil
}

func (f *fakeAdapter) Status(ctx context.Context, addr string) (bluez.Status, error) {
	return bluez.Status{}, nil
}

func (f *fakeAdapter) AdapterPowered(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeAdapter) Trust(ctx context.Context, addr string) error {
	f.issued = append(f.issued, "trust")
	return nil
}

func (f *fakeAdapter) Connect(ctx context.Context, addr string) error {
	f.issued = append(f.issued, "connect")
	return nil
}

func (f *fakeAdapter) Disconnect(ctx context.Context, addr string) error {
	f.issued = append(f.issued, "disconnect")
	return nil
}

func (f *fakeAdapter) Pair(ctx context.Context, addr string) error {
	f.issued = append(f.issued, "pair")
	return nil
}

func (f *fakeAdapter) RemovePairing(ctx context.Context, addr string) error {
	f.issued = append(f.issued, "remove")
	return nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a := &app{configPath: filepath.Join(t.TempDir(), "config.json")}
	require.NoError(t, a.init(nil, nil))
	return a
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var xe *exitError
	require.ErrorAs(t, err, &xe)
	return xe.code
}

func TestResolveTargetAmbiguousQuery(t *testing.T) {
	// Two paired devices both match "sony": the verb must stop with the
	// ambiguous-target exit code before any Bluetooth mutation is issued.
	bt := &fakeAdapter{devices: []bluez.Device{
		{Address: "14:3F:A6:27:0E:DD", Name: "Sony WH-1000XM4", Paired: true},
		{Address: "38:18:4C:11:22:33", Name: "Sony WF-1000XM5", Paired: true},
	}}
	a := newTestApp(t)

	_, err := a.resolveTarget(context.Background(), bt, "sony")
	assert.Equal(t, exitAmbiguous, exitCode(t, err))
	assert.Empty(t, bt.issued)
}

func TestResolveTargetAmbiguousEmptyQuery(t *testing.T) {
	bt := &fakeAdapter{devices: []bluez.Device{
		{Address: "14:3F:A6:27:0E:DD", Name: "Sony WH-1000XM4", Paired: true},
		{Address: "70:99:1C:AA:BB:CC", Name: "JBL Flip 6", Paired: true},
	}}
	a := newTestApp(t)

	_, err := a.resolveTarget(context.Background(), bt, "")
	assert.Equal(t, exitAmbiguous, exitCode(t, err))
	assert.Empty(t, bt.issued)
}

func TestResolveTargetNotFound(t *testing.T) {
	bt := &fakeAdapter{devices: []bluez.Device{
		{Address: "14:3F:A6:27:0E:DD", Name: "Sony WH-1000XM4", Paired: true},
	}}
	a := newTestApp(t)

	_, err := a.resolveTarget(context.Background(), bt, "bose")
	assert.Equal(t, exitNotFound, exitCode(t, err))
	assert.Empty(t, bt.issued)
}

func TestResolveTargetNoPairedDevices(t *testing.T) {
	a := newTestApp(t)
	_, err := a.resolveTarget(context.Background(), &fakeAdapter{}, "")
	assert.Equal(t, exitNotFound, exitCode(t, err))
}

func TestResolveTargetHonorsLastDevice(t *testing.T) {
	bt := &fakeAdapter{devices: []bluez.Device{
		{Address: "14:3F:A6:27:0E:DD", Name: "Sony WH-1000XM4", Paired: true},
		{Address: "70:99:1C:AA:BB:CC", Name: "JBL Flip 6", Paired: true},
	}}
	a := newTestApp(t)
	require.NoError(t, a.store.RecordConnected("70:99:1C:AA:BB:CC"))

	dev, err := a.resolveTarget(context.Background(), bt, "")
	require.NoError(t, err)
	assert.Equal(t, "70:99:1C:AA:BB:CC", dev.Address)
	assert.Empty(t, bt.issued)
}

func TestWorkflowExitCodes(t *testing.T) {
	tests := []struct {
		status orchestrate.Status
		code   int
	}{
		{orchestrate.Success, exitOK},
		{orchestrate.Partial, exitPartial},
		{orchestrate.Failure, exitFailure},
		{orchestrate.Aborted, exitFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			err := workflowExit(orchestrate.Result{Status: tt.status})
			if tt.code == exitOK {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, exitCode(t, err))
		})
	}
}

func TestConnectedDevice(t *testing.T) {
	bt := &fakeAdapter{devices: []bluez.Device{
		{Address: "14:3F:A6:27:0E:DD", Name: "Sony WH-1000XM4", Paired: true},
		{Address: "70:99:1C:AA:BB:CC", Name: "JBL Flip 6", Paired: true, Connected: true},
	}}
	dev, err := connectedDevice(context.Background(), bt)
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, "70:99:1C:AA:BB:CC", dev.Address)

	none, err := connectedDevice(context.Background(), &fakeAdapter{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGatewayErrorsMapToUnavailableCode(t *testing.T) {
	err := errors.New("wrapped")
	assert.NotEqual(t, exitUnavailable, exitCodeFor(err))
	assert.Equal(t, exitUnavailable, exitCodeFor(bluez.ErrAdapterUnavailable))
}
