// Package bluez talks to the BlueZ daemon over the system D-Bus. It is the
// only part of the tool that knows about Bluetooth; everything above it works
// with Device values and MAC addresses.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	busName      = "org.bluez"
	adapterPath  = "/org/bluez/hci0"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"
	omIface      = "org.freedesktop.DBus.ObjectManager"
)

var (
	// ErrAdapterUnavailable means the BlueZ service is not reachable on the
	// system bus, typically because bluetooth.service is not running.
	ErrAdapterUnavailable = errors.New("bluetooth service unavailable")

	// ErrAdapterTimeout means a BlueZ call did not complete within the
	// configured deadline.
	ErrAdapterTimeout = errors.New("bluetooth operation timed out")
)

// Device is a snapshot of a BlueZ device object. Connected and Trusted are
// observed values, never cached across invocations.
type Device struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Paired    bool      `json:"paired"`
	Trusted   bool      `json:"trusted"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// Status is a fresh {paired, trusted, connected} snapshot for one device.
type Status struct {
	Paired    bool
	Trusted   bool
	Connected bool
}

// DeviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func DeviceObjectPath(addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(adapterPath + "/dev_" + escaped)
}

// AddressFromPath extracts a MAC address from a BlueZ device object path.
func AddressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	prefix := adapterPath + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// NormalizeAddress uppercases a MAC address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// Gateway wraps a system D-Bus connection for BlueZ operations. All calls
// run with a bounded deadline; exceeding it surfaces ErrAdapterTimeout.
type Gateway struct {
	conn    *dbus.Conn
	timeout time.Duration
	log     zerolog.Logger
}

// New connects to the system bus and verifies BlueZ is present on it.
func New(timeout time.Duration, log zerolog.Logger) (*Gateway, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect to system bus: %v", ErrAdapterUnavailable, err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: list bus names: %v", ErrAdapterUnavailable, err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("%w: org.bluez not on system bus — is bluetooth.service running?", ErrAdapterUnavailable)
	}
	return &Gateway{
		conn:    conn,
		timeout: timeout,
		log:     log.With().Str("component", "bluez").Logger(),
	}, nil
}

// Close releases the D-Bus connection.
func (g *Gateway) Close() {
	g.conn.Close()
}

func (g *Gateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

func mapCallErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrAdapterTimeout, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- property helpers ---

func (g *Gateway) getProp(ctx context.Context, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	cctx, cancel := g.callCtx(ctx)
	defer cancel()
	obj := g.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.CallWithContext(cctx, propsIface+".Get", 0, iface, prop).Store(&v)
	return v, mapCallErr(cctx, "get "+prop, err)
}

func (g *Gateway) setProp(ctx context.Context, path dbus.ObjectPath, iface, prop string, val interface{}) error {
	cctx, cancel := g.callCtx(ctx)
	defer cancel()
	obj := g.conn.Object(busName, path)
	err := obj.CallWithContext(cctx, propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
	return mapCallErr(cctx, "set "+prop, err)
}

func (g *Gateway) getBool(ctx context.Context, path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := g.getProp(ctx, path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

func (g *Gateway) callDevice(ctx context.Context, addr, method string) error {
	cctx, cancel := g.callCtx(ctx)
	defer cancel()
	obj := g.conn.Object(busName, DeviceObjectPath(addr))
	err := obj.CallWithContext(cctx, deviceIface+"."+method, 0).Err
	return mapCallErr(cctx, strings.ToLower(method)+" "+addr, err)
}

// --- adapter ---

// AdapterPowered reports whether the local adapter is powered on.
func (g *Gateway) AdapterPowered(ctx context.Context) (bool, error) {
	return g.getBool(ctx, adapterPath, adapterIface, "Powered")
}

// SetAdapterPowered powers the local adapter on or off.
func (g *Gateway) SetAdapterPowered(ctx context.Context, on bool) error {
	return g.setProp(ctx, adapterPath, adapterIface, "Powered", on)
}

// --- enumeration ---

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func (g *Gateway) managedObjects(ctx context.Context) (managedObjects, error) {
	cctx, cancel := g.callCtx(ctx)
	defer cancel()
	var objs managedObjects
	err := g.conn.Object(busName, "/").CallWithContext(cctx, omIface+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, mapCallErr(cctx, "enumerate devices", err)
	}
	return objs, nil
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Device {
	d := Device{Address: AddressFromPath(path)}
	if v, ok := props["Address"]; ok {
		if s, ok := v.Value().(string); ok {
			d.Address = NormalizeAddress(s)
		}
	}
	if v, ok := props["Name"]; ok {
		d.Name, _ = v.Value().(string)
	}
	if d.Name == "" {
		if v, ok := props["Alias"]; ok {
			d.Name, _ = v.Value().(string)
		}
	}
	if v, ok := props["Paired"]; ok {
		d.Paired, _ = v.Value().(bool)
	}
	if v, ok := props["Trusted"]; ok {
		d.Trusted, _ = v.Value().(bool)
	}
	if v, ok := props["Connected"]; ok {
		d.Connected, _ = v.Value().(bool)
	}
	d.LastSeen = time.Now()
	return d
}

// ListPaired returns all paired devices known to the adapter, sorted by
// address so repeated listings are stable.
func (g *Gateway) ListPaired(ctx context.Context) ([]Device, error) {
	objs, err := g.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		d := deviceFromProps(path, props)
		if d.Paired {
			devices = append(devices, d)
		}
	}
	SortDevices(devices)
	return devices, nil
}

// SortDevices orders devices by address.
func SortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})
}

// Status fetches a fresh paired/trusted/connected snapshot. Nothing is
// cached: the daemon owns this state and it changes out of band.
func (g *Gateway) Status(ctx context.Context, addr string) (Status, error) {
	path := DeviceObjectPath(addr)
	paired, err := g.getBool(ctx, path, deviceIface, "Paired")
	if err != nil {
		return Status{}, err
	}
	trusted, err := g.getBool(ctx, path, deviceIface, "Trusted")
	if err != nil {
		return Status{}, err
	}
	connected, err := g.getBool(ctx, path, deviceIface, "Connected")
	if err != nil {
		return Status{}, err
	}
	return Status{Paired: paired, Trusted: trusted, Connected: connected}, nil
}

// --- mutations, all idempotent ---

// Trust marks the device trusted. Already-trusted devices are left alone.
func (g *Gateway) Trust(ctx context.Context, addr string) error {
	trusted, err := g.getBool(ctx, DeviceObjectPath(addr), deviceIface, "Trusted")
	if err == nil && trusted {
		return nil
	}
	return g.setProp(ctx, DeviceObjectPath(addr), deviceIface, "Trusted", true)
}

// Connect establishes the link. A no-op when the device is already connected.
func (g *Gateway) Connect(ctx context.Context, addr string) error {
	connected, err := g.getBool(ctx, DeviceObjectPath(addr), deviceIface, "Connected")
	if err == nil && connected {
		g.log.Debug().Str("device", addr).Msg("already connected")
		return nil
	}
	return g.callDevice(ctx, addr, "Connect")
}

// Disconnect drops the link. A no-op when the device is not connected.
func (g *Gateway) Disconnect(ctx context.Context, addr string) error {
	connected, err := g.getBool(ctx, DeviceObjectPath(addr), deviceIface, "Connected")
	if err == nil && !connected {
		return nil
	}
	return g.callDevice(ctx, addr, "Disconnect")
}

// Pair bonds with the device. A no-op when already paired.
func (g *Gateway) Pair(ctx context.Context, addr string) error {
	paired, err := g.getBool(ctx, DeviceObjectPath(addr), deviceIface, "Paired")
	if err == nil && paired {
		return nil
	}
	return g.callDevice(ctx, addr, "Pair")
}

// RemovePairing removes the device from the adapter. Succeeds when the
// device is already gone.
func (g *Gateway) RemovePairing(ctx context.Context, addr string) error {
	cctx, cancel := g.callCtx(ctx)
	defer cancel()
	obj := g.conn.Object(busName, adapterPath)
	err := obj.CallWithContext(cctx, adapterIface+".RemoveDevice", 0, DeviceObjectPath(addr)).Err
	if err != nil {
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) && dbusErr.Name == "org.bluez.Error.DoesNotExist" {
			return nil
		}
	}
	return mapCallErr(cctx, "remove "+addr, err)
}
