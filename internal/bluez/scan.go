package bluez

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
)

const omAddedSignal = omIface + ".InterfacesAdded"

// DefaultScanWindow is how long Scan listens for new devices.
const DefaultScanWindow = 10 * time.Second

// subscribeInterfacesAdded registers for ObjectManager InterfacesAdded
// signals under the BlueZ namespace and returns the delivery channel.
func (g *Gateway) subscribeInterfacesAdded() chan *dbus.Signal {
	g.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+omIface+"',member='InterfacesAdded',path_namespace='/org/bluez'",
	)
	ch := make(chan *dbus.Signal, 16)
	g.conn.Signal(ch)
	return ch
}

func deviceFromSignal(sig *dbus.Signal) (Device, bool) {
	if sig.Name != omAddedSignal || len(sig.Body) < 2 {
		return Device{}, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return Device{}, false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return Device{}, false
	}
	props, ok := ifaces[deviceIface]
	if !ok {
		return Device{}, false
	}
	return deviceFromProps(path, props), true
}

// Scan runs a discovery window and returns devices that are visible but not
// yet paired. Devices are collected both from InterfacesAdded signals during
// the window and from a final enumeration sweep, since devices BlueZ already
// knew about do not re-announce themselves.
func (g *Gateway) Scan(ctx context.Context, window time.Duration) ([]Device, error) {
	if window <= 0 {
		window = DefaultScanWindow
	}

	cctx, cancel := g.callCtx(ctx)
	adapter := g.conn.Object(busName, adapterPath)
	err := adapter.CallWithContext(cctx, adapterIface+".StartDiscovery", 0).Err
	cancel()
	if err != nil {
		return nil, mapCallErr(ctx, "start discovery", err)
	}
	defer func() {
		// Best effort; discovery also stops when the connection closes.
		adapter.Call(adapterIface+".StopDiscovery", 0)
	}()

	sigCh := g.subscribeInterfacesAdded()
	defer g.conn.RemoveSignal(sigCh)

	seen := make(map[string]Device)
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	g.log.Info().Dur("window", window).Msg("scanning for devices")
collect:
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				break collect
			}
			if d, ok := deviceFromSignal(sig); ok && !d.Paired {
				seen[d.Address] = d
			}
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Final sweep picks up devices discovered before we subscribed.
	objs, err := g.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		d := deviceFromProps(path, props)
		if !d.Paired {
			seen[d.Address] = d
		}
	}

	devices := make([]Device, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}
	SortDevices(devices)
	return devices, nil
}
