package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mil-ad/blueteeth/internal/audio"
	"github.com/mil-ad/blueteeth/internal/bluez"
	"github.com/mil-ad/blueteeth/internal/orchestrate"
	"github.com/mil-ad/blueteeth/internal/resolve"
	"github.com/mil-ad/blueteeth/internal/store"
)

func queryArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// resolveTarget turns a query into exactly one paired device or a verb
// failure with the right exit code. Ambiguity is never guessed away:
// candidates are listed and the caller has to re-run with a narrower query.
// Only listing happens here; no mutating Bluetooth call is issued before a
// single target is settled.
func (a *app) resolveTarget(ctx context.Context, bt orchestrate.BluetoothGateway, query string) (bluez.Device, error) {
	prefs, err := a.store.Load()
	if errors.Is(err, store.ErrCorrupt) {
		// A broken preferences file should not block connecting; the last
		// device hint is simply lost until the user resets the file.
		a.log.Warn().Err(err).Msg("preferences unreadable, continuing without them")
	} else if err != nil {
		return bluez.Device{}, err
	}
	devices, err := bt.ListPaired(ctx)
	if err != nil {
		return bluez.Device{}, err
	}
	if len(devices) == 0 {
		return bluez.Device{}, exitf(exitNotFound, "no paired devices — pair your device first with `blueteeth pair`")
	}

	res := resolve.Resolve(query, devices, prefs.LastDevice)
	switch res.Resolution() {
	case resolve.Found:
		return *res.Match, nil
	case resolve.Ambiguous:
		a.renderCandidates(res.Candidates)
		if query == "" {
			return bluez.Device{}, exitf(exitAmbiguous, "several paired devices — name one")
		}
		return bluez.Device{}, exitf(exitAmbiguous, "%q matches more than one device", query)
	default:
		return bluez.Device{}, exitf(exitNotFound, "no paired device matches %q", query)
	}
}

// workflowExit converts an orchestration result into the process outcome.
func workflowExit(res orchestrate.Result) error {
	switch res.Status {
	case orchestrate.Success:
		return nil
	case orchestrate.Partial:
		return exitf(exitPartial, "")
	case orchestrate.Aborted:
		return exitf(exitFailure, "aborted")
	default:
		return exitf(exitFailure, "")
	}
}

func (a *app) connectCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "connect [query]",
		Short: "Connect a paired device and route audio to it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, au, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()
			dev, err := a.resolveTarget(ctx, bt, queryArg(args))
			if err != nil {
				return err
			}
			prefs, _ := a.store.Load()
			fmt.Printf("Connecting to %s (%s)...\n", dev.Name, dev.Address)
			res := a.orchestrator(bt, au, prefs.DefaultProfile).Connect(ctx, dev)
			a.renderResult(res)
			return workflowExit(res)
		},
	}
}

func (a *app) disconnectCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the currently connected device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, au, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()
			dev, err := connectedDevice(ctx, bt)
			if err != nil {
				return err
			}
			if dev == nil {
				fmt.Println("No device connected")
				return exitf(exitNotFound, "")
			}
			fmt.Printf("Disconnecting from %s...\n", dev.Name)
			res := a.orchestrator(bt, au, "").Disconnect(ctx, *dev)
			a.renderResult(res)
			return workflowExit(res)
		},
	}
}

func connectedDevice(ctx context.Context, bt orchestrate.BluetoothGateway) (*bluez.Device, error) {
	devices, err := bt.ListPaired(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Connected {
			return &devices[i], nil
		}
	}
	return nil, nil
}

func (a *app) statusCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and audio routing status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, au, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()
			dev, err := connectedDevice(ctx, bt)
			if err != nil {
				return err
			}
			prefs, _ := a.store.Load()

			var sink *audio.Sink
			if dev != nil {
				sink, _ = au.FindBluetoothSink(ctx, dev.Address)
			}
			return a.renderStatus(dev, sink, prefs.LastDevice)
		},
	}
}

func (a *app) listCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List paired devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, _, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()
			devices, err := bt.ListPaired(ctx)
			if err != nil {
				return err
			}
			return a.renderDevices(devices)
		},
	}
}

func (a *app) switchCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "switch [sinkId]",
		Short: "Set the default audio sink",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			au := audio.New(a.log)
			var id uint32
			if len(args) == 1 {
				n, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return exitf(exitNotFound, "sink id must be numeric, got %q", args[0])
				}
				id = uint32(n)
			} else {
				// No id given: a lone Bluetooth sink is unambiguous.
				sinks, err := au.ListSinks(ctx)
				if err != nil {
					return err
				}
				var btSinks []audio.Sink
				for _, s := range sinks {
					if s.Bluetooth {
						btSinks = append(btSinks, s)
					}
				}
				switch len(btSinks) {
				case 1:
					id = btSinks[0].ID
				case 0:
					a.renderSinks(sinks)
					return exitf(exitNotFound, "no Bluetooth sink present — pass a sink id")
				default:
					a.renderSinks(sinks)
					return exitf(exitAmbiguous, "several Bluetooth sinks — pass a sink id")
				}
			}
			res := orchestrate.New(nil, au, a.store, orchestrate.Options{}, a.log).Switch(ctx, id)
			a.renderResult(res)
			return workflowExit(res)
		},
	}
}

func (a *app) pairCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "pair [query]",
		Short: "Discover, pair, and connect a new device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, au, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()

			fmt.Printf("Scanning for %s...\n", a.scanWindow)
			discovered, err := bt.Scan(ctx, a.scanWindow)
			if err != nil {
				return err
			}
			if len(discovered) == 0 {
				return exitf(exitNotFound, "no new devices found — put the device in pairing mode and retry")
			}

			res := resolve.Resolve(queryArg(args), discovered, "")
			switch res.Resolution() {
			case resolve.Found:
			case resolve.Ambiguous:
				a.renderCandidates(res.Candidates)
				return exitf(exitAmbiguous, "several devices found — name one")
			default:
				a.renderCandidates(discovered)
				return exitf(exitNotFound, "no discovered device matches %q", queryArg(args))
			}
			dev := *res.Match

			prefs, _ := a.store.Load()
			fmt.Printf("Pairing with %s (%s)...\n", dev.Name, dev.Address)
			wres := a.orchestrator(bt, au, prefs.DefaultProfile).Pair(ctx, dev)
			a.renderResult(wres)
			return workflowExit(wres)
		},
	}
}

func (a *app) removeCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [query]",
		Short: "Remove a device's pairing and forget it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, _, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()
			dev, err := a.resolveTarget(ctx, bt, queryArg(args))
			if err != nil {
				return err
			}
			if err := bt.RemovePairing(ctx, dev.Address); err != nil {
				return err
			}
			if err := a.store.Forget(dev.Address); err != nil {
				a.log.Warn().Err(err).Msg("pairing removed but preferences not updated")
			}
			fmt.Printf("Removed %s (%s)\n", dev.Name, dev.Address)
			return nil
		},
	}
}

func (a *app) fixCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "Repair the audio connection for the usual device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bt, au, err := a.gateways()
			if err != nil {
				return err
			}
			defer bt.Close()
			dev, err := a.resolveTarget(ctx, bt, "")
			if err != nil {
				return err
			}
			prefs, _ := a.store.Load()
			fmt.Printf("Fixing audio for %s (%s)...\n", dev.Name, dev.Address)
			res := a.orchestrator(bt, au, prefs.DefaultProfile).Fix(ctx, dev)
			a.renderResult(res)
			return workflowExit(res)
		},
	}
}

func (a *app) diagnoseCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Report the health of the Bluetooth and audio stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			au := audio.New(a.log)
			var btGw orchestrate.BluetoothGateway
			bt, adapterErr := bluez.New(a.timeout, a.log)
			if adapterErr == nil {
				defer bt.Close()
				btGw = bt
			}
			o := orchestrate.New(btGw, au, a.store, orchestrate.Options{}, a.log)
			return a.renderDiagnosis(o.Diagnose(ctx, adapterErr))
		},
	}
}
