// blueteeth connects Bluetooth audio devices and routes audio to them on
// hosts without a desktop session to do it for you.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mil-ad/blueteeth/internal/audio"
	"github.com/mil-ad/blueteeth/internal/bluez"
	"github.com/mil-ad/blueteeth/internal/orchestrate"
	"github.com/mil-ad/blueteeth/internal/store"
)

// Exit codes, so scripts can tell failure modes apart.
const (
	exitOK          = 0
	exitFailure     = 1
	exitNotFound    = 2
	exitAmbiguous   = 3
	exitUnavailable = 4
	exitPartial     = 5
)

// exitError carries a specific exit code up through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitf(code int, format string, args ...interface{}) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

// app holds the flag values and lazily built collaborators shared by all
// verbs.
type app struct {
	verbose    bool
	jsonOut    bool
	configPath string
	timeout    time.Duration
	scanWindow time.Duration

	log   zerolog.Logger
	store *store.Store
}

func (a *app) init(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	if a.configPath == "" {
		a.configPath = store.DefaultPath()
	}
	a.store = store.New(a.configPath, a.log)
	return nil
}

// gateways builds the two external-surface gateways. The Bluetooth gateway
// is the one that can legitimately be absent (service not running).
func (a *app) gateways() (*bluez.Gateway, *audio.Gateway, error) {
	bt, err := bluez.New(a.timeout, a.log)
	if err != nil {
		return nil, nil, err
	}
	return bt, audio.New(a.log), nil
}

func (a *app) orchestrator(bt orchestrate.BluetoothGateway, au orchestrate.AudioGateway, profile string) *orchestrate.Orchestrator {
	return orchestrate.New(bt, au, a.store, orchestrate.Options{Profile: profile}, a.log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := &cobra.Command{
		Use:               "blueteeth",
		Short:             "Bluetooth audio device manager",
		Long:              "blueteeth connects Bluetooth audio devices, keeps them trusted,\nand routes the default audio output to them.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "machine-readable output")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "preferences file (default "+store.DefaultPath()+")")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 5*time.Second, "per-call Bluetooth operation timeout")
	root.PersistentFlags().DurationVar(&a.scanWindow, "scan-window", bluez.DefaultScanWindow, "discovery window for pair")

	root.AddCommand(
		a.connectCmd(ctx),
		a.disconnectCmd(ctx),
		a.statusCmd(ctx),
		a.listCmd(ctx),
		a.switchCmd(ctx),
		a.pairCmd(ctx),
		a.removeCmd(ctx),
		a.fixCmd(ctx),
		a.diagnoseCmd(ctx),
	)

	if err := root.Execute(); err != nil {
		var xe *exitError
		if errors.As(err, &xe) {
			if xe.msg != "" {
				fmt.Fprintln(os.Stderr, xe.msg)
			}
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the process exit code: explicit exitError
// codes first, then the dedicated code for unreachable external services.
func exitCodeFor(err error) int {
	var xe *exitError
	if errors.As(err, &xe) {
		return xe.code
	}
	if errors.Is(err, bluez.ErrAdapterUnavailable) || errors.Is(err, audio.ErrServiceUnavailable) {
		return exitUnavailable
	}
	return exitFailure
}
