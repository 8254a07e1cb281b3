// Command bciserver runs the networked BCI acquisition/classification
// server: a TCP control-protocol endpoint plus an optional read-only
// WebSocket monitor. Flag layout follows the teacher's main.go (plain
// flag.String/Int/Bool, a custom flag.Value for repeatable flags), and the
// flags themselves mirror engine.py's argparse surface
// (-p/--network-port, -l/--log, repeatable -v for verbosity).
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kuleuven-neuro/bciserver/pkg/classifier"
	"github.com/kuleuven-neuro/bciserver/pkg/device"
	"github.com/kuleuven-neuro/bciserver/pkg/engine"
)

// verbosity counts repeated -v flags, mirroring the original's custom
// VAction argparse action.
type verbosity int

func (v *verbosity) String() string { return fmt.Sprintf("%d", *v) }

func (v *verbosity) Set(string) error {
	*v++
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

func main() {
	port := flag.Int("p", 9000, "network port to listen on")
	logPath := flag.String("l", "", "log file path (default: stderr)")
	monitorPort := flag.Int("monitor-port", 0, "port for the read-only WebSocket monitor (0 disables it)")

	var verbose verbosity
	flag.Var(&verbose, "v", "increase log verbosity (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	out := io.Writer(os.Stderr)
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("bciserver: open log file: %v", err)
		}
		defer f.Close()
		out = f
	}

	flags := log.LstdFlags
	if verbose > 0 {
		flags |= log.Lshortfile
	}
	logger := log.New(out, "[bciserver] ", flags)

	devices := buildDeviceRegistry()
	classifiers := buildClassifierRegistry()

	for name, err := range devices.Errors() {
		logger.Printf("device %q unavailable on this platform: %v", name, err)
	}

	eng := engine.New(devices, classifiers, logger)

	if *monitorPort > 0 {
		eng.EnableMonitor()
		go func() {
			addr := fmt.Sprintf(":%d", *monitorPort)
			if err := eng.ServeMonitor(addr); err != nil {
				logger.Printf("monitor server stopped: %v", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := eng.Run(addr); err != nil {
		logger.Fatalf("bciserver: %v", err)
	}
}

func buildDeviceRegistry() *device.Registry {
	reg := device.NewRegistry()
	reg.Register("emulator", func() (device.Driver, error) {
		return device.NewEmulator(), nil
	})
	device.RegisterBiosemiLike(reg)
	return reg
}

func buildClassifierRegistry() *classifier.Registry {
	reg := classifier.NewRegistry()
	reg.Register("amplitude-threshold", classifier.NewAmplitudeThreshold)
	return reg
}
