// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"flag"
	"os"

	"packetdriver.org/dmasafe/driver"
	"packetdriver.org/dmasafe/dslog"
	"packetdriver.org/dmasafe/host"
	"packetdriver.org/dmasafe/hwinfo"
	"packetdriver.org/dmasafe/nic"
	"packetdriver.org/dmasafe/opts"
	"packetdriver.org/dmasafe/probe"
)

const (
	logLevelHelp = "Log level: e 'errors' w 'warn', i 'info', d 'debug'."
	configHelp   = "Path to an options JSON file."
	modeHelp     = "Probe depth: 'quick', 'full' or 'auto'."
	reprobeHelp  = "Discard the persisted qualification and probe again."
	dryRunHelp   = "Run the capability probe and print its report, without patching or persisting."
	slotHelp     = "Path of the state slot file."
)

// flagLoader folds the command line over the option set. Applied
// after the config file so flags win.
type flagLoader struct {
	logLevel string
	mode     string
	slotPath string
	reprobe  bool
}

// Load implements opts.Loader.
func (f flagLoader) Load(o *opts.Opts) error {
	if f.logLevel != "" {
		o.LogLevel = f.logLevel
	}
	if f.slotPath != "" {
		o.SlotPath = f.slotPath
	}
	if f.reprobe {
		o.Reprobe = true
	}

	switch f.mode {
	case "", "auto":
	case "quick":
		o.Mode = probe.ModeQuick
	case "full":
		o.Mode = probe.ModeFull
	default:
		return opts.InvalidError("unknown probe mode " + f.mode)
	}

	return nil
}

func setLogLevel(level string) {
	switch level {
	case "e", "error":
		dslog.SetLevel(dslog.ErrorLevel)
	case "w", "warn":
		dslog.SetLevel(dslog.WarnLevel)
	case "i", "info":
		dslog.SetLevel(dslog.InfoLevel)
	case "d", "debug":
		dslog.SetLevel(dslog.DebugLevel)
	default:
		dslog.SetLevel(dslog.InfoLevel)
	}
}

// simPlatform is the platform this harness binary drives. Real
// deployments construct driver.Config with the production controller
// and the detected profile instead.
func simPlatform() (hwinfo.CpuProfile, hwinfo.ChipsetFacts, *nic.Sim) {
	cpu := hwinfo.CpuProfile{
		Family:        hwinfo.Family486,
		Cache:         hwinfo.CacheWholeFlush,
		CacheLineSize: 16,
	}
	chipset := hwinfo.ChipsetFacts{
		Bus:              hwinfo.BusISA,
		DmaAddressLimit:  0x00FFFFFF,
		SegmentWrapSize:  0x10000,
		BusMasterCapable: true,
	}
	sim := nic.NewSim(nic.SimConfig{CacheEnabled: true})

	return cpu, chipset, sim
}

func main() {
	logLevel := flag.String("loglevel", "info", logLevelHelp)
	configPath := flag.String("config", "", configHelp)
	mode := flag.String("mode", "auto", modeHelp)
	slotPath := flag.String("slot", "", slotHelp)
	reprobe := flag.Bool("reprobe", false, reprobeHelp)
	dryRun := flag.Bool("dryrun", false, dryRunHelp)

	flag.Parse()

	setLogLevel(*logLevel)

	flag.Visit(func(f *flag.Flag) {
		dslog.Debug("-%s %s", f.Name, f.Value)
	})

	loaders := []opts.Loader{}
	if *configPath != "" {
		loaders = append(loaders, opts.OptsFile{Path: *configPath})
	}
	loaders = append(loaders, flagLoader{
		logLevel: *logLevel,
		mode:     *mode,
		slotPath: *slotPath,
		reprobe:  *reprobe,
	})

	options, err := opts.NewOpts(loaders...)
	if err != nil {
		dslog.Error("options: %v", err)
		os.Exit(1)
	}

	if err := opts.DriverValidation().Validate(options); err != nil {
		dslog.Error("options: %v", err)
		os.Exit(1)
	}

	cpu, chipset, sim := simPlatform()

	if *dryRun {
		score, err := probe.Run(&cpu, &chipset, sim, options.Mode, options.Policy)
		if err != nil {
			dslog.Error("probe: %v", err)
			os.Exit(1)
		}

		os.Stdout.WriteString(score.Report())

		return
	}

	core, err := driver.New(driver.Config{
		Cpu:     cpu,
		Chipset: chipset,
		Target:  sim,
		Slot:    &host.FileSlot{Path: options.SlotPath},
		Opts:    options,
	})
	if err != nil {
		dslog.Error("driver: %v", err)
		os.Exit(1)
	}

	if err := core.Setup(); err != nil {
		dslog.Error("setup: %v", err)
		os.Exit(1)
	}

	status, err := json.MarshalIndent(core.Query(), "", "  ")
	if err != nil {
		dslog.Error("status: %v", err)
		os.Exit(1)
	}

	os.Stdout.Write(append(status, '\n'))
}
