// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

// dmactl manages the persisted DMA qualification slot from outside
// the driver: show what a machine qualified for, force a re-probe on
// the next boot or pin the slot to the disabled tier.

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"packetdriver.org/dmasafe/coherency"
	"packetdriver.org/dmasafe/host"
	"packetdriver.org/dmasafe/opts"
	"packetdriver.org/dmasafe/probe"
)

const (
	// HelpText is the command line help.
	HelpText = "dmactl inspects and manages the persisted DMA qualification state"

	dateFormat = "02 Jan 06 15:04 UTC"
)

var goversion string

var (
	slotPath = kingpin.Flag("slot", "Path of the state slot file.").Default(opts.DefaultSlotPath).String()

	status = kingpin.Command("status", "Show the persisted qualification")

	invalidate = kingpin.Command("invalidate", "Empty the slot so the next boot runs a full probe")

	disable = kingpin.Command("disable", "Pin the slot to the disabled tier, keeping its hardware binding")
)

func main() {
	log.SetPrefix("dmactl: ")
	log.SetFlags(0)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(goversion)
	kingpin.CommandLine.Help = HelpText

	switch kingpin.Parse() {
	case status.FullCommand():
		if err := showStatus(*slotPath); err != nil {
			log.Fatal(err)
		}

	case invalidate.FullCommand():
		slot := &host.FileSlot{Path: *slotPath}
		if err := slot.Invalidate(); err != nil {
			log.Fatal(err)
		}
		fmt.Println("slot emptied, next boot will probe")

	case disable.FullCommand():
		if err := disableSlot(*slotPath); err != nil {
			log.Fatal(err)
		}
		fmt.Println("slot pinned to tier disabled")
	}
}

func showStatus(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Println("slot is empty, next boot will probe")

		return nil
	}
	if err != nil {
		return err
	}

	state, fingerprint, err := host.Inspect(data)
	if err != nil {
		return err
	}

	policy := probe.DefaultPolicy()

	fmt.Printf("slot:        %s\n", path)
	fmt.Printf("fingerprint: %08x\n", fingerprint)
	fmt.Printf("tier:        %s\n", state.Tier)
	fmt.Printf("score:       %d/%d (%s)\n",
		state.ConfidenceScore, probe.MaxTotal, policy.Level(state.ConfidenceScore))
	fmt.Printf("last test:   %s\n", state.LastTest.UTC().Format(dateFormat))
	fmt.Printf("rollbacks:   %d\n", state.RollbackCount)

	return nil
}

func disableSlot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	state, fingerprint, err := host.Inspect(data)
	if err != nil {
		return err
	}

	state.Tier = coherency.TierDisabled
	state.LastTest = time.Now().UTC()

	slot := &host.FileSlot{Path: path}

	return slot.Save(state, fingerprint)
}
