package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/sim/replay"
)

func main() {
	var (
		dataDir     = flag.String("data", "./data", "runtime data directory")
		worldID     = flag.String("world", "world_1", "world id")
		configDir   = flag.String("configs", "./configs", "config directory")
		snapPath    = flag.String("snapshot", "", "start from this snapshot instead of genesis")
		toTick      = flag.Uint64("to", 0, "verify up to this tick (0 = last stored checkpoint)")
		verifyChain = flag.Bool("verify_chain", true, "verify the input event hash chain before replaying")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := eventlog.Open(filepath.Join(*dataDir, "worlds", *worldID, "events.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open event log:", err)
		os.Exit(1)
	}
	defer store.Close()

	if *verifyChain {
		chain, err := store.VerifyChain(1, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify chain:", err)
			os.Exit(1)
		}
		if !chain.OK {
			fmt.Fprintf(os.Stderr, "event chain broken at seq %d: %s\n", chain.FirstDivergence, chain.Reason)
			os.Exit(1)
		}
		fmt.Printf("chain ok: checked=%d events\n", chain.Checked)
	}

	var h *replay.Harness
	if *snapPath != "" {
		h, err = replay.FromSnapshot(store, *worldID, *snapPath, logger)
	} else {
		tune, terr := config.LoadTuning(filepath.Join(*configDir, "tuning.yaml"))
		if terr != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", terr)
			os.Exit(1)
		}
		laws, lerr := config.LoadLaws(filepath.Join(*configDir, "laws.yaml"))
		if lerr != nil {
			fmt.Fprintln(os.Stderr, "load laws:", lerr)
			os.Exit(1)
		}
		h, err = replay.FromGenesis(store, *worldID, tune, laws, logger)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}

	rep, err := h.Verify(*toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Print(rep.String())
	if !rep.OK {
		os.Exit(1)
	}
}
