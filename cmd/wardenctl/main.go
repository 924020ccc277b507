// wardenctl is the operator's offline toolbox: chain verification, audit
// inspection, snapshot introspection, and out-of-band event injection. It
// opens the event log directly and must not run against a live server.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/persistence/snapshot"
	"gridwarden.ai/internal/protocol"
)

var (
	dataDir string
	worldID string
)

func main() {
	root := &cobra.Command{
		Use:           "wardenctl",
		Short:         "inspect and verify a world's recorded history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	root.PersistentFlags().StringVar(&worldID, "world", "world_1", "world id")

	root.AddCommand(verifyCmd(), checkpointsCmd(), drawsCmd(), snapshotCmd(), injectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wardenctl:", err)
		os.Exit(1)
	}
}

func openStore() (*eventlog.Store, error) {
	return eventlog.Open(filepath.Join(dataDir, "worlds", worldID, "events.db"))
}

func verifyCmd() *cobra.Command {
	var fromSeq, toSeq uint64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "recompute the input event hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := store.VerifyChain(fromSeq, toSeq)
			if err != nil {
				return err
			}
			if !rep.OK {
				fmt.Printf("chain broken at seq %d: %s\n", rep.FirstDivergence, rep.Reason)
				os.Exit(1)
			}
			fmt.Printf("chain ok: checked=%d events, tip=%s\n", rep.Checked, store.TipHash())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromSeq, "from", 1, "first sequence number to verify")
	cmd.Flags().Uint64Var(&toSeq, "to", 0, "last sequence number to verify (0 = end of log)")
	return cmd
}

func checkpointsCmd() *cobra.Command {
	var fromTick, toTick uint64
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "list per-tick world hash checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cps, err := store.Checkpoints(fromTick, toTick)
			if err != nil {
				return err
			}
			for _, cp := range cps {
				fmt.Printf("%d\t%s\t%s\n", cp.Tick, cp.WorldHash, cp.PrevWorldHash)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromTick, "from", 0, "first tick")
	cmd.Flags().Uint64Var(&toTick, "to", 0, "last tick (0 = end)")
	return cmd
}

func drawsCmd() *cobra.Command {
	var fromTick, toTick uint64
	cmd := &cobra.Command{
		Use:   "draws",
		Short: "dump the RNG audit for a tick range",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Draws(fromTick, toTick)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, r := range recs {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromTick, "from", 0, "first tick")
	cmd.Flags().Uint64Var(&toTick, "to", 0, "last tick (0 = end)")
	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <path>",
		Short: "print a snapshot's header and counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("snapshot v%d world=%s tick=%d seed=%d policy_version=%d\n",
				snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Seed, snap.PolicyVersion)
			fmt.Printf("world_hash=%s\n", snap.WorldHash)
			fmt.Printf("agents=%d entities=%d laws=%d rng_streams=%d terrain_r=%d\n",
				len(snap.Agents), len(snap.Entities), len(snap.Laws), len(snap.Rng), snap.TerrainR)
			return nil
		},
	}
	return cmd
}

func injectCmd() *cobra.Command {
	var (
		source  uint64
		tick    uint64
		rawJSON string
	)
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "append one event to the log (server must be stopped)",
		Long: "Appends a single event to the hash chain, exactly as a live submission\n" +
			"would. The next server start replays it; there is no way to slip an\n" +
			"event past the pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload protocol.Payload
			if err := json.Unmarshal([]byte(rawJSON), &payload); err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if tick == 0 {
				maxTick, ok, err := store.MaxTick()
				if err != nil {
					return err
				}
				if ok {
					tick = maxTick + 1
				}
			}
			se, err := store.Append(tick, source, payload)
			if err != nil {
				return err
			}
			fmt.Printf("appended seq=%d tick=%d hash=%s\n", se.Seq, se.Event.Tick, se.Event.Hash)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&source, "source", 0, "submitter id")
	cmd.Flags().Uint64Var(&tick, "tick", 0, "target tick (0 = after the last event's tick)")
	cmd.Flags().StringVar(&rawJSON, "payload", "", "payload JSON")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}
