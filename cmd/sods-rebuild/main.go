// SODS Rebuild - deterministic identity registry rebuild tool.
//
// It replays recorded BLE observation logs through the same resolution
// pipeline the live service runs, rebuilding the identity registry from
// scratch. Because the replay is single-threaded and event-time ordered,
// the same input always produces the same registry, which makes the tool
// suitable for tuning scoring rules and auditing resolution behaviour.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/strangelab/sods-identity-core/migrations"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/config"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/database"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/registry"
	"github.com/strangelab/sods-identity-core/internal/resolve"
)

// Version set at build time via ldflags.
var version = "dev"

// rebuildOptions holds the command-line flags.
type rebuildOptions struct {
	dbPath     string
	eventsRoot string
	input      string
	hours      int
	windowMS   int64
	maskRules  string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rebuildOptions{}

	cmd := &cobra.Command{
		Use:     "sods-rebuild",
		Short:   "Rebuild the BLE identity registry from observation logs",
		Version: version,
		Long: `sods-rebuild replays recorded BLE observation logs through the
identity resolution pipeline and rebuilds the registry from scratch.

The replay is deterministic: observations are sorted into event-time
order and resolved single-threaded, so the same input always produces
the same registry. Existing registry contents are removed first.

Input is either a single newline-delimited JSON file (--input) or a
directory tree of .jsonl/.ndjson/.log files (--events-root).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", "data/sods-identity.db", "registry database path")
	cmd.Flags().StringVar(&opts.eventsRoot, "events-root", "", "directory tree of observation logs")
	cmd.Flags().StringVar(&opts.input, "input", "", "single observation log file (overrides --events-root)")
	cmd.Flags().IntVar(&opts.hours, "hours", 0, "restrict the replay to the most recent N hours of input")
	cmd.Flags().Int64Var(&opts.windowMS, "merge-window-ms", 0, "multi-scanner correlation window (0 = default)")
	cmd.Flags().StringVar(&opts.maskRules, "mask-rules", "", "optional vendor mask rules file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log per-decision detail")

	return cmd
}

func runRebuild(cmd *cobra.Command, opts *rebuildOptions) error {
	ctx := cmd.Context()

	logCfg := config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}
	if opts.verbose {
		logCfg.Level = "debug"
	}
	log := logging.New(logCfg, version)

	db, err := database.Open(database.Config{Path: opts.dbPath, WALMode: true, BusyTimeout: 5000})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store := registry.NewStore(db)

	// From-scratch rebuild: clear devices, fingerprints, and aliases.
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("clearing registry: %w", err)
	}

	masker, err := loadMasker(opts.maskRules)
	if err != nil {
		return fmt.Errorf("loading mask rules: %w", err)
	}

	result, err := resolve.Replay(ctx, store, masker, resolve.ReplayOptions{
		InputPath:     opts.input,
		EventsRoot:    opts.eventsRoot,
		Hours:         opts.hours,
		MergeWindowMS: opts.windowMS,
		Verbose:       opts.verbose,
	}, log)
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), result)
	return nil
}

// loadMasker builds the vendor mask table.
func loadMasker(rulesFile string) (fingerprint.Masker, error) {
	if rulesFile == "" {
		return fingerprint.NewTable(), nil
	}
	return fingerprint.LoadTable(rulesFile)
}

// printResult writes the rebuild summary and weak-source report.
func printResult(w io.Writer, result *resolve.ReplayResult) {
	s := result.Summary

	fmt.Fprintf(w, "Rebuild complete\n")
	fmt.Fprintf(w, "  lines read:            %d\n", result.Lines)
	fmt.Fprintf(w, "  observations accepted: %d\n", s.Observations)
	fmt.Fprintf(w, "  malformed dropped:     %d\n", s.DroppedMalformed)
	fmt.Fprintf(w, "  unfingerprintable:     %d\n", s.DroppedNoFingerprint)
	fmt.Fprintf(w, "  clusters resolved:     %d\n", s.Processed)
	fmt.Fprintf(w, "  devices created:       %d\n", s.Created)
	fmt.Fprintf(w, "  observations merged:   %d\n", s.Merged)
	fmt.Fprintf(w, "  held as candidates:    %d\n", s.Candidates)
	fmt.Fprintf(w, "  candidates promoted:   %d\n", s.Promoted)
	fmt.Fprintf(w, "  ambiguous held back:   %d\n", s.Ambiguous)
	fmt.Fprintf(w, "  store failures:        %d\n", s.StoreFailures)
	fmt.Fprintf(w, "  registry devices:      %d\n", result.Devices)

	if len(result.WeakSources) > 0 {
		fmt.Fprintf(w, "\nAddress-only sources (no stable fingerprint material):\n")
		for _, src := range result.WeakSources {
			fmt.Fprintf(w, "  %-20s %d observations\n", src.Addr, src.Count)
		}
	}
}
