package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/setanarut/traitmerge"
	"github.com/setanarut/traitmerge/internal/checkpoint"
	"github.com/setanarut/traitmerge/internal/config"
	"github.com/setanarut/traitmerge/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "traitmerge",
		Short: "Layer trait images into every combination, with metadata",
		Long: `traitmerge scans a folder of trait categories (one sub-folder per layer,
PNG files inside), builds every combination taking one file per category and
writes merged_image_<i>.png plus metadata_merged_image_<i>.json for each.

Categories are layered in folder name order, the first one at the bottom.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			lc := cfg.Logging
			if verbose {
				lc.Level = "debug"
			}
			logger, err = logging.New(lc)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRunCmd(), newScanCmd(), newRarityCmd())
	return root
}

type runFlags struct {
	batchSize int
	sample    int
	test      bool
	out       string
	workers   int
	backend   string
	resume    bool
	stateFile string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [root]",
		Short: "Merge every combination under root",
		Long: `Processes combinations batch by batch. The cursor is checkpointed after
every batch; an interrupted run continues with --resume. SIGINT/SIGTERM stop
the run once the current batch has finished.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMerge(ctx, cmd, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.batchSize, "batch-size", 0, "combinations per batch (default from config, 8500)")
	fl.IntVar(&f.sample, "sample", 0, "cap the number of combinations")
	fl.BoolVar(&f.test, "test", false, fmt.Sprintf("only merge the first %d combinations", config.TestSampleSize))
	fl.StringVarP(&f.out, "out", "o", "", "output directory (default: root)")
	fl.IntVar(&f.workers, "workers", 0, "combinations composited concurrently")
	fl.StringVar(&f.backend, "backend", "", "compositing backend: draw or gg")
	fl.BoolVar(&f.resume, "resume", false, "continue from the saved checkpoint")
	fl.StringVar(&f.stateFile, "state", "", "checkpoint file (default: <out>/"+checkpoint.FileName+")")
	return cmd
}

// applyRunFlags overrides config values with the flags the user set.
func applyRunFlags(cmd *cobra.Command, f runFlags) error {
	fl := cmd.Flags()
	if fl.Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if fl.Changed("sample") {
		cfg.SampleSize = f.sample
	}
	if f.test {
		cfg.SampleSize = config.TestSampleSize
	}
	if fl.Changed("out") {
		cfg.OutputDir = f.out
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("backend") {
		cfg.Backend = f.backend
	}
	if fl.Changed("state") {
		cfg.StateFile = f.stateFile
	}
	return cfg.Validate()
}

func scanRoot(root string, opt traitmerge.Options) *traitmerge.Generator {
	cats := traitmerge.Scan(root, opt)
	seq := traitmerge.NewGenerator(cats).Limit(opt.SampleSize)
	files := 0
	for _, c := range cats {
		files += len(c.Files)
	}
	logger.Info("scan complete",
		zap.String("root", root),
		zap.Int("categories", len(cats)),
		zap.Int("files", files),
		zap.Int("combinations", seq.Total()),
		zap.Int("selected", seq.Len()))
	return seq
}

func runMerge(ctx context.Context, cmd *cobra.Command, root string, f runFlags) error {
	if err := applyRunFlags(cmd, f); err != nil {
		return err
	}
	opt, err := cfg.Options(root)
	if err != nil {
		return err
	}
	opt.Logger = logger
	seq := scanRoot(root, opt)

	statePath := cfg.StateFile
	if statePath == "" {
		statePath = filepath.Join(opt.OutputDir, checkpoint.FileName)
	}
	store, err := checkpoint.NewStore(statePath)
	if err != nil {
		return err
	}

	state := checkpoint.NewState(root, opt.OutputDir, seq)
	if f.resume {
		saved, err := store.Load()
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("no checkpoint found, starting from the beginning", zap.String("state", statePath))
		case err != nil:
			return err
		default:
			if err := saved.Matches(seq); err != nil {
				return fmt.Errorf("cannot resume from %s: %w", statePath, err)
			}
			state = saved
			logger.Info("resuming", zap.String("run_id", state.RunID), zap.Int("cursor", state.Cursor))
		}
	}

	proc, err := traitmerge.NewProcessor(seq, opt, state.Cursor)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	sum, err := proc.RunAll(ctx, func(res traitmerge.BatchResult) error {
		state.Cursor = res.Cursor
		fmt.Fprintf(out, "%d/%d (%.1f%%)\n", res.Cursor, res.Total, res.Progress().Fraction()*100)
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %v\n", w)
		}
		return store.Save(state)
	})
	if errors.Is(err, context.Canceled) {
		fmt.Fprintf(out, "stopped at %d/%d, continue with --resume\n", sum.Cursor, sum.Total)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "done: %d written, %d skipped, %d batches\n", sum.Written, len(sum.Skipped), sum.Batches)
	return nil
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [root]",
		Short: "List trait categories and the number of combinations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opt, err := cfg.Options(args[0])
			if err != nil {
				return err
			}
			opt.Logger = logger
			seq := scanRoot(args[0], opt)
			out := cmd.OutOrStdout()
			for i, c := range seq.Categories() {
				fmt.Fprintf(out, "%d\t%s\t%d files\n", i, c.Name, len(c.Files))
			}
			fmt.Fprintf(out, "combinations: %d\n", seq.Total())
			return nil
		},
	}
}

func newRarityCmd() *cobra.Command {
	var (
		sample int
		write  bool
	)
	cmd := &cobra.Command{
		Use:   "rarity [root]",
		Short: "Report trait frequencies and rarity scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("sample") {
				cfg.SampleSize = sample
			}
			opt, err := cfg.Options(args[0])
			if err != nil {
				return err
			}
			opt.Logger = logger
			seq := scanRoot(args[0], opt)
			rep := traitmerge.Rarity(seq, seq.Len())

			var w io.Writer = cmd.OutOrStdout()
			if write {
				path := filepath.Join(opt.OutputDir, "rarity.json")
				file, err := os.Create(path)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
				logger.Info("writing rarity report", zap.String("path", path))
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().IntVar(&sample, "sample", 0, "only count the first N combinations")
	cmd.Flags().BoolVar(&write, "write", false, "write rarity.json to the output directory")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
