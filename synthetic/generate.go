package synthetic

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"charterbooks/reconciler/config"
)

// RunGenerate generates a correlated fixture set for testing.
func RunGenerate(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config) error {
	genFlagSet := flag.NewFlagSet("generate-synthetic-data", flag.ExitOnError)
	rows := genFlagSet.Int("rows", cfg.SyntheticDataRows, "Number of payment rows to generate")
	dir := genFlagSet.String("dir", cfg.SyntheticDataDir, "Directory to write fixture files to")
	seed := genFlagSet.Int64("seed", time.Now().UnixNano(), "Random seed, fixed for reproducible fixtures")
	if err := genFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	opts := DefaultOptions()
	opts.Rows = *rows
	opts.Dir = *dir
	opts.Seed = *seed

	logger.InfoContext(ctx, "Generating synthetic fixtures", "rows", opts.Rows, "dir", opts.Dir, "seed", opts.Seed)
	if err := Generate(opts); err != nil {
		return fmt.Errorf("failed to generate synthetic data: %w", err)
	}
	logger.InfoContext(ctx, "Synthetic fixtures generated successfully")
	return nil
}
