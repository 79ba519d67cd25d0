// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/balance"
	"charterbooks/reconciler/config"
	"charterbooks/reconciler/credit"
	"charterbooks/reconciler/datalake"
	"charterbooks/reconciler/dedupe"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/match"
	"charterbooks/reconciler/money"
	"charterbooks/reconciler/score"
	"charterbooks/reconciler/statement"
	"charterbooks/reconciler/synthetic"
)

const minArgs = 2

func main() {
	// Create the logger instance at the very beginning.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if len(os.Args) < minArgs {
		logger.Error("Usage: reconciler <command> [options]")
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if err := run(logger, command, args); err != nil {
		logger.Error("Application terminated with an error", "error", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, command string, args []string) error {
	logger.Info("Begin reconciliation run", "command", command)

	cfg := config.LoadConfig(
		appcontext.WithLogger(context.Background(), logger),
		logger,
	)
	ctx, cancel := context.WithTimeout(
		appcontext.WithLogger(context.Background(), logger),
		cfg.Timeout,
	)
	defer cancel()

	runID := uuid.NewString()

	switch command {
	case "generate-synthetic-data":
		return synthetic.RunGenerate(ctx, logger, args, cfg)
	case "import":
		return runImport(ctx, logger, args, cfg)
	case "import-payments":
		return runImportPayments(ctx, logger, args, cfg)
	case "import-charges":
		return runImportCharges(ctx, logger, args, cfg)
	case "match":
		return runMatch(ctx, logger, args, cfg, runID)
	case "verify-balances":
		return runBalances(ctx, logger, args, cfg, runID, balance.Verify)
	case "repair-balances":
		return runBalances(ctx, logger, args, cfg, runID, balance.Repair)
	case "dedupe":
		return runDedupe(ctx, logger, args, cfg, runID)
	case "create-credit":
		return runCreateCredit(ctx, logger, args, cfg, runID)
	case "apply-credit":
		return runApplyCredit(ctx, args, cfg, runID)
	case "write-off":
		return runWriteOff(ctx, args, cfg, runID)
	case "reject":
		return runReject(ctx, logger, args, cfg)
	case "report":
		return runReport(ctx, logger, cfg)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runImport(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config) error {
	importFlagSet := flag.NewFlagSet("import", flag.ExitOnError)
	dir := importFlagSet.String("dir", cfg.UnprocessedDir, "Directory holding unprocessed statement files")
	if err := importFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if _, err := os.Stat(*dir); err != nil {
		logger.ErrorContext(
			ctx,
			"The directory does not exist. Please create it and place your CSV files inside.",
			"dir", *dir,
			"error", err,
		)
		return fmt.Errorf("stat check for directory %s: %w", *dir, err)
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	importer := &statement.Importer{
		Store:              store,
		Parser:             statement.NewCSVParser(),
		Extractor:          statement.NewFilenameExtractor(),
		MoveProcessedFiles: cfg.MoveProcessedFiles,
		ProcessedDir:       cfg.ProcessedDir,
	}

	if cfg.ArchiveEnabled {
		client, connErr := datalake.Connect(ctx, cfg.MongoURI)
		if connErr != nil {
			return fmt.Errorf("connection to MongoDB failed: %w", connErr)
		}
		defer func() {
			if deferErr := client.Disconnect(ctx); deferErr != nil {
				logger.ErrorContext(ctx, "Error disconnecting from MongoDB", "error", deferErr)
			}
		}()
		importer.Archive = datalake.NewMongoArchive(datalake.NewMongoProvider(client))
	}

	run, err := importer.ImportDir(ctx, *dir)
	if err != nil {
		return fmt.Errorf("statement import failed: %w", err)
	}

	logger.InfoContext(ctx, "Statement import completed successfully.")
	run.Log(logger)
	return nil
}

func runImportPayments(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config) error {
	payFlagSet := flag.NewFlagSet("import-payments", flag.ExitOnError)
	file := payFlagSet.String("file", "", "Booking-system payments export to import")
	if err := payFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *file == "" {
		return fmt.Errorf("the -file flag is required")
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	run, err := statement.ImportPayments(ctx, store, *file)
	if err != nil {
		return fmt.Errorf("payment import failed: %w", err)
	}

	logger.InfoContext(ctx, "Payment import completed successfully.")
	run.Log(logger)
	return nil
}

func runImportCharges(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config) error {
	chargeFlagSet := flag.NewFlagSet("import-charges", flag.ExitOnError)
	file := chargeFlagSet.String("file", "", "Booking-system charges export to import")
	if err := chargeFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *file == "" {
		return fmt.Errorf("the -file flag is required")
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	run, err := statement.ImportCharges(ctx, store, *file)
	if err != nil {
		return fmt.Errorf("charge import failed: %w", err)
	}

	logger.InfoContext(ctx, "Charge import completed successfully.")
	run.Log(logger)
	return nil
}

func runMatch(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config, runID string) error {
	matchFlagSet := flag.NewFlagSet("match", flag.ExitOnError)
	from := matchFlagSet.String("from", "", "Start of the scan range (YYYY-MM-DD)")
	to := matchFlagSet.String("to", "", "End of the scan range (YYYY-MM-DD)")
	dryRun := matchFlagSet.Bool("dry-run", false, "Propose matches without writing anything")
	applyMedium := matchFlagSet.Bool("apply-medium", cfg.ApplyMedium, "Auto-apply medium-confidence matches")
	limit := matchFlagSet.Int("limit", cfg.ApplyLimit, "Maximum matches to apply, 0 for unlimited")
	if err := matchFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	rng, err := parseRange(*from, *to)
	if err != nil {
		return err
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	matchCfg := match.DefaultConfig()
	matchCfg.Weights = score.DefaultWeights()
	matchCfg.DryRun = *dryRun
	matchCfg.ApplyMedium = *applyMedium
	matchCfg.Limit = *limit
	matchCfg.ChunkDays = cfg.ChunkDays
	matchCfg.Workers = cfg.Workers
	matchCfg.Actor = cfg.Actor
	matchCfg.RunID = runID

	engine := match.New(store, matchCfg)
	result, err := engine.Run(ctx, rng)
	if err != nil {
		return fmt.Errorf("match run failed: %w", err)
	}

	logger.InfoContext(ctx, "Match run completed.", "dryRun", *dryRun, "proposals", len(result.Proposals))
	result.Report.Log(logger)
	return nil
}

func runBalances(
	ctx context.Context,
	logger *slog.Logger,
	args []string,
	cfg *config.Config,
	runID string,
	mode balance.Mode,
) error {
	balFlagSet := flag.NewFlagSet(string(mode), flag.ExitOnError)
	account := balFlagSet.String("account", "", "Account to reconstruct")
	openingStr := balFlagSet.String("opening", "0.00", "Opening balance of the range")
	closingStr := balFlagSet.String("closing", "", "Expected closing balance, blank to skip the check")
	if err := balFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *account == "" {
		return fmt.Errorf("the -account flag is required")
	}

	opening, err := money.Parse(*openingStr)
	if err != nil {
		return fmt.Errorf("invalid opening balance: %w", err)
	}
	var closing *money.Money
	if *closingStr != "" {
		parsed, parseErr := money.Parse(*closingStr)
		if parseErr != nil {
			return fmt.Errorf("invalid closing balance: %w", parseErr)
		}
		closing = &parsed
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	result, err := balance.New(store, cfg.Actor, runID).Run(ctx, *account, opening, closing, mode)
	if result != nil {
		result.Report.Log(logger)
	}
	if err != nil {
		return fmt.Errorf("balance reconstruction failed: %w", err)
	}

	logger.InfoContext(ctx, "Balance reconstruction completed.",
		"account", *account,
		"final", result.Final.String(),
		"discrepancies", len(result.Discrepancies),
	)
	return nil
}

func runDedupe(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config, runID string) error {
	dedupeFlagSet := flag.NewFlagSet("dedupe", flag.ExitOnError)
	kind := dedupeFlagSet.String("kind", "payments", "What to scan: payments or transactions")
	account := dedupeFlagSet.String("account", "", "Account to scan (transactions only)")
	from := dedupeFlagSet.String("from", "", "Start of the scan range (YYYY-MM-DD)")
	to := dedupeFlagSet.String("to", "", "End of the scan range (YYYY-MM-DD)")
	apply := dedupeFlagSet.Bool("apply", false, "Delete exact duplicates instead of only reporting them")
	deleteOrphans := dedupeFlagSet.Bool("delete-orphans", false, "Also delete payments with no reservation")
	if err := dedupeFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	rng, err := parseRange(*from, *to)
	if err != nil {
		return err
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	d := dedupe.New(store, *apply, *deleteOrphans, cfg.Actor, runID)

	var result *dedupe.Result
	switch *kind {
	case "payments":
		result, err = d.RunPayments(ctx, rng)
	case "transactions":
		if *account == "" {
			return fmt.Errorf("the -account flag is required for transaction dedupe")
		}
		result, err = d.RunTransactions(ctx, *account, rng)
	default:
		return fmt.Errorf("unknown dedupe kind: %s", *kind)
	}
	if err != nil {
		return fmt.Errorf("dedupe run failed: %w", err)
	}

	logger.InfoContext(ctx, "Dedupe run completed.", "kind", *kind, "groups", len(result.Groups), "apply", *apply)
	result.Report.Log(logger)
	return nil
}

func runCreateCredit(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config, runID string) error {
	creditFlagSet := flag.NewFlagSet("create-credit", flag.ExitOnError)
	source := creditFlagSet.String("source", "", "Reference to the event the credit compensates")
	amountStr := creditFlagSet.String("amount", "", "Credit amount, e.g. 150.00")
	reason := creditFlagSet.String("reason", "", "Reason code, e.g. cancelled-deposit")
	if err := creditFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *source == "" || *amountStr == "" || *reason == "" {
		return fmt.Errorf("the -source, -amount and -reason flags are required")
	}

	amount, err := money.Parse(*amountStr)
	if err != nil {
		return fmt.Errorf("invalid credit amount: %w", err)
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	id, created, err := credit.New(store, cfg.Actor, runID).CreateCredit(ctx, *source, amount, *reason)
	if err != nil {
		return fmt.Errorf("credit creation failed: %w", err)
	}

	logger.InfoContext(ctx, "Credit entry ready.", "id", id, "created", created)
	return nil
}

func runApplyCredit(ctx context.Context, args []string, cfg *config.Config, runID string) error {
	applyFlagSet := flag.NewFlagSet("apply-credit", flag.ExitOnError)
	entry := applyFlagSet.String("entry", "", "Credit entry ID")
	reservation := applyFlagSet.String("reservation", "", "Reservation to apply the credit to")
	amountStr := applyFlagSet.String("amount", "", "Amount to apply, e.g. 150.00")
	if err := applyFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *entry == "" || *reservation == "" || *amountStr == "" {
		return fmt.Errorf("the -entry, -reservation and -amount flags are required")
	}

	amount, err := money.Parse(*amountStr)
	if err != nil {
		return fmt.Errorf("invalid credit amount: %w", err)
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	if err = credit.New(store, cfg.Actor, runID).ApplyCredit(ctx, *entry, *reservation, amount); err != nil {
		return fmt.Errorf("credit application failed: %w", err)
	}
	return nil
}

func runWriteOff(ctx context.Context, args []string, cfg *config.Config, runID string) error {
	writeOffFlagSet := flag.NewFlagSet("write-off", flag.ExitOnError)
	reservation := writeOffFlagSet.String("reservation", "", "Reservation to write off")
	if err := writeOffFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *reservation == "" {
		return fmt.Errorf("the -reservation flag is required")
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	if err = credit.New(store, cfg.Actor, runID).WriteOff(ctx, *reservation, time.Now().UTC()); err != nil {
		return fmt.Errorf("write-off failed: %w", err)
	}
	return nil
}

func runReject(ctx context.Context, logger *slog.Logger, args []string, cfg *config.Config) error {
	rejectFlagSet := flag.NewFlagSet("reject", flag.ExitOnError)
	kind := rejectFlagSet.String("kind", "payment", "Record kind: payment, charge or transaction")
	id := rejectFlagSet.Int64("id", 0, "Record id to reject")
	if err := rejectFlagSet.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *id == 0 {
		return fmt.Errorf("the -id flag is required")
	}

	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	if err = store.MarkRejected(ctx, *kind, *id); err != nil {
		return fmt.Errorf("reject failed: %w", err)
	}

	logger.InfoContext(ctx, "Proposed match rejected.", "kind", *kind, "id", *id)
	return nil
}

func runReport(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	store, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	counts, err := store.PaymentStatusCounts(ctx)
	if err != nil {
		return fmt.Errorf("status report failed: %w", err)
	}
	for _, c := range counts {
		logger.InfoContext(ctx, "Payment match status", "status", string(c.MatchStatus), "count", c.Count)
	}

	reservations, err := store.ReservationBalances(ctx)
	if err != nil {
		return fmt.Errorf("balance report failed: %w", err)
	}
	for _, r := range reservations {
		logger.InfoContext(ctx, "Reservation balance",
			"reservation", r.ID,
			"status", r.Status,
			"due", money.FromCents(r.TotalDueCents).String(),
			"paid", money.FromCents(r.PaidCents).String(),
			"balance", money.FromCents(r.BalanceCents).String(),
		)
	}
	return nil
}

// parseRange parses -from/-to flags, defaulting to an unbounded scan.
func parseRange(from, to string) (ledger.DateRange, error) {
	rng := ledger.DateRange{
		From: time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Now().UTC().AddDate(1, 0, 0),
	}
	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return rng, fmt.Errorf("invalid -from date: %w", err)
		}
		rng.From = parsed
	}
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return rng, fmt.Errorf("invalid -to date: %w", err)
		}
		rng.To = parsed
	}
	return rng, nil
}
