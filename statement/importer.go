package statement

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger"
	"charterbooks/reconciler/report"
)

// Archive receives the raw statement records for long-term retention.
// The ledger keeps typed rows; the archive keeps everything the bank
// sent, untouched.
type Archive interface {
	ArchiveRows(ctx context.Context, source, accountID string, rows []map[string]string) error
}

// Importer loads every statement file in a directory into the ledger.
type Importer struct {
	Store     *ledger.Store
	Parser    Parser
	Extractor InfoExtractor

	// Archive is optional; nil disables raw-row retention.
	Archive Archive

	// MoveProcessedFiles relocates files to ProcessedDir after a
	// successful import so re-runs only see new files.
	MoveProcessedFiles bool
	ProcessedDir       string
}

// ImportDir processes all CSV files in a given directory and loads them
// into the ledger. Inserts are idempotent, so re-running over the same
// directory is safe.
func (imp *Importer) ImportDir(ctx context.Context, unprocessedDir string) (*report.Run, error) {
	logger := appcontext.LoggerFromContext(ctx)
	logger.InfoContext(ctx, "Reading statement files", "dir", unprocessedDir)

	files, err := os.ReadDir(unprocessedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	run := report.NewRun()

	for _, file := range files {
		if !validateFile(file) {
			reason := "Not a valid CSV file"
			run.AddFailure(file.Name(), reason)
			logger.WarnContext(ctx, "file was not processed", "fileName", file.Name(), "reason", reason)
			continue
		}
		if err = imp.processFile(ctx, file, unprocessedDir, run); err != nil {
			run.AddFailure(file.Name(), err.Error())
			logger.ErrorContext(ctx, "failed to process file", "file", file.Name(), "error", err)
		}
	}

	return run, nil
}

// Return true only if the entry pointed to by FILE is valid.
func validateFile(file os.DirEntry) bool {
	if file.IsDir() || (!strings.HasSuffix(file.Name(), ".csv") && !strings.HasSuffix(file.Name(), ".CSV")) {
		return false
	}
	return true
}

func (imp *Importer) processFile(
	ctx context.Context,
	file os.DirEntry,
	unprocessedDir string,
	run *report.Run,
) error {
	logger := appcontext.LoggerFromContext(ctx)

	sourceInfo, err := imp.Extractor.ExtractInfo(file.Name())
	if err != nil {
		return fmt.Errorf("failed to extract source info: %w", err)
	}

	cleanFileName := filepath.Clean(file.Name())
	if strings.HasPrefix(cleanFileName, "../") {
		return ValidFileNotFoundError(file.Name())
	}

	filePath := filepath.Join(unprocessedDir, cleanFileName)
	txns, raw, err := imp.Parser.Parse(ctx, filePath, sourceInfo.SourceSystem, sourceInfo.AccountID)
	if err != nil {
		return err
	}

	for i := range txns {
		run.Scanned++
		_, created, insErr := imp.Store.InsertTransactionIfAbsent(ctx, &txns[i])
		if insErr != nil {
			return fmt.Errorf("failed to insert transaction: %w", insErr)
		}
		if created {
			run.Applied++
		}
	}

	if imp.Archive != nil && len(raw) > 0 {
		if err = imp.Archive.ArchiveRows(ctx, sourceInfo.SourceSystem, sourceInfo.AccountID, raw); err != nil {
			return fmt.Errorf("failed to archive raw records: %w", err)
		}
	}

	if imp.MoveProcessedFiles {
		if err = moveFile(filePath, imp.ProcessedDir); err != nil {
			return fmt.Errorf("failed to move file: %w", err)
		}
	}

	logger.InfoContext(ctx, "Imported statement file",
		"file", file.Name(),
		"source", sourceInfo.SourceSystem,
		"accountID", sourceInfo.AccountID,
		"rows", len(txns),
	)

	return nil
}

// ImportPayments loads one booking-system payments export into the
// ledger. The source system is taken from the filename stem.
func ImportPayments(ctx context.Context, store *ledger.Store, filePath string) (*report.Run, error) {
	source := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	payments, err := ParsePayments(ctx, filePath, source)
	if err != nil {
		return nil, err
	}

	run := report.NewRun()
	for i := range payments {
		run.Scanned++
		_, created, insErr := store.InsertPaymentIfAbsent(ctx, &payments[i])
		if insErr != nil {
			return nil, fmt.Errorf("failed to insert payment: %w", insErr)
		}
		if created {
			run.Applied++
		}
	}

	return run, nil
}

// ImportCharges loads one booking-system charges export into the
// ledger, mirroring ImportPayments.
func ImportCharges(ctx context.Context, store *ledger.Store, filePath string) (*report.Run, error) {
	source := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	charges, err := ParseCharges(ctx, filePath, source)
	if err != nil {
		return nil, err
	}

	run := report.NewRun()
	for i := range charges {
		run.Scanned++
		_, created, insErr := store.InsertChargeIfAbsent(ctx, &charges[i])
		if insErr != nil {
			return nil, fmt.Errorf("failed to insert charge: %w", insErr)
		}
		if created {
			run.Applied++
		}
	}

	return run, nil
}

func moveFile(filePath, processedDir string) error {
	var err error
	if _, err = os.Stat(processedDir); os.IsNotExist(err) {
		if err = os.MkdirAll(processedDir, 0o750); err != nil {
			return fmt.Errorf("failed to create processed directory '%s': %w", processedDir, err)
		}
	}

	fileName := filepath.Base(filePath)
	newPath := filepath.Join(processedDir, fileName)

	if err = os.Rename(filePath, newPath); err != nil {
		return fmt.Errorf("failed to move file from '%s' to '%s': %w", filePath, newPath, err)
	}

	return nil
}
