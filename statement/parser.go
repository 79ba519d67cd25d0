// Package statement parses bank-statement and booking-system CSV
// exports into ledger rows. Parsing is deliberately forgiving: a bad
// record is skipped with a warning, never aborting the file, because
// import is re-runnable end to end thanks to the ledger's idempotent
// insert contract.
package statement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charterbooks/reconciler/appcontext"
	"charterbooks/reconciler/ledger/model"
	"charterbooks/reconciler/money"
)

var errTargetFileNotFound = errors.New("the valid target file was not found")
var errProcessCSV = errors.New("error while parsing CSV file")

// ValidFileNotFoundError wraps errTargetFileNotFound with the path.
func ValidFileNotFoundError(path string) error {
	return fmt.Errorf("%w, %s", errTargetFileNotFound, path)
}

// ProcessCSVError wraps errProcessCSV with the file name.
func ProcessCSVError(filename string) error {
	return fmt.Errorf("%s, %w", filename, errProcessCSV)
}

// Parser turns one statement file into ledger transactions plus the
// raw records the archive keeps.
type Parser interface {
	Parse(ctx context.Context, filePath, source, accountID string) ([]model.BankTransaction, []map[string]string, error)
}

// CSVParser reads the common bank export layout: Details, Posting
// Date, Description, Amount, Type, Balance, Check or Slip #.
type CSVParser struct {
	// DateLayout of the posting date column.
	DateLayout string
}

// NewCSVParser creates a parser with the usual month-first layout.
func NewCSVParser() *CSVParser {
	return &CSVParser{DateLayout: "01/02/2006"}
}

// Parse reads one CSV statement file. Malformed rows are logged and
// skipped; the error return is reserved for file-level problems.
func (p *CSVParser) Parse(
	ctx context.Context,
	filePath, source, accountID string,
) ([]model.BankTransaction, []map[string]string, error) {
	logger := appcontext.LoggerFromContext(ctx)
	logger.InfoContext(ctx, "Parsing statement file", "filePath", filePath, "source", source, "accountID", accountID)

	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil // empty file, nothing to import
		}
		return nil, nil, fmt.Errorf("failed to read CSV header from %s: %w", filePath, err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var txns []model.BankTransaction
	var raw []map[string]string

	for {
		record, readErr := reader.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("failed to read record from %s: %w", filePath, readErr)
		}

		if len(record) < len(header) {
			logger.WarnContext(ctx, "Skipping invalid record", "reason", "not enough columns", "file", filePath)
			continue
		}

		dateStr := safeGet(record, colIndex["posting date"])
		if dateStr == "" {
			logger.WarnContext(ctx, "Skipping record with empty posting date", "file", filePath)
			continue
		}
		parsedDate, parseErr := time.Parse(p.DateLayout, dateStr)
		if parseErr != nil {
			logger.WarnContext(ctx, "Skipping record with invalid date format", "date", dateStr, "error", parseErr)
			continue
		}

		amount, amtErr := money.Parse(safeGet(record, colIndex["amount"]))
		if amtErr != nil {
			logger.WarnContext(ctx, "Skipping record with invalid amount", "value", safeGet(record, colIndex["amount"]), "error", amtErr)
			continue
		}

		txn := model.BankTransaction{
			AccountID:    accountID,
			Date:         parsedDate.UTC(),
			Description:  safeGet(record, colIndex["description"]),
			SourceSystem: source,
			ExternalKey:  safeGet(record, colIndex["check or slip #"]),
		}
		// Bank exports post outflows as negative amounts.
		if amount.Sign() < 0 {
			txn.DebitCents = amount.Neg().Cents()
		} else {
			txn.CreditCents = amount.Cents()
		}

		if balanceStr := safeGet(record, colIndex["balance"]); balanceStr != "" {
			balance, balErr := money.Parse(balanceStr)
			if balErr != nil {
				logger.WarnContext(ctx, "Ignoring invalid balance value", "value", balanceStr, "error", balErr)
			} else {
				cents := balance.Cents()
				txn.BalanceCents = &cents
			}
		}

		txns = append(txns, txn)

		rawRecord := make(map[string]string, len(header))
		for name, idx := range colIndex {
			rawRecord[name] = safeGet(record, idx)
		}
		rawRecord["source"] = source
		rawRecord["account_id"] = accountID
		raw = append(raw, rawRecord)
	}

	return txns, raw, nil
}

// ParsePayments reads a booking-system payments export: Reservation,
// Date, Amount, Method, Reference, Notes.
func ParsePayments(ctx context.Context, filePath, source string) ([]model.Payment, error) {
	logger := appcontext.LoggerFromContext(ctx)

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", filePath, err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var payments []model.Payment
	for {
		record, readErr := reader.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read record from %s: %w", filePath, readErr)
		}

		dateStr := safeGet(record, colIndex["date"])
		parsedDate, parseErr := time.Parse("2006-01-02", dateStr)
		if parseErr != nil {
			logger.WarnContext(ctx, "Skipping payment with invalid date", "date", dateStr, "error", parseErr)
			continue
		}
		amount, amtErr := money.Parse(safeGet(record, colIndex["amount"]))
		if amtErr != nil {
			logger.WarnContext(ctx, "Skipping payment with invalid amount", "value", safeGet(record, colIndex["amount"]), "error", amtErr)
			continue
		}

		payment := model.Payment{
			AmountCents:  amount.Cents(),
			Date:         parsedDate.UTC(),
			Method:       safeGet(record, colIndex["method"]),
			Notes:        safeGet(record, colIndex["notes"]),
			SourceSystem: source,
			ExternalKey:  safeGet(record, colIndex["reference"]),
		}
		if reservation := safeGet(record, colIndex["reservation"]); reservation != "" {
			payment.ReservationID = &reservation
		}
		payments = append(payments, payment)
	}

	return payments, nil
}

// ParseCharges reads a booking-system charges export: Reservation,
// Date, Amount, GST, Description, GL Code, Vendor, Reference. Amounts
// are GST-inclusive; a missing or malformed GST column leaves the tax
// component at zero rather than skipping the row.
func ParseCharges(ctx context.Context, filePath, source string) ([]model.Charge, error) {
	logger := appcontext.LoggerFromContext(ctx)

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", filePath, err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var charges []model.Charge
	for {
		record, readErr := reader.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read record from %s: %w", filePath, readErr)
		}

		dateStr := safeGet(record, colIndex["date"])
		parsedDate, parseErr := time.Parse("2006-01-02", dateStr)
		if parseErr != nil {
			logger.WarnContext(ctx, "Skipping charge with invalid date", "date", dateStr, "error", parseErr)
			continue
		}
		amount, amtErr := money.Parse(safeGet(record, colIndex["amount"]))
		if amtErr != nil {
			logger.WarnContext(ctx, "Skipping charge with invalid amount", "value", safeGet(record, colIndex["amount"]), "error", amtErr)
			continue
		}

		charge := model.Charge{
			AmountCents:  amount.Cents(),
			Date:         parsedDate.UTC(),
			Description:  safeGet(record, colIndex["description"]),
			GLCode:       safeGet(record, colIndex["gl code"]),
			Vendor:       safeGet(record, colIndex["vendor"]),
			SourceSystem: source,
			ExternalKey:  safeGet(record, colIndex["reference"]),
		}
		if gstStr := safeGet(record, colIndex["gst"]); gstStr != "" {
			gst, gstErr := money.Parse(gstStr)
			if gstErr != nil {
				logger.WarnContext(ctx, "Ignoring invalid GST value", "value", gstStr, "error", gstErr)
			} else {
				charge.GSTCents = gst.Cents()
			}
		}
		if reservation := safeGet(record, colIndex["reservation"]); reservation != "" {
			charge.ReservationID = &reservation
		}
		charges = append(charges, charge)
	}

	return charges, nil
}

// safeGet retrieves slice[index] safely.
func safeGet(slice []string, index int) string {
	if index < len(slice) {
		return slice[index]
	}

	return ""
}
