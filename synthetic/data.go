// Package synthetic generates correlated statement and payment
// fixtures for exercising the reconciliation pipeline end to end.
package synthetic

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"charterbooks/reconciler/money"
)

// Options controls the shape of the generated fixture set.
type Options struct {
	Rows int
	Dir  string
	Seed int64

	// DuplicateFraction of statement rows are emitted twice.
	DuplicateFraction float64
	// OrphanFraction of payments get no statement counterpart.
	OrphanFraction float64
	// ShiftedFraction of matching pairs land 1-3 days apart.
	ShiftedFraction float64
}

// DefaultOptions returns a fixture shape with a realistic amount of noise.
func DefaultOptions() Options {
	return Options{
		Rows:              100,
		Dir:               "tmp/synthetic",
		Seed:              time.Now().UnixNano(),
		DuplicateFraction: 0.05,
		OrphanFraction:    0.10,
		ShiftedFraction:   0.20,
	}
}

var descriptions = []string{
	"DIRECT CREDIT %s CHARTER DEPOSIT",
	"EFTPOS PAYMENT %s",
	"TRANSFER FROM %s BOOKING",
	"ONLINE PAYMENT REF %s",
}

// Generate writes a statement CSV and a matching payments CSV into
// opts.Dir. Most payments have a statement counterpart on the same or
// a nearby day; a configurable fraction are duplicated or orphaned.
func Generate(opts Options) error {
	if _, err := os.Stat(opts.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", opts.Dir, err)
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	baseDate := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	statementPath := filepath.Join(opts.Dir, "synthbank9001_statement.csv")
	paymentsPath := filepath.Join(opts.Dir, "payments_export.csv")

	statementFile, err := os.Create(statementPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", statementPath, err)
	}
	defer statementFile.Close()

	paymentsFile, err := os.Create(paymentsPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", paymentsPath, err)
	}
	defer paymentsFile.Close()

	statementWriter := csv.NewWriter(statementFile)
	defer statementWriter.Flush()
	paymentsWriter := csv.NewWriter(paymentsFile)
	defer paymentsWriter.Flush()

	statementHeader := []string{"Details", "Posting Date", "Description", "Amount", "Type", "Balance", "Check or Slip #"}
	if err := statementWriter.Write(statementHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	paymentsHeader := []string{"Reservation", "Date", "Amount", "Method", "Reference", "Notes"}
	if err := paymentsWriter.Write(paymentsHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	balance := money.Money(500_000) // opening balance of $5000.00
	for i := 0; i < opts.Rows; i++ {
		reservation := fmt.Sprintf("RES-%04d", i+1)
		reference := uuid.NewString()
		amount := money.Money(rng.Intn(200_000) + 500) // $5.00 - $2005.00
		date := baseDate.AddDate(0, 0, rng.Intn(90))

		paymentRow := []string{
			reservation,
			date.Format("2006-01-02"),
			amount.String(),
			"bank-transfer",
			reference,
			fmt.Sprintf("Deposit for %s", reservation),
		}
		if err := paymentsWriter.Write(paymentRow); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}

		if rng.Float64() < opts.OrphanFraction {
			continue // payment with no bank counterpart
		}

		statementDate := date
		if rng.Float64() < opts.ShiftedFraction {
			statementDate = date.AddDate(0, 0, rng.Intn(3)+1)
		}

		balance = balance.Add(amount)
		statementRow := []string{
			"CREDIT",
			statementDate.Format("01/02/2006"),
			fmt.Sprintf(descriptions[rng.Intn(len(descriptions))], reservation),
			amount.String(),
			"ACH_CREDIT",
			balance.String(),
			"",
		}
		if err := statementWriter.Write(statementRow); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}

		if rng.Float64() < opts.DuplicateFraction {
			// Duplicated bank row: same line posted twice, balance
			// deliberately NOT advanced so dedupe has work to do.
			if err := statementWriter.Write(statementRow); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	return nil
}
