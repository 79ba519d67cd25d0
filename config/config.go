package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	// LedgerDSN is the SQLite DSN of the reconciliation ledger.
	LedgerDSN string

	// MongoURI and ArchiveEnabled control the raw statement archive.
	MongoURI       string
	ArchiveEnabled bool

	UnprocessedDir     string
	ProcessedDir       string
	MoveProcessedFiles bool

	// Matching knobs.
	ChunkDays   int
	ApplyLimit  int
	ApplyMedium bool
	Workers     int
	Actor       string

	SyntheticDataDir  string
	SyntheticDataRows int
	Timeout           time.Duration
}
