package config

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"
)

// Default values.
const (
	defaultTimeoutSeconds     = 30
	defaultLedgerDSN          = "ledger.db"
	defaultMongoURI           = "mongodb://localhost:27017/datalake"
	defaultMongoHost          = "localhost"
	defaultMongoPort          = "27017"
	defaultArchiveEnabled     = false
	defaultCSVDir             = "./data"
	defaultProcessedDir       = "processed"
	defaultUnprocessedDir     = "unprocessed"
	defaultMoveProcessedFiles = false
	defaultChunkDays          = 31
	defaultApplyLimit         = 0 // unlimited
	defaultApplyMedium        = false
	defaultWorkers            = 4
	defaultActor              = "reconciler"
	defaultSyntheticDataDir   = "tmp/synthetic"
	defaultSyntheticDataRows  = 100

	envLedgerDSN            = "LEDGER_DSN"
	envMongoURI             = "MONGO_URI"
	envMongoHost            = "MONGO_HOST"
	envMongoUser            = "MONGO_USER"
	envMongoPassword        = "MONGO_PASSWORD"
	envArchiveEnabled       = "ARCHIVE_ENABLED"
	envCSVDirectory         = "CSV_DIR"
	envProcessedDirectory   = "PROCESSED_DIR"
	envUnprocessedDirectory = "UNPROCESSED_DIR"
	envMoveProcessedFiles   = "MOVE_PROCESSED_FILES"
	envChunkDays            = "MATCH_CHUNK_DAYS"
	envApplyLimit           = "MATCH_APPLY_LIMIT"
	envApplyMedium          = "MATCH_APPLY_MEDIUM"
	envWorkers              = "MATCH_WORKERS"
	envActor                = "RECONCILER_ACTOR"
)

// LoadConfig loads the application configuration from environment variables or uses default values.
func LoadConfig(ctx context.Context, logger *slog.Logger) *Config {
	ledgerDSN := os.Getenv(envLedgerDSN)
	if ledgerDSN == "" {
		ledgerDSN = defaultLedgerDSN
		logger.DebugContext(ctx, "Using default ledger DSN", "dsn", ledgerDSN)
	} else {
		logger.DebugContext(ctx, "Using ledger DSN from environment variable", "dsn", ledgerDSN)
	}

	mongoURI := os.Getenv(envMongoURI)
	mongoURI = formatMongoURI(ctx, mongoURI, logger)

	csvDirectory := setEnvCSVDir(ctx, *logger)

	// Configure the dirs for processed/unprocessed files.
	unprocessedDir := setUnprocessedDir(ctx, csvDirectory, *logger)
	processedDir := setProcessedDir(ctx, csvDirectory, *logger)

	logger.DebugContext(ctx, "Constructed directory paths", "unprocessed", unprocessedDir, "processed", processedDir)

	actor := os.Getenv(envActor)
	if actor == "" {
		actor = defaultActor
	}

	return &Config{
		LedgerDSN:          ledgerDSN,
		MongoURI:           mongoURI,
		ArchiveEnabled:     envBool(ctx, *logger, envArchiveEnabled, defaultArchiveEnabled),
		UnprocessedDir:     unprocessedDir,
		ProcessedDir:       processedDir,
		MoveProcessedFiles: envBool(ctx, *logger, envMoveProcessedFiles, defaultMoveProcessedFiles),
		ChunkDays:          envInt(ctx, *logger, envChunkDays, defaultChunkDays),
		ApplyLimit:         envInt(ctx, *logger, envApplyLimit, defaultApplyLimit),
		ApplyMedium:        envBool(ctx, *logger, envApplyMedium, defaultApplyMedium),
		Workers:            envInt(ctx, *logger, envWorkers, defaultWorkers),
		Actor:              actor,
		SyntheticDataDir:   defaultSyntheticDataDir,
		SyntheticDataRows:  defaultSyntheticDataRows,
		Timeout:            defaultTimeoutSeconds * time.Second,
	}
}

// envBool fetches a boolean env var or falls back to the default.
func envBool(ctx context.Context, logger slog.Logger, name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		logger.DebugContext(ctx, "Using default value", "var", name, "value", fallback)
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		logger.WarnContext(
			ctx,
			"Invalid boolean value, using default",
			"var", name,
			"value", raw,
			"default", fallback,
			"error", err,
		)
		return fallback
	}
	logger.DebugContext(ctx, "Set value from environment variable", "var", name, "value", parsed)
	return parsed
}

// envInt fetches an integer env var or falls back to the default.
func envInt(ctx context.Context, logger slog.Logger, name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		logger.DebugContext(ctx, "Using default value", "var", name, "value", fallback)
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		logger.WarnContext(
			ctx,
			"Invalid integer value, using default",
			"var", name,
			"value", raw,
			"default", fallback,
			"error", err,
		)
		return fallback
	}
	logger.DebugContext(ctx, "Set value from environment variable", "var", name, "value", parsed)
	return parsed
}

func setEnvCSVDir(ctx context.Context, logger slog.Logger) string {
	csvDirectory := os.Getenv(envCSVDirectory)
	if csvDirectory == "" {
		csvDirectory = defaultCSVDir
		logger.DebugContext(ctx, "Using default CSV directory", "dir", csvDirectory)
	} else {
		logger.DebugContext(ctx, "Using CSV directory from environment variable", "dir", csvDirectory)
	}

	return csvDirectory
}

// Format the directory in which unprocessed data files exist.
func setUnprocessedDir(ctx context.Context, csvDirectory string, logger slog.Logger) string {
	return fmt.Sprintf("%s/%s", csvDirectory, setUnprocessedDirName(ctx, logger))
}

// Format the directory in which processed data files are moved to.
func setProcessedDir(ctx context.Context, csvDirectory string, logger slog.Logger) string {
	return fmt.Sprintf("%s/%s", csvDirectory, getProcessedDirName(ctx, logger))
}

// Fetch the `processedDirName` env var or set to a default value.
func getProcessedDirName(ctx context.Context, logger slog.Logger) string {
	processedDirName := os.Getenv(envProcessedDirectory)
	if processedDirName == "" {
		processedDirName = defaultProcessedDir
		logger.DebugContext(ctx, "Using default processed directory name", "dir", processedDirName)
	} else {
		logger.DebugContext(ctx, "Using processed directory name from environment variable", "dir", processedDirName)
	}

	return processedDirName
}

// Fetch the `unprocessedDirName` env var or set to a default value.
func setUnprocessedDirName(ctx context.Context, logger slog.Logger) string {
	unprocessedDirName := os.Getenv(envUnprocessedDirectory)
	if unprocessedDirName == "" {
		unprocessedDirName = defaultUnprocessedDir
		logger.DebugContext(ctx, "Using default unprocessed directory name", "dir", unprocessedDirName)
	} else {
		logger.DebugContext(ctx, "Using unprocessed directory name from environment variable",
			"dir", unprocessedDirName)
	}

	return unprocessedDirName
}

// formatMongoURI formats mongo settings to a url and return the result.
func formatMongoURI(
	ctx context.Context,
	mongoURI string,
	logger *slog.Logger,
) string {
	if mongoURI != "" {
		logger.DebugContext(ctx, "Using MongoDB URI from environment variable", "uri", mongoURI)
		return mongoURI
	}

	mongoHost := os.Getenv(envMongoHost)
	if mongoHost == "" {
		mongoHost = defaultMongoHost
		logger.DebugContext(ctx, "Using default MongoDB host", "host", mongoHost)
	} else {
		logger.DebugContext(ctx, "Using MongoDB host from environment variable", "host", mongoHost)
	}

	mongoUser := os.Getenv(envMongoUser)
	mongoPassword := os.Getenv(envMongoPassword)

	if mongoUser != "" && mongoPassword != "" {
		hostPort := net.JoinHostPort(mongoHost, defaultMongoPort)
		mongoURI = fmt.Sprintf(
			"mongodb://%s:%s@%s/datalake?authSource=admin",
			mongoUser,
			mongoPassword,
			hostPort,
		)
		logger.DebugContext(ctx, "Created MongoDB URI from user, password, and host", "uri", mongoURI)
	} else {
		mongoURI = defaultMongoURI
		logger.DebugContext(ctx, "Using default MongoDB URI", "uri", mongoURI)
	}
	return mongoURI
}
