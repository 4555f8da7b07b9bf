package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"

	"statement-reconciler/cmd/reconciler/config"
	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/reconciler"
	"statement-reconciler/internal/reporter"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// app holds the collaborators shared by the subcommands
type app struct {
	store   ledger.Store
	manager *reconciler.Manager
	logger  logger.Logger
	closers []func() error
}

// newApp opens the ledger and builds the import manager from the viper settings
func newApp(ctx context.Context, autoMatch bool) (*app, error) {
	log := logger.GetGlobalLogger().WithComponent("cli")

	matching, err := config.CreateMatchingConfig(
		viper.GetInt("matching.date_tolerance_days"),
		viper.GetString("matching.amount_epsilon"),
		viper.GetString("matching.tie_break"),
	)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", nil, err).
			WithSuggestion("Check --date-tolerance, --amount-epsilon and --tie-break")
	}

	store, err := openStore()
	if err != nil {
		return nil, err
	}
	a := &app{store: store, logger: log, closers: []func() error{store.Close}}

	registry, err := config.CreateDecoderRegistry(ctx, config.CreateExtractorConfig(
		viper.GetString("gemini.api_key"),
		viper.GetString("gemini.model"),
		viper.GetDuration("gemini.timeout"),
	))
	if err != nil {
		log.WithError(err).Debug("Gemini extractor not available")
	}

	archiveConfig, err := config.CreateArchiveConfig(
		viper.GetString("archive.bucket"),
		viper.GetString("archive.prefix"),
		viper.GetString("archive.credentials_file"),
		viper.GetDuration("archive.timeout"),
	)
	if err != nil {
		a.Close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "archive", archiveConfig.Bucket, err)
	}
	archiver, closeArchiver, err := config.CreateArchiver(ctx, archiveConfig)
	if err != nil {
		a.Close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "archive", archiveConfig.Bucket, err).
			WithSuggestion("Check the GCS credentials or leave archive.bucket empty")
	}
	a.closers = append(a.closers, closeArchiver)

	managerConfig := config.CreateManagerConfig(matching, autoMatch, viper.GetDuration("archive.timeout"))
	if err := config.ValidateConfig(managerConfig, nil); err != nil {
		a.Close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", nil, err)
	}
	a.manager, err = reconciler.NewManager(store, registry, managerConfig, reconciler.WithArchiver(archiver))
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func openStore() (ledger.Store, error) {
	path := viper.GetString("db")
	store, err := config.OpenStore(path)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailure, "open ledger", err).
			WithContext("db", path).
			WithSuggestion("Check the --db path is writable")
	}
	return store, nil
}

// Close releases the store and the archive client
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
}

// newReportGenerator returns the safe report generator for the given output format
func newReportGenerator(format string) (*reporter.SafeReportGenerator, error) {
	reportConfig, err := config.CreateReportConfig(format)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err)
	}
	return reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
}

// openOutput returns the output file, or stdout when path is empty
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return stdout, func() error { return nil }, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return file, file.Close, nil
}

// readStatementFile reads the uploaded file
func readStatementFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFileUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, errors.FileError(errors.CodeFileUnreadable, path, fmt.Errorf("is a directory"))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileUnreadable, path, err)
	}
	return content, nil
}
