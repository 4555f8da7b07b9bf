package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/archive"
	"statement-reconciler/internal/extraction"
	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/matcher"
	"statement-reconciler/internal/parsers"
	"statement-reconciler/internal/reconciler"
	"statement-reconciler/internal/reporter"
	"statement-reconciler/pkg/logger"
)

// MemoryDSN selects the in-memory ledger store
const MemoryDSN = ":memory:"

// CreateLoggerConfig creates a logger configuration from the CLI flags
func CreateLoggerConfig(level, format string, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()

	// -v overrides the level and adds caller info
	if verbose {
		config = logger.DebugConfig()
	} else if level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateMatchingConfig creates a matching configuration with the specified tolerances
func CreateMatchingConfig(dateTolerance int, amountEpsilon, tieBreak string) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	config.DateToleranceDays = dateTolerance

	if amountEpsilon != "" {
		epsilon, err := decimal.NewFromString(amountEpsilon)
		if err != nil {
			return nil, fmt.Errorf("invalid amount epsilon %q: %w", amountEpsilon, err)
		}
		config.AmountEpsilon = epsilon
	}

	if tieBreak != "" {
		tb, err := matcher.ParseTieBreak(tieBreak)
		if err != nil {
			return nil, err
		}
		config.TieBreak = tb
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateManagerConfig creates the import manager configuration
func CreateManagerConfig(matching *matcher.MatchingConfig, autoMatch bool, archiveTimeout time.Duration) *reconciler.Config {
	config := reconciler.DefaultConfig()

	config.Matching = matching
	config.AutoMatch = autoMatch
	if archiveTimeout > 0 {
		config.ArchiveTimeout = archiveTimeout
	}

	return config
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	switch format {
	case "", "console":
		config.Format = reporter.FormatConsole
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		// CSV is for working the open lines in a spreadsheet
		config.IncludeReconciledLines = false
		config.IncludeAmbiguities = false
		config.IncludeSkippedRecords = false
	default:
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", format)
	}

	return config, nil
}

// OpenStore opens the ledger store. An empty path or MemoryDSN gives an
// in-memory store whose content is lost when the process exits.
func OpenStore(path string) (ledger.Store, error) {
	if path == "" || path == MemoryDSN {
		return ledger.NewMemoryStore(), nil
	}
	return ledger.NewSQLiteStore(path)
}

// CreateExtractorConfig creates the Gemini extractor configuration
func CreateExtractorConfig(apiKey, model string, timeout time.Duration) extraction.Config {
	return extraction.Config{
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(model),
		Timeout: timeout,
	}
}

// CreateDecoderRegistry registers the OFX decoder and, when a Gemini client
// can be created, the PDF decoder. The returned error explains why PDF
// statements are not available; the registry is usable either way.
func CreateDecoderRegistry(ctx context.Context, config extraction.Config) (*parsers.Registry, error) {
	if err := config.Validate(); err != nil {
		return parsers.NewDefaultRegistry(nil), err
	}

	extractor, err := extraction.NewGeminiExtractor(ctx, config)
	if err != nil {
		return parsers.NewDefaultRegistry(nil), fmt.Errorf("PDF statements disabled: %w", err)
	}

	return parsers.NewDefaultRegistry(extractor), nil
}

// CreateArchiveConfig creates the statement archive configuration
func CreateArchiveConfig(bucket, prefix, credentialsFile string, timeout time.Duration) (archive.Config, error) {
	config := archive.Config{
		Bucket:          strings.TrimSpace(bucket),
		Prefix:          strings.Trim(strings.TrimSpace(prefix), "/"),
		CredentialsFile: strings.TrimSpace(credentialsFile),
		Timeout:         timeout,
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// CreateArchiver returns the GCS archiver when a bucket is configured and
// archive.Nop otherwise. The close function releases the GCS client.
func CreateArchiver(ctx context.Context, config archive.Config) (archive.Archiver, func() error, error) {
	if !config.Enabled() {
		return archive.Nop{}, func() error { return nil }, nil
	}

	archiver, err := archive.NewGCSArchiver(ctx, config)
	if err != nil {
		return nil, nil, err
	}
	return archiver, archiver.Close, nil
}

// LedgerProfile is a pre-configured ledger CSV layout
type LedgerProfile struct {
	Name   string
	Config *parsers.LedgerCSVConfig
}

// GetLedgerProfiles returns the ledger CSV layouts the seed command understands
func GetLedgerProfiles() []LedgerProfile {
	return []LedgerProfile{
		{
			Name:   "standard",
			Config: parsers.DefaultLedgerCSVConfig(),
		},
		{
			Name: "br",
			Config: &parsers.LedgerCSVConfig{
				DateColumn:        "data",
				DescriptionColumn: "descricao",
				AmountColumn:      "valor",
				KindColumn:        "tipo",
				Delimiter:         ';',
			},
		},
	}
}

// GetLedgerProfile returns a ledger CSV configuration by profile name
func GetLedgerProfile(profileName string) (*parsers.LedgerCSVConfig, error) {
	for _, profile := range GetLedgerProfiles() {
		if strings.EqualFold(profile.Name, profileName) {
			return profile.Config, nil
		}
	}

	return nil, fmt.Errorf("unknown ledger profile: %s", profileName)
}

// ValidateConfig validates that all required configurations are valid.
// A nil reportConfig is skipped.
func ValidateConfig(managerConfig *reconciler.Config, reportConfig *reporter.ReportConfig) error {
	if err := managerConfig.Validate(); err != nil {
		return fmt.Errorf("invalid manager config: %w", err)
	}

	if reportConfig == nil {
		return nil
	}
	if err := reportConfig.Validate(); err != nil {
		return fmt.Errorf("invalid report config: %w", err)
	}

	return nil
}
