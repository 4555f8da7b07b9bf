package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-reconciler/internal/models"
	"statement-reconciler/internal/reconciler"
	"statement-reconciler/pkg/errors"
)

// importOptions are the flags shared by import and review
type importOptions struct {
	file         string
	fileType     string
	account      string
	month        int
	year         int
	noAutoMatch  bool
	showProgress bool
	outputFormat string
	outputFile   string

	confirm bool
}

var importOpts = &importOptions{}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <statement-file>",
	Short: "Import a bank statement and auto-match it against the ledger",
	Long: `Import decodes a bank statement, checks that it belongs to the account,
keeps the movements of the given month and matches them against the
unreconciled ledger entries of that account.

Without --confirm the import is a dry run: the report is printed and every
auto-match is reversed again. With --confirm the remaining open lines get new
ledger entries and the import is saved. Use 'reconciler review' to link the
open lines by hand first.

Examples:
  # Dry run: see what would match
  reconciler import extrato.ofx --account acc-1 --month 2 --year 2024

  # Import and confirm in one go
  reconciler import extrato.ofx -a acc-1 -m 2 -y 2024 --confirm

  # PDF statement, JSON report written to a file
  reconciler import extrato.pdf -a acc-1 -m 2 -y 2024 --output-format json --output-file feb.json

  # Wider matching window
  reconciler import extrato.ofx -a acc-1 -m 2 -y 2024 --date-tolerance 7`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		importOpts.file = args[0]
		return validateImportOptions(importOpts)
	},
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	addImportFlags(importCmd, importOpts)
	importCmd.Flags().BoolVar(&importOpts.confirm, "confirm", false, "create entries for the open lines and save the import")
}

func addImportFlags(cmd *cobra.Command, opts *importOptions) {
	cmd.Flags().StringVarP(&opts.account, "account", "a", "", "account the statement belongs to")
	cmd.Flags().IntVarP(&opts.month, "month", "m", 0, "statement month (1-12, required)")
	cmd.Flags().IntVarP(&opts.year, "year", "y", 0, "statement year (required)")
	cmd.Flags().StringVarP(&opts.fileType, "type", "t", "", "statement type: ofx, pdf (default: from the file extension)")
	cmd.Flags().BoolVar(&opts.noAutoMatch, "no-auto-match", false, "skip auto-matching; every line starts open")
	cmd.Flags().BoolVar(&opts.showProgress, "progress", false, "show progress indicators")
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	cmd.Flags().StringVarP(&opts.outputFile, "output-file", "o", "", "output file path (default: stdout)")
}

func validateImportOptions(opts *importOptions) error {
	if opts.file == "" {
		return fmt.Errorf("statement file is required")
	}
	if err := validateFileExists(opts.file, "statement file"); err != nil {
		return err
	}

	if opts.fileType == "" {
		opts.fileType = filepath.Ext(opts.file)
	}
	fileType, err := models.ParseFileType(opts.fileType)
	if err != nil {
		return fmt.Errorf("cannot tell the statement type, use --type: %w", err)
	}
	opts.fileType = string(fileType)

	if err := models.NewPeriod(opts.month, opts.year).Validate(); err != nil {
		return err
	}

	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[opts.outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", opts.outputFormat)
	}

	if opts.confirm && opts.account == "" {
		return fmt.Errorf("--confirm requires --account")
	}

	if opts.outputFile != "" {
		dir := filepath.Dir(opts.outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

func (o *importOptions) request(content []byte) *reconciler.ImportRequest {
	return &reconciler.ImportRequest{
		FileName:  filepath.Base(o.file),
		FileType:  models.FileType(o.fileType),
		Content:   content,
		AccountID: o.account,
		Month:     o.month,
		Year:      o.year,
	}
}

// startImport reads the file and runs it through the manager. The view is
// returned even when the import failed.
func startImport(ctx context.Context, a *app, opts *importOptions, stderr io.Writer) (*reconciler.SessionView, error) {
	supported := a.manager.SupportedFileTypes()
	if !slices.Contains(supported, models.FileType(opts.fileType)) {
		return nil, errors.DecodeError(errors.CodeUnsupportedFormat, opts.fileType, "", nil).
			WithContext("supported", supported).
			WithSuggestion(fmt.Sprintf("this setup reads %v statements; PDF needs RECONCILER_GEMINI_API_KEY", supported))
	}

	content, err := readStatementFile(opts.file)
	if err != nil {
		return nil, err
	}

	if opts.showProgress {
		a.manager.AddProgressCallback(func(progress *reconciler.ImportProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %-10s (%.1f%% complete)",
				progress.CompletedSteps, progress.TotalSteps,
				progress.Stage, progress.PercentComplete)
			if progress.Stage == reconciler.StageDone || progress.Stage == reconciler.StageFailed {
				fmt.Fprintln(stderr)
			}
		})
	}

	return a.manager.StartImport(ctx, opts.request(content))
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	started := time.Now()

	if viper.GetBool("verbose") {
		fmt.Fprintf(cmd.ErrOrStderr(), "Importing %s (%s) for %02d/%d\n",
			importOpts.file, importOpts.fileType, importOpts.month, importOpts.year)
	}

	a, err := newApp(ctx, !importOpts.noAutoMatch)
	if err != nil {
		return err
	}
	defer a.Close()

	if viper.GetBool("verbose") {
		mc := a.manager.GetMatchingConfig()
		fmt.Fprintf(cmd.ErrOrStderr(), "Matching: ±%d days, amount ±%s, tie-break %s\n",
			mc.DateToleranceDays, mc.AmountEpsilon, mc.TieBreak)
	}

	generator, err := newReportGenerator(importOpts.outputFormat)
	if err != nil {
		return err
	}
	output, closeOutput, err := openOutput(importOpts.outputFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOutput()

	view, err := startImport(ctx, a, importOpts, cmd.ErrOrStderr())
	if err != nil {
		if view != nil {
			_ = generator.GenerateReportSafely(view, output)
		}
		return err
	}
	importID := view.Import.ID

	if importOpts.confirm {
		result, confirmErr := a.manager.Confirm(ctx, importID)
		if result != nil {
			if confirmed, err := a.manager.Session(importID); err == nil {
				view = confirmed
			}
		}
		if err := generator.GenerateReportSafely(view, output); err != nil {
			return err
		}
		if result != nil && viper.GetBool("verbose") {
			fmt.Fprintf(cmd.ErrOrStderr(), "Created %d entries for open lines (%s)\n", len(result.Created), result.Stats)
		}
		return confirmErr
	}

	if err := generator.GenerateReportSafely(view, output); err != nil {
		return err
	}

	// dry run: give the auto-matched entries back to the ledger
	if _, err := a.manager.Delete(ctx, importID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Dry run: nothing was saved. Rerun with --confirm, or use 'reconciler review' to link lines by hand.\n")

	if viper.GetBool("verbose") {
		fmt.Fprintf(cmd.ErrOrStderr(), "Processing time: %v\n", time.Since(started))
	}
	return nil
}
