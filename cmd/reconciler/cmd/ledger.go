package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"statement-reconciler/cmd/reconciler/config"
	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/models"
	"statement-reconciler/internal/parsers"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

var (
	ledgerAccount      string
	ledgerProfile      string
	ledgerFormat       string
	ledgerUnreconciled bool

	accountToAdd = &models.Account{}
)

// ledgerCmd groups the ledger maintenance commands
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Seed and list ledger entries",
}

var ledgerSeedCmd = &cobra.Command{
	Use:   "seed <ledger.csv>",
	Short: "Add ledger entries from a CSV file",
	Long: `Seed reads ledger entries from a CSV file and adds them to the ledger.

The standard profile expects the columns date, description, amount and kind
(income or expense). Without a kind column the sign of the amount decides.
The br profile reads the semicolon separated data;descricao;valor;tipo layout.

Examples:
  reconciler ledger seed ledger.csv --account acc-1
  reconciler ledger seed lancamentos.csv --profile br`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		file, err := os.Open(args[0])
		if err != nil {
			if os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, args[0], err)
			}
			return errors.FileError(errors.CodeFileUnreadable, args[0], err)
		}
		defer file.Close()

		stats, err := seedLedger(ctx, store, file, args[0], ledgerProfile, ledgerAccount)
		if stats != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", stats)
		}
		return err
	},
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var entries []*models.LedgerEntry
		if ledgerUnreconciled {
			entries, err = store.ListUnreconciled(ctx, ledgerAccount)
		} else {
			entries, err = store.ListEntries(ctx, ledgerAccount)
		}
		if err != nil {
			return errors.PersistenceError(errors.CodeStoreFailure, "list ledger entries", err)
		}

		generator, err := newReportGenerator(ledgerFormat)
		if err != nil {
			return err
		}
		return generator.GenerateEntryList(entries, cmd.OutOrStdout())
	},
}

// accountCmd groups the account commands
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Register accounts statements are imported into",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an account",
	Long: `Add registers an account with the identifiers its statements carry.
Imports into the account are rejected when the statement's branch, account
number or tax ID disagree with these.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := accountToAdd.Validate(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "account", accountToAdd.ID, err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		account, err := store.CreateAccount(cmd.Context(), accountToAdd)
		if err != nil {
			return errors.PersistenceError(errors.CodeStoreFailure, "create account", err).
				WithContext("account_id", accountToAdd.ID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account %s (%s) registered\n", account.ID, account.Name)
		return nil
	},
}

// seedLedger parses r and stores every valid entry, assigning accountID to
// entries that carry none. Rows that fail to parse or store are reported in
// the returned error; the others are kept.
func seedLedger(ctx context.Context, store ledger.Store, r io.Reader, source, profile, accountID string) (*parsers.ParseStats, error) {
	csvConfig, err := config.GetLedgerProfile(profile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "profile", profile, err).
			WithSuggestion("Use the standard or br profile")
	}

	parser, err := parsers.NewLedgerCSVParser(csvConfig)
	if err != nil {
		return nil, err
	}

	entries, stats, err := parser.Parse(ctx, r, source)
	if err != nil {
		return stats, err
	}

	log := logger.GetGlobalLogger().WithComponent("ledger_seed")
	tracker := logger.NewBatchTracker("seed_ledger", len(entries), log)
	summary := errors.NewErrorSummary(nil)

	for _, entry := range entries {
		if entry.AccountID == nil && accountID != "" {
			id := accountID
			entry.AccountID = &id
		}
		if _, err := store.Create(ctx, entry); err != nil {
			tracker.Failed(entry.Description, err)
			summary.Add(errors.PersistenceError(errors.CodeStoreFailure, "create ledger entry", err).
				WithContext("description", entry.Description))
			continue
		}
		tracker.Succeeded()
	}
	tracker.Complete()

	for _, recordErr := range stats.Errors {
		summary.Add(errors.DecodeError(errors.CodeMalformedStatement, "csv", recordErr.Error(), nil))
	}

	return stats, summary.AsError("seed ledger")
}

func init() {
	rootCmd.AddCommand(ledgerCmd, accountCmd)
	ledgerCmd.AddCommand(ledgerSeedCmd, ledgerListCmd)
	accountCmd.AddCommand(accountAddCmd)

	ledgerCmd.PersistentFlags().StringVarP(&ledgerAccount, "account", "a", "", "account the entries belong to")
	ledgerSeedCmd.Flags().StringVarP(&ledgerProfile, "profile", "p", "standard", "CSV layout: standard, br")
	ledgerListCmd.Flags().BoolVar(&ledgerUnreconciled, "unreconciled", false, "only entries not reconciled yet")
	ledgerListCmd.Flags().StringVarP(&ledgerFormat, "output-format", "f", "console", "output format: console, json, csv")

	accountAddCmd.Flags().StringVar(&accountToAdd.ID, "id", "", "account ID (required)")
	accountAddCmd.Flags().StringVar(&accountToAdd.Name, "name", "", "account name (required)")
	accountAddCmd.Flags().StringVar(&accountToAdd.BranchNumber, "branch", "", "branch number as printed on statements")
	accountAddCmd.Flags().StringVar(&accountToAdd.AccountNumber, "number", "", "account number as printed on statements")
	accountAddCmd.Flags().StringVar(&accountToAdd.TaxID, "tax-id", "", "holder tax ID (CPF/CNPJ)")
	accountAddCmd.MarkFlagRequired("id")
	accountAddCmd.MarkFlagRequired("name")
}
