package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"statement-reconciler/pkg/errors"
)

var (
	importsAccount string
	importsFormat  string
	importsRawOut  string
)

// importsCmd groups the commands working on saved imports
var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "List, show and delete saved imports",
}

var importsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved imports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		imports, err := a.manager.ListImports(ctx, importsAccount)
		if err != nil {
			return err
		}

		generator, err := newReportGenerator(importsFormat)
		if err != nil {
			return err
		}
		return generator.GenerateImportList(imports, cmd.OutOrStdout())
	},
}

var importsShowCmd = &cobra.Command{
	Use:   "show <import-id>",
	Short: "Show a saved import with its lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.manager.Load(ctx, args[0])
		if err != nil {
			return err
		}

		generator, err := newReportGenerator(importsFormat)
		if err != nil {
			return err
		}
		return generator.GenerateReportSafely(view, cmd.OutOrStdout())
	},
}

var importsDeleteCmd = &cobra.Command{
	Use:   "delete <import-id>",
	Short: "Reverse a saved import",
	Long: `Delete reverses a saved import: every ledger entry its lines are linked
to becomes unreconciled again and the import record is removed. Entries that
were created for the import stay in the ledger.

A delete that fails part way can simply be run again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.manager.Delete(ctx, args[0])
		if result != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Import %s: %d entries unreconciled", result.ImportID, len(result.Unreconciled))
			if len(result.Failed) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", len(result.Failed))
			}
			if result.RecordDeleted {
				fmt.Fprintf(cmd.OutOrStdout(), ", record deleted")
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return err
	},
}

var importsRawCmd = &cobra.Command{
	Use:   "raw <import-id>",
	Short: "Download the archived statement file of an import",
	Long: `Raw fetches the original statement file of an import from the archive
bucket. Only imports made while archive.bucket was configured have one.

Examples:
  reconciler imports raw 6f1c9a52-... --output-file extrato-fev.ofx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		content, imp, err := a.manager.RawStatement(ctx, args[0])
		if err != nil {
			return err
		}

		path := importsRawOut
		if path == "" {
			path = imp.FileName
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(content), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importsCmd)
	importsCmd.AddCommand(importsListCmd, importsShowCmd, importsDeleteCmd, importsRawCmd)

	importsListCmd.Flags().StringVarP(&importsAccount, "account", "a", "", "only imports of this account")
	importsRawCmd.Flags().StringVarP(&importsRawOut, "output-file", "o", "", "where to write the file (default: the original file name)")
	importsCmd.PersistentFlags().StringVarP(&importsFormat, "output-format", "f", "console", "output format: console, json, csv")
}
