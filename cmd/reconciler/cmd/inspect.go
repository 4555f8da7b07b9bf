package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"statement-reconciler/internal/models"
)

var (
	inspectType   string
	inspectFormat string
)

// inspectCmd decodes a statement without importing it
var inspectCmd = &cobra.Command{
	Use:   "inspect <statement-file>",
	Short: "Decode a statement and print its movements",
	Long: `Inspect decodes a statement and prints the account identifiers and the
movements found in it. Nothing is matched or saved.

Examples:
  reconciler inspect extrato.ofx
  reconciler inspect extrato.pdf --output-format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if inspectType == "" {
			inspectType = filepath.Ext(args[0])
		}
		fileType, err := models.ParseFileType(inspectType)
		if err != nil {
			return fmt.Errorf("cannot tell the statement type, use --type: %w", err)
		}

		content, err := readStatementFile(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		stmt, err := a.manager.Inspect(ctx, content, fileType)
		if err != nil {
			return err
		}

		generator, err := newReportGenerator(inspectFormat)
		if err != nil {
			return err
		}
		return generator.GenerateStatement(stmt, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectType, "type", "t", "", "statement type: ofx, pdf (default: from the file extension)")
	inspectCmd.Flags().StringVarP(&inspectFormat, "output-format", "f", "console", "output format: console, json")
}
