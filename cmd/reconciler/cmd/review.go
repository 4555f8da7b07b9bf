package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"statement-reconciler/internal/models"
	"statement-reconciler/internal/reconciler"
	"statement-reconciler/internal/reporter"
	"statement-reconciler/pkg/errors"
)

var (
	reviewOpts     = &importOptions{}
	reviewImportID string
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review [statement-file]",
	Short: "Import a statement and review it line by line",
	Long: `Review imports a statement like 'reconciler import' and then opens an
interactive session to link the open lines by hand before confirming.

With --import a saved import is loaded instead; it can be inspected or
deleted.

Session commands:
  show                       print the import report
  open                       list the lines still open
  candidates <line>          list ledger entries the line may be linked to
  link <line> <entry|#n>     link the line to an entry (#n picks from the last candidates list)
  create <line>              create a ledger entry from the line and link it
  unlink <line>              undo the link of a line
  confirm                    create entries for the open lines and save the import
  delete                     reverse the import and leave
  quit                       leave; an unsaved import is discarded

Examples:
  reconciler review extrato.ofx --account acc-1 --month 2 --year 2024
  reconciler review --import 6f1c9a52-...`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if reviewImportID != "" {
			if len(args) > 0 {
				return fmt.Errorf("give either a statement file or --import, not both")
			}
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("a statement file or --import is required")
		}
		reviewOpts.file = args[0]
		return validateImportOptions(reviewOpts)
	},
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	addImportFlags(reviewCmd, reviewOpts)
	reviewCmd.Flags().StringVar(&reviewImportID, "import", "", "review a saved import instead of a new file")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, !reviewOpts.noAutoMatch)
	if err != nil {
		return err
	}
	defer a.Close()

	generator, err := newReportGenerator(reviewOpts.outputFormat)
	if err != nil {
		return err
	}

	var view *reconciler.SessionView
	if reviewImportID != "" {
		view, err = a.manager.Load(ctx, reviewImportID)
	} else {
		view, err = startImport(ctx, a, reviewOpts, cmd.ErrOrStderr())
	}
	if err != nil {
		if view != nil {
			_ = generator.GenerateReportSafely(view, cmd.OutOrStdout())
		}
		return err
	}

	r := newReviewer(a.manager, generator, view.Import.ID, cmd.OutOrStdout())
	if err := generator.GenerateReportSafely(view, r.out); err != nil {
		return err
	}
	return r.run(ctx, cmd.InOrStdin())
}

// reviewer runs the interactive review of one import
type reviewer struct {
	manager  *reconciler.Manager
	reports  *reporter.SafeReportGenerator
	importID string
	out      io.Writer

	// candidates remembers the last list shown per line for "#n" references
	candidates map[string][]*models.LedgerEntry
}

func newReviewer(manager *reconciler.Manager, reports *reporter.SafeReportGenerator, importID string, out io.Writer) *reviewer {
	return &reviewer{
		manager:    manager,
		reports:    reports,
		importID:   importID,
		out:        out,
		candidates: make(map[string][]*models.LedgerEntry),
	}
}

// run reads commands until the import is confirmed, deleted or left
func (r *reviewer) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	r.prompt()
	for scanner.Scan() {
		done, err := r.execute(ctx, scanner.Text())
		if err != nil {
			r.printError(err)
		}
		if done {
			return nil
		}
		r.prompt()
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintln(r.out)
	return r.leave(ctx)
}

func (r *reviewer) prompt() {
	view, err := r.manager.Session(r.importID)
	if err != nil {
		fmt.Fprint(r.out, "> ")
		return
	}
	fmt.Fprintf(r.out, "[%s %d/%d]> ", view.Import.Status, view.Import.ReconciledCount, view.Import.TotalMovements)
}

// execute runs one command line. done is true when the session is over.
func (r *reviewer) execute(ctx context.Context, input string) (done bool, err error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, nil
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	switch command {
	case "help", "?":
		fmt.Fprintln(r.out, "commands: show, open, candidates <line>, link <line> <entry|#n>, create <line>, unlink <line>, confirm, delete, quit")
		return false, nil

	case "show":
		view, err := r.manager.Session(r.importID)
		if err != nil {
			return false, err
		}
		return false, r.reports.GenerateReportSafely(view, r.out)

	case "open":
		return false, r.listOpen()

	case "candidates":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: candidates <line>")
		}
		return false, r.showCandidates(ctx, parseLineID(args[0]))

	case "link":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: link <line> <entry|#n>")
		}
		lineID := parseLineID(args[0])
		entryID, err := r.resolveEntry(lineID, args[1])
		if err != nil {
			return false, err
		}
		view, err := r.manager.LinkExisting(ctx, r.importID, lineID, entryID)
		if err != nil {
			return false, err
		}
		delete(r.candidates, lineID)
		fmt.Fprintf(r.out, "%s linked to %s (%s)\n", lineID, entryID, progressText(view.Import))
		return false, nil

	case "create":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: create <line>")
		}
		lineID := parseLineID(args[0])
		entry, err := r.manager.CreateAndLink(ctx, r.importID, lineID)
		if err != nil {
			if entry != nil {
				fmt.Fprintf(r.out, "entry %s was created but could not be linked; link it by hand with: link %s %s\n", entry.ID, lineID, entry.ID)
			}
			return false, err
		}
		delete(r.candidates, lineID)
		view, _ := r.manager.Session(r.importID)
		fmt.Fprintf(r.out, "%s linked to new entry %s (%s)\n", lineID, entry.ID, progressText(view.Import))
		return false, nil

	case "unlink":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: unlink <line>")
		}
		lineID := parseLineID(args[0])
		view, err := r.manager.Unlink(ctx, r.importID, lineID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s unlinked (%s)\n", lineID, progressText(view.Import))
		return false, nil

	case "confirm":
		result, err := r.manager.Confirm(ctx, r.importID)
		if result == nil || result.Import.Status != models.StatusConfirmed {
			return false, err
		}
		fmt.Fprintf(r.out, "Import %s confirmed: %d entries created for open lines\n", r.importID, len(result.Created))
		if len(result.Failed) > 0 {
			fmt.Fprintf(r.out, "Lines without an entry: %s\n", strings.Join(result.Failed, ", "))
		}
		return true, err

	case "delete":
		result, err := r.manager.Delete(ctx, r.importID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Import %s deleted: %d entries unreconciled\n", r.importID, len(result.Unreconciled))
		return true, nil

	case "quit", "exit":
		return true, r.leave(ctx)

	default:
		return false, fmt.Errorf("unknown command %q, type help", command)
	}
}

// leave discards an import that was never saved so its auto-matches are released
func (r *reviewer) leave(ctx context.Context) error {
	view, err := r.manager.Session(r.importID)
	if err != nil || view.Persisted {
		return nil
	}
	if _, err := r.manager.Delete(ctx, r.importID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Import %s was not confirmed and has been discarded\n", r.importID)
	return nil
}

func (r *reviewer) listOpen() error {
	view, err := r.manager.Session(r.importID)
	if err != nil {
		return err
	}

	open := view.UnreconciledLines()
	if len(open) == 0 {
		fmt.Fprintln(r.out, "All lines reconciled")
		return nil
	}
	for _, l := range open {
		amount := l.Amount.StringFixed(2)
		if l.Direction == models.DirectionDebit {
			amount = "-" + amount
		}
		fmt.Fprintf(r.out, "%s  %s  %10s  %s\n", l.ID, l.Date.Format(models.DateLayout), amount, l.Description)
	}
	return nil
}

func (r *reviewer) showCandidates(ctx context.Context, lineID string) error {
	entries, err := r.manager.Candidates(ctx, r.importID, lineID)
	if err != nil {
		return err
	}
	view, err := r.manager.Session(r.importID)
	if err != nil {
		return err
	}
	line, _ := view.Line(lineID)

	r.candidates[lineID] = entries
	return r.reports.GenerateCandidates(line, entries, r.out)
}

// resolveEntry turns "#n" into the n-th entry of the last candidates list
func (r *reviewer) resolveEntry(lineID, ref string) (string, error) {
	if !strings.HasPrefix(ref, "#") {
		return ref, nil
	}

	n, err := strconv.Atoi(ref[1:])
	if err != nil {
		return "", fmt.Errorf("invalid candidate number %q", ref)
	}
	list, ok := r.candidates[lineID]
	if !ok {
		return "", fmt.Errorf("run 'candidates %s' first", lineID)
	}
	if n < 1 || n > len(list) {
		return "", fmt.Errorf("candidate %d out of range (1-%d)", n, len(list))
	}
	return list[n-1].ID, nil
}

func (r *reviewer) printError(err error) {
	if re, ok := errors.AsReconcilerError(err); ok {
		fmt.Fprintf(r.out, "error: %s\n", re.Message)
		if re.Suggestion != "" {
			fmt.Fprintf(r.out, "  suggestion: %s\n", re.Suggestion)
		}
		return
	}
	fmt.Fprintf(r.out, "error: %v\n", err)
}

// parseLineID accepts "L0007", "l0007" or "7"
func parseLineID(s string) string {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return models.FormatLineID(n)
	}
	return strings.ToUpper(s)
}

func progressText(imp *models.StatementImport) string {
	return fmt.Sprintf("%d/%d reconciled, %s", imp.ReconciledCount, imp.TotalMovements, imp.Status)
}
