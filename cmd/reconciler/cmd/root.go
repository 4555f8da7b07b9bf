package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-reconciler/cmd/reconciler/config"
	"statement-reconciler/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Bank statement reconciliation tool",
	Long: `Reconciler imports bank statements (OFX, or PDF through Gemini) and
reconciles their movements against a ledger. Each import is auto-matched,
reviewed line by line, then confirmed or deleted.

The ledger lives in a SQLite database chosen with --db. Settings can also be
given in a config file (--config), in RECONCILER_* environment variables or
in a .env file in the working directory.

Examples:
  reconciler account add --id acc-1 --name "Checking" --branch 0123 --number 12345-6
  reconciler ledger seed ledger.csv --account acc-1
  reconciler import extrato.ofx --account acc-1 --month 2 --year 2024
  reconciler review extrato.ofx --account acc-1 --month 2 --year 2024
  reconciler imports list --account acc-1`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. The
// returned exit code is 0 on success.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().String("db", "reconciler.db", "SQLite ledger database (\":memory:\" for a throwaway ledger)")

	// Matching flags apply to every command that starts an import
	rootCmd.PersistentFlags().Int("date-tolerance", 5, "days searched on each side of a movement")
	rootCmd.PersistentFlags().String("amount-epsilon", "0.005", "largest amount difference still treated as equal")
	rootCmd.PersistentFlags().String("tie-break", "closest-date", "candidate order: closest-date, pool-order")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("matching.date_tolerance_days", rootCmd.PersistentFlags().Lookup("date-tolerance"))
	viper.BindPFlag("matching.amount_epsilon", rootCmd.PersistentFlags().Lookup("amount-epsilon"))
	viper.BindPFlag("matching.tie_break", rootCmd.PersistentFlags().Lookup("tie-break"))

	viper.SetDefault("gemini.model", "")
	viper.SetDefault("gemini.timeout", "2m")
	viper.SetDefault("archive.timeout", "30s")
}

// initConfig reads in .env, the config file and ENV variables.
func initConfig() {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error reading .env file: %s\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// RECONCILER_GEMINI_API_KEY -> gemini.api_key
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := setupLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %s\n", err)
		os.Exit(4)
	}
}

func setupLogger() error {
	logConfig, err := config.CreateLoggerConfig(
		viper.GetString("log.level"),
		viper.GetString("log.format"),
		viper.GetBool("verbose"),
	)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
