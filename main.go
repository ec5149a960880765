package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	code := 0
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		CaptureError(err)
		code = 1
	}
	FlushAndShutdown()
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:   "pgted",
	Short: "pgted stages table edits and compiles them to SQL",
	Long: `pgted stages row edits and schema changes for a table, previews the SQL
they compile to, and commits them in order.

Examples:
  pgted columns mydb public.users
  pgted apply mydb plan.yaml --dry-run
  pgted exec mydb -c "select * from users where name = 'eric'"`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntimeSettings,
}

var (
	connectionFlags ConnectionFlags
	settings        = defaultSettings()
)

func init() {
	rootCmd.PersistentFlags().BoolP("help", "", false, "help for pgted")
	rootCmd.PersistentFlags().StringVarP(&connectionFlags.Database, "database", "d", "", "Database name")
	rootCmd.PersistentFlags().StringVarP(&connectionFlags.Host, "host", "h", "", "Database host")
	rootCmd.PersistentFlags().StringVarP(&connectionFlags.Port, "port", "p", "", "Database port")
	rootCmd.PersistentFlags().StringVarP(&connectionFlags.Username, "username", "U", "", "Database username")
	rootCmd.PersistentFlags().StringVarP(&connectionFlags.Password, "password", "W", "", "Database password")
}

func loadRuntimeSettings(cmd *cobra.Command, args []string) error {
	loaded, err := LoadSettings()
	if err != nil {
		return fmt.Errorf("error loading settings: %w", err)
	}
	settings = loaded
	setupTelemetry(settings)
	return nil
}
