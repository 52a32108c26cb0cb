// Package cli implements the diagctl bench tool. It drives the diagnostic
// pipeline in-process, which keeps the tool usable against both a live
// postgres deployment and an in-memory bench setup.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diagworks/diagcore/internal/config"
	"github.com/diagworks/diagcore/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config

	actorID   string
	actorRole string
)

var rootCmd = &cobra.Command{
	Use:   "diagctl",
	Short: "Vehicle diagnostic bench tool",
	Long: `diagctl drives the safety-gated diagnostic pipeline from the terminal.

Route diagnostic commands through the capability matrix, manage admin
overrides, seed bench data, and inspect or export forensic sessions.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "bench", "acting user id")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", "admin", "acting role: admin, technician, viewer")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load config: %v\n", err)
		cfg, _ = config.Load("")
	}
	// Bench output goes to stdout; keep log noise down.
	logging.SetDefault(logging.New(logging.ParseLevel("warn"), "text"))
}
