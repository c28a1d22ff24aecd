// Command repairbot answers device repair questions from the iFixit
// directory, falling back to web search, over HTTP or in the terminal.
package main

import (
	"fmt"
	"os"

	"repairbot/internal/config"
	"repairbot/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded by PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "repairbot",
	Short: "Repair assistant backed by iFixit guides",
	Long: `repairbot answers repair questions. Official iFixit guides are
preferred; when the directory has nothing relevant the answer is built from
web search results and labelled as unofficial.

Run "repairbot serve" for the HTTP API or "repairbot chat" for the terminal UI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		opts := loaded.Logging.Options()
		if verbose {
			opts.Level = "debug"
		}
		// Full-screen and streaming commands own the terminal.
		opts.Quiet = cmd.Annotations[annotationQuiet] == "true"
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

const annotationQuiet = "quiet-logs"

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "repairbot.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		serveCmd,
		askCmd,
		chatCmd,
		historyCmd,
		usageCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
