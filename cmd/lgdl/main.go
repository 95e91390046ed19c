// Command lgdl runs a compiled game locally and inspects stored
// conversations.
package main

import (
	"log"

	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "lgdl",
		Short: "Run and inspect LGDL dialogue games",
		Long:  `lgdl drives a compiled LGDL game from the terminal and manages the conversation store it writes to.`,
	}
	gamePath string
	dbPath   string
	verbose  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gamePath, "game", "", "path to the compiled game (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "conversation database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show engine logs")

	rootCmd.AddCommand(chatCmd, historyCmd, cleanupCmd)
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if gamePath != "" {
		cfg.GamePath = gamePath
	}
	if dbPath != "" {
		cfg.StateDBPath = dbPath
	}
	return cfg, nil
}
