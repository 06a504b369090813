package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbxark/jobfill/config"
)

var (
	configPath string
	userID     string
)

var rootCmd = &cobra.Command{
	Use:           "jobfill",
	Short:         "Fill job application forms from a stored profile",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "profile user id (overrides profile.user_id)")
	rootCmd.AddCommand(runCmd(), schemaCmd(), profileCmd(), runsCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and installs the stderr logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		cfg.Profile.UserID = userID
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}
