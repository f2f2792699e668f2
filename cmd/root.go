package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/binky/internal/config"
	"github.com/MimeLyc/binky/pkg/log"
)

type rootOptions struct {
	dataDir  string
	logLevel string
}

// loadConfig reads the environment and applies the global flags.
func (o *rootOptions) loadConfig(extra ...config.Option) (*config.Config, error) {
	opts := append([]config.Option{config.WithDataDir(o.dataDir)}, extra...)
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, err
	}
	level := cfg.System.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	log.InitLogger(log.ParseLevel(level))
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "binky",
		Short:         "Transcribe, diarize and search the episodes of a podcast feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// stdout belongs to command output.
			log.SetOutput(os.Stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory for the database, settings and audio cache (overrides DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newSyncCommand(opts))
	rootCmd.AddCommand(newEpisodesCommand(opts))
	rootCmd.AddCommand(newTranscriptCommand(opts))
	rootCmd.AddCommand(newPruneCommand(opts))
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}
