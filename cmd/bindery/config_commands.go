package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bindery/internal/config"
)

func newConfigCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage bindery configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var forceFlag bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if cmdCtx.configFlag != nil {
				path = strings.TrimSpace(*cmdCtx.configFlag)
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			} else {
				expanded, err := config.ExpandPath(path)
				if err != nil {
					return err
				}
				path = expanded
			}

			if _, err := os.Stat(path); err == nil && !forceFlag {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing configuration file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if cmdCtx.configFlag != nil {
				path = strings.TrimSpace(*cmdCtx.configFlag)
			}
			cfg, resolvedPath, exists, err := config.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(out, "config file: %s\n", resolvedPath)
			} else {
				fmt.Fprintf(out, "config file: %s (not found, using defaults)\n", resolvedPath)
			}
			fmt.Fprintf(out, "output dir:  %s\n", cfg.Paths.OutputDir)
			fmt.Fprintf(out, "data dir:    %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "log dir:     %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "workers:     %d (multithreading %v)\n", cfg.EffectiveWorkers(), cfg.Processing.Multithreading)
			fmt.Fprintf(out, "metadata:    %v\n", cfg.Processing.MetadataEnabled)
			fmt.Fprintf(out, "ffmpeg:      %s / %s\n", cfg.Processing.FFmpegBinary, cfg.Processing.FFprobeBinary)
			if cfg.Quality.BitRate > 0 && cfg.Quality.SampleRate > 0 {
				fmt.Fprintf(out, "quality:     %d bps, %d Hz\n", cfg.Quality.BitRate, cfg.Quality.SampleRate)
			} else {
				fmt.Fprintf(out, "quality:     preset %s\n", cfg.Quality.Preset)
			}
			fmt.Fprintf(out, "logging:     %s at %s\n", cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	})

	return cmd
}
