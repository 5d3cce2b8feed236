package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bindery/internal/book"
	"bindery/internal/estimate"
)

func newEstimateCommand(cmdCtx *commandContext) *cobra.Command {
	var presetFlag string
	var bitRateFlag int
	var sampleRateFlag int

	cmd := &cobra.Command{
		Use:   "estimate <book-dir> [book-dir...]",
		Short: "Predict output size and check free disk space",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			q, err := resolveQuality(cfg, presetFlag, bitRateFlag, sampleRateFlag)
			if err != nil {
				return err
			}

			var total int64
			for _, dir := range args {
				b, err := book.FromDirectory(dir, book.Book{})
				if err != nil {
					return err
				}
				sizes := make([]int64, 0, len(b.Sources))
				for _, src := range b.Sources {
					info, err := os.Stat(src)
					if err != nil {
						return fmt.Errorf("stat %s: %w", src, err)
					}
					sizes = append(sizes, info.Size())
				}
				predicted, err := estimate.Estimate(sizes, q.HighQuality())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d files)\n",
					b.Title, estimate.FormatSize(predicted), len(sizes))
				total += predicted
			}

			free, err := estimate.FreeSpace(cfg.Paths.OutputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %s, free in %s: %s\n",
				estimate.FormatSize(total), cfg.Paths.OutputDir, estimate.FormatSize(free))
			if free < total {
				return fmt.Errorf("not enough free space: need %s, have %s",
					estimate.FormatSize(total), estimate.FormatSize(free))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&presetFlag, "preset", "", "Quality preset (Best, Efficient)")
	cmd.Flags().IntVar(&bitRateFlag, "bit-rate", 0, "Explicit bit rate in bits per second")
	cmd.Flags().IntVar(&sampleRateFlag, "sample-rate", 0, "Explicit sample rate in Hz")

	return cmd
}
