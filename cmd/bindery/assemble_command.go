package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"bindery/internal/book"
	"bindery/internal/config"
	"bindery/internal/job"
	"bindery/internal/logging"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/pipeline"
	"bindery/internal/registry"
)

func newAssembleCommand(cmdCtx *commandContext) *cobra.Command {
	var (
		titleFlag      string
		authorFlag     string
		seriesFlag     string
		bookNumberFlag int
		coverFlag      string
		outputFlag     string
		presetFlag     string
		bitRateFlag    int
		sampleRateFlag int
		workersFlag    int
		noMetadataFlag bool
	)

	cmd := &cobra.Command{
		Use:   "assemble <book-dir> [book-dir...]",
		Short: "Assemble one or more book directories into M4B audiobooks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if titleFlag != "" && len(args) > 1 {
				return fmt.Errorf("--title applies to a single book directory")
			}

			return cmdCtx.withRegistry(func(cfg *config.Config, reg *registry.Registry) error {
				q, err := resolveQuality(cfg, presetFlag, bitRateFlag, sampleRateFlag)
				if err != nil {
					return err
				}

				workers := cfg.EffectiveWorkers()
				if workersFlag > 0 {
					workers = workersFlag
				}
				metadata := cfg.Processing.MetadataEnabled && !noMetadataFlag

				jobs := make([]*job.Job, 0, len(args))
				for _, dir := range args {
					overrides := book.Book{
						Title:      titleFlag,
						Author:     authorFlag,
						Series:     seriesFlag,
						BookNumber: bookNumberFlag,
						CoverPath:  coverFlag,
					}
					b, err := book.FromDirectory(dir, overrides)
					if err != nil {
						return err
					}

					output := outputFlag
					if output == "" {
						output = filepath.Join(cfg.Paths.OutputDir, b.DefaultFileName())
					} else if len(args) > 1 {
						output = filepath.Join(outputFlag, b.DefaultFileName())
					}
					jobs = append(jobs, job.New(*b, q, output, workers, metadata))
				}

				logger, err := cmdCtx.ensureLogger()
				if err != nil {
					return err
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				enc := ffmpeg.NewCLI(ffmpeg.WithBinaries(cfg.Processing.FFmpegBinary, cfg.Processing.FFprobeBinary))
				p := pipeline.New(enc, reg, logger)

				titles := make(map[string]string, len(jobs))
				handles := make([]registry.Handle, 0, len(jobs))
				for _, j := range jobs {
					h, err := reg.Submit(runCtx, j)
					if err != nil {
						return err
					}
					titles[j.ID.String()] = j.Book.Title
					handles = append(handles, h)
				}

				reports, cancelSub := reg.Subscribe()
				renderDone := make(chan struct{})
				go func() {
					defer close(renderDone)
					renderProgress(cmd.OutOrStdout(), reports, titles)
				}()

				var wg sync.WaitGroup
				errs := make([]error, len(jobs))
				for i := range jobs {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						errs[i] = p.Assemble(runCtx, jobs[i], handles[i])
					}(i)
				}
				wg.Wait()
				cancelSub()
				<-renderDone

				var failed int
				for i, err := range errs {
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", jobs[i].Book.Title, err)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d books failed", failed, len(jobs))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&titleFlag, "title", "", "Book title (default: directory name)")
	cmd.Flags().StringVar(&authorFlag, "author", "", "Author name written into tags")
	cmd.Flags().StringVar(&seriesFlag, "series", "", "Series name written into tags")
	cmd.Flags().IntVar(&bookNumberFlag, "book-number", 0, "Position within the series")
	cmd.Flags().StringVar(&coverFlag, "cover", "", "Cover image path (default: first image in the directory)")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file, or directory when assembling multiple books")
	cmd.Flags().StringVar(&presetFlag, "preset", "", "Quality preset (Best, Efficient)")
	cmd.Flags().IntVar(&bitRateFlag, "bit-rate", 0, "Explicit bit rate in bits per second")
	cmd.Flags().IntVar(&sampleRateFlag, "sample-rate", 0, "Explicit sample rate in Hz")
	cmd.Flags().IntVar(&workersFlag, "workers", 0, "Parallel conversion workers per book")
	cmd.Flags().BoolVar(&noMetadataFlag, "no-metadata", false, "Skip tag and cover writing")

	return cmd
}

// renderProgress prints sampled progress lines until the report channel
// closes. On a terminal every bucket crossing is shown; otherwise only stage
// changes and terminal outcomes are printed.
func renderProgress(w io.Writer, reports <-chan job.Report, titles map[string]string) {
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	samplers := make(map[string]*logging.ProgressSampler)

	for report := range reports {
		id := report.JobID.String()
		title := titles[id]
		if title == "" {
			title = id[:8]
		}

		switch report.Status {
		case job.StatusCompleted:
			fmt.Fprintf(w, "%s: done\n", title)
		case job.StatusError:
			fmt.Fprintf(w, "%s: failed (%v)\n", title, report.Err)
		default:
			sampler, ok := samplers[id]
			if !ok {
				bucket := 25.0
				if interactive {
					bucket = 5.0
				}
				sampler = logging.NewProgressSampler(bucket)
				samplers[id] = sampler
			}
			if sampler.ShouldLog(float64(report.Percent()), report.Stage) {
				fmt.Fprintf(w, "%s: %3d%% %s\n", title, report.Percent(), report.Stage)
			}
		}
	}
}
