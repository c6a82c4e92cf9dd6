package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/colemanliyah/lance/lexical/ngram"
	"github.com/colemanliyah/lance/resource"
	"github.com/colemanliyah/lance/stream/kafka"
)

type buildFlags struct {
	inputs         []string
	kafkaBrokers   []string
	kafkaTopic     string
	kafkaPartition int
	noProgress     bool
}

func newBuildCmd(a *app) *cobra.Command {
	f := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build NAME",
		Short: "Build an index from text files or a Kafka partition",
		Long: `Build an n-gram index and publish it under NAME in the store.

Text files are read one row per line; row ids number the lines of all
matched files in sorted path order. A Kafka partition is read from its
first retained offset up to the high-water mark.

Examples:
  lance-ngram build title.ngram --input 'data/**/*.txt'
  lance-ngram build title.ngram --kafka-brokers localhost:9092 --kafka-topic titles`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, a, f, args[0])
		},
	}
	cmd.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "input file glob (repeatable, supports **)")
	cmd.Flags().StringSliceVar(&f.kafkaBrokers, "kafka-brokers", nil, "Kafka brokers")
	cmd.Flags().StringVar(&f.kafkaTopic, "kafka-topic", "", "Kafka topic to index")
	cmd.Flags().IntVar(&f.kafkaPartition, "kafka-partition", 0, "Kafka partition to index")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable the progress bar")
	cmd.MarkFlagsMutuallyExclusive("input", "kafka-topic")
	return cmd
}

func runBuild(cmd *cobra.Command, a *app, f *buildFlags, name string) (err error) {
	ctx := cmd.Context()
	cfg := a.cfg

	if len(f.inputs) == 0 && f.kafkaTopic == "" {
		return errors.New("one of --input or --kafka-topic is required")
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); err == nil {
			err = cerr
		}
	}()

	rc := resource.NewController(resource.Config{
		MaxBackgroundWorkers: cfg.Build.BackgroundJobs,
		IOLimitBytesPerSec:   cfg.Build.IOLimit,
	})
	b, err := ngram.NewBuilder(store, a.buildOptions(ngram.WithResourceController(rc))...)
	if err != nil {
		return err
	}

	var stream ngram.BatchStream
	if f.kafkaTopic != "" {
		ks, err := kafka.Open(ctx, kafka.Config{
			Brokers:   f.kafkaBrokers,
			Topic:     f.kafkaTopic,
			Partition: f.kafkaPartition,
			BatchSize: cfg.Build.BatchSize,
			Logger:    a.logger.Logger,
		})
		if err != nil {
			return err
		}
		defer ks.Close()
		stream = ks
	} else {
		files, err := expandInputs(f.inputs)
		if err != nil {
			return err
		}
		ls := newLineStream(files, cfg.Build.BatchSize)
		defer ls.Close()
		if !f.noProgress {
			size, err := totalSize(files)
			if err != nil {
				return err
			}
			bar := newProgressBar(cmd, size)
			defer bar.Finish()
			ls.onRead = func(n int) { _ = bar.Add(n) }
		}
		stream = ls
	}

	log := a.logger.WithIndex(name)

	start := time.Now()
	spills, err := b.Train(ctx, stream)
	log.LogTrain(ctx, b.Stats().Rows, spills, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("train failed: %w", err)
	}

	err = b.WriteIndex(ctx, name)
	stats := b.Stats()
	log.LogWrite(ctx, name, stats.NGrams, stats.Bytes, err)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Index written: %s\n", name)
	fmt.Fprintf(out, "  Rows:     %d (%d null)\n", stats.Rows, stats.NullRows)
	fmt.Fprintf(out, "  Spills:   %d\n", stats.Spills)
	fmt.Fprintf(out, "  N-grams:  %d\n", stats.NGrams)
	fmt.Fprintf(out, "  Blocks:   %d\n", stats.Blocks)
	fmt.Fprintf(out, "  Bytes:    %d\n", stats.Bytes)
	fmt.Fprintf(out, "  Duration: %s\n", formatDuration(time.Since(start)))
	return nil
}

func newProgressBar(cmd *cobra.Command, size int64) *progressbar.ProgressBar {
	w := cmd.ErrOrStderr()
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
