package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/beam-cloud/clipsplit/pkg/metrics"
	"github.com/beam-cloud/clipsplit/pkg/split"
	"github.com/beam-cloud/clipsplit/pkg/storage"
	"github.com/dustin/go-humanize"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	defaultJobs          = 1
	defaultMaxInflateMiB = 1024
	clipExtension        = ".clip"
)

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if level := os.Getenv("CLIPSPLIT_LOG_LEVEL"); level != "" {
		if err := split.SetLogLevel(level); err != nil {
			log.Warn().Err(err).Msg("ignoring CLIPSPLIT_LOG_LEVEL")
		}
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	// A bare flag list behaves like extract.
	if strings.HasPrefix(command, "-") && command != "-h" && command != "--help" {
		command, args = "extract", os.Args[1:]
	}

	var err error
	switch command {
	case "extract":
		err = extractCommand(ctx, args)
	case "list":
		err = listCommand(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		stop()
		log.Fatal().Err(err).Msgf("%s failed", command)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `clipsplit - split CLIP STUDIO .clip containers into their parts

Usage:
  clipsplit <command> [options]
  clipsplit -c <file.clip> [options]

Commands:
  extract      Write the header, database and external assets of a container
  list         Print what extract would write, without writing anything

Examples:
  # Extract next to the input (creates ./drawing/)
  clipsplit extract -c drawing.clip

  # Split external assets into per-tile block payloads
  clipsplit extract -c drawing.clip --blockdata -d /tmp/out

  # Extract every .clip under a directory, four at a time
  clipsplit extract -c ~/Art --jobs 4 --metrics

  # Upload the parts to S3 under exports/drawing/
  clipsplit extract -c drawing.clip --sink s3 --bucket art --prefix exports

  # List the parts with sizes and digests
  clipsplit list -c drawing.clip

Environment Variables:
  CLIPSPLIT_LOG_LEVEL        Log level (debug, info, warn, error, disabled)
  CLIPSPLIT_JOBS             Concurrent extractions in batch mode (default: 1)
  CLIPSPLIT_MAX_INFLATE_MIB  Largest inflated payload in MiB (default: 1024)
  AWS_REGION                 Region for the s3 sink
  AWS_ACCESS_KEY_ID          Credentials for the s3 sink
  AWS_SECRET_ACCESS_KEY

`)
}

type commandFlags struct {
	clip          string
	dir           string
	verbose       bool
	blockData     bool
	sink          string
	bucket        string
	prefix        string
	endpoint      string
	region        string
	jobs          int
	maxInflateMiB int
	metrics       bool
}

func newFlagSet(name string, f *commandFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&f.clip, "clip", "c", "", "Path to a .clip file or a directory of them (required)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Verbose logging")
	fs.BoolVar(&f.blockData, "blockdata", false, "Split external assets into block-data tiles")
	fs.IntVar(&f.maxInflateMiB, "max-inflate-mib", getEnvInt("CLIPSPLIT_MAX_INFLATE_MIB", defaultMaxInflateMiB), "Largest inflated payload in MiB")

	if name == "extract" {
		fs.StringVarP(&f.dir, "dir", "d", "", "Output parent directory (default: next to the input)")
		fs.StringVar(&f.sink, "sink", string(storage.SinkModeLocal), "Output sink (local, s3)")
		fs.StringVar(&f.bucket, "bucket", "", "S3 bucket for the s3 sink")
		fs.StringVar(&f.prefix, "prefix", "", "S3 key prefix for the s3 sink")
		fs.StringVar(&f.endpoint, "endpoint", "", "S3 endpoint URL for the s3 sink")
		fs.StringVar(&f.region, "region", getEnvString("AWS_REGION", ""), "S3 region for the s3 sink")
		fs.IntVar(&f.jobs, "jobs", getEnvInt("CLIPSPLIT_JOBS", defaultJobs), "Concurrent extractions in batch mode")
		fs.BoolVar(&f.metrics, "metrics", false, "Print extraction metrics as JSON when done")
	}
	return fs
}

func parseFlags(name string, args []string) (*commandFlags, error) {
	f := &commandFlags{}
	fs := newFlagSet(name, f)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.clip == "" {
		fmt.Fprintf(os.Stderr, "Error: --clip is required\n\n")
		fs.PrintDefaults()
		return nil, fmt.Errorf("missing --clip")
	}
	if f.sink == string(storage.SinkModeS3) && f.bucket == "" {
		return nil, fmt.Errorf("--bucket is required with --sink s3")
	}
	if f.jobs < 1 {
		f.jobs = 1
	}
	if f.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return f, nil
}

func (f *commandFlags) extractOptions(input string, m *metrics.Metrics) split.ExtractOptions {
	return split.ExtractOptions{
		InputFile:      input,
		BlockData:      f.blockData,
		Verbose:        f.verbose,
		Metrics:        m,
		MaxInflateSize: int64(f.maxInflateMiB) << 20,
	}
}

func extractCommand(ctx context.Context, args []string) error {
	f, err := parseFlags("extract", args)
	if err != nil {
		return err
	}

	inputs, err := findInputs(f.clip)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no %s files found under %s", clipExtension, f.clip)
	}

	jobs, err := planJobs(f, inputs)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.jobs)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return extractOne(ctx, f, job, m)
		})
	}
	err = g.Wait()

	metrics.LogMetricsSummary(m)
	log.Info().Msgf("processed %d archive(s) in %s", len(jobs), time.Since(start).Round(time.Millisecond))

	if f.metrics {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if encErr := encoder.Encode(m.GetPrometheusMetrics()); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

// extractJob is one input and where its parts go: a local directory or,
// for the s3 sink, a key prefix.
type extractJob struct {
	input  string
	output string
}

// planJobs assigns every input its own output. When --clip is a directory,
// an input's path relative to it is kept under --dir and --prefix, so
// same-named files in different folders do not meet. Any two inputs that
// still map to the same output are rejected before anything is written.
func planJobs(f *commandFlags, inputs []string) ([]extractJob, error) {
	info, err := os.Stat(f.clip)
	if err != nil {
		return nil, err
	}

	jobs := make([]extractJob, 0, len(inputs))
	claimed := make(map[string]string, len(inputs))
	for _, input := range inputs {
		basename, err := split.Basename(input)
		if err != nil {
			return nil, err
		}

		sub := ""
		if info.IsDir() {
			if sub, err = filepath.Rel(f.clip, filepath.Dir(input)); err != nil {
				return nil, err
			}
		}

		job := extractJob{input: input}
		switch storage.SinkMode(f.sink) {
		case storage.SinkModeLocal, "":
			if f.dir == "" {
				job.output = filepath.Join(filepath.Dir(input), basename)
			} else {
				job.output = filepath.Join(f.dir, sub, basename)
			}
		default:
			job.output = path.Join(f.prefix, filepath.ToSlash(sub), basename)
		}

		if other, ok := claimed[job.output]; ok {
			return nil, fmt.Errorf("%s and %s would both extract to %s", other, input, job.output)
		}
		claimed[job.output] = input
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func extractOne(ctx context.Context, f *commandFlags, job extractJob, m *metrics.Metrics) error {
	options := f.extractOptions(job.input, m)

	switch storage.SinkMode(f.sink) {
	case storage.SinkModeLocal, "":
		options.OutputPath = job.output
	default:
		sink, err := storage.NewSink(ctx, storage.SinkOpts{
			Mode: storage.SinkMode(f.sink),
			S3: storage.S3SinkOpts{
				Bucket:         f.bucket,
				Prefix:         job.output,
				Region:         f.region,
				Endpoint:       f.endpoint,
				ForcePathStyle: f.endpoint != "",
			},
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		options.Sink = sink
		options.OutputPath = fmt.Sprintf("s3://%s/%s", f.bucket, job.output)
	}

	result, err := split.ExtractArchive(ctx, options)
	if err != nil {
		return err
	}
	log.Info().Msgf("%s: %d file(s) written to %s", filepath.Base(job.input), len(result.Files), result.OutputPath)
	return nil
}

func listCommand(ctx context.Context, args []string) error {
	f, err := parseFlags("list", args)
	if err != nil {
		return err
	}

	inputs, err := findInputs(f.clip)
	if err != nil {
		return err
	}

	for _, input := range inputs {
		entries, err := split.ListArchive(ctx, f.extractOptions(input, nil))
		if err != nil {
			return err
		}

		fmt.Printf("%s:\n", input)
		var total int64
		for _, e := range entries {
			fmt.Printf("  %-40s %10s  %016x\n", e.Name, humanize.IBytes(uint64(e.Size)), e.Digest)
			total += e.Size
		}
		fmt.Printf("  %d file(s), %s\n", len(entries), humanize.IBytes(uint64(total)))
	}
	return nil
}

// findInputs returns root itself when it is a file, otherwise every .clip
// file below it in lexical order.
func findInputs(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var inputs []string
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsRegular() && strings.EqualFold(filepath.Ext(osPathname), clipExtension) {
				inputs = append(inputs, osPathname)
			}
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Msgf("skipping unreadable path: %s", osPathname)
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", root, err)
	}
	return inputs, nil
}

// Helper functions

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
