package split

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/beam-cloud/clipsplit/pkg/metrics"
	"github.com/beam-cloud/clipsplit/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel configures the global logging verbosity.
// Valid levels: "debug", "info", "warn", "error", "disabled"
// Use "debug" to see every chunk and block record as it is parsed
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}

type ExtractOptions struct {
	InputFile  string
	OutputPath string // defaults to DefaultOutputPath(InputFile, "")
	BlockData  bool
	Verbose    bool

	// Sink overrides the local directory sink. The caller keeps ownership
	// and must close it.
	Sink           storage.Sink
	Metrics        *metrics.Metrics
	MaxInflateSize int64
	Logger         *zerolog.Logger
}

type Result struct {
	OutputPath string
	Files      []string
	Chunks     int
}

func (o ExtractOptions) logger(basename string) zerolog.Logger {
	logger := log.Logger
	if o.Logger != nil {
		logger = *o.Logger
	}
	if o.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logger.With().Str("archive", basename).Logger()
}

// Basename is the input's file name without its extension. Inputs without
// an extension are rejected.
func Basename(inputFile string) (string, error) {
	name := filepath.Base(inputFile)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" || base == "" {
		return "", fmt.Errorf("%w: %s", common.ErrNoExtension, inputFile)
	}
	return base, nil
}

// DefaultOutputPath names the output directory after the input. With an
// empty dir it sits next to the input file.
func DefaultOutputPath(inputFile, dir string) (string, error) {
	base, err := Basename(inputFile)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = filepath.Dir(inputFile)
	}
	return filepath.Join(dir, base), nil
}

// ExtractArchive splits one container. Files written before a fatal error
// are left in place.
func ExtractArchive(ctx context.Context, options ExtractOptions) (*Result, error) {
	return splitArchive(ctx, options, false)
}

// ListArchive walks a container like ExtractArchive but writes nothing,
// returning what would be extracted in name order.
func ListArchive(ctx context.Context, options ExtractOptions) ([]storage.ManifestEntry, error) {
	manifest := storage.NewManifestSink(nil)
	options.Sink = manifest
	if options.OutputPath == "" {
		options.OutputPath = "-"
	}

	if _, err := splitArchive(ctx, options, true); err != nil {
		return nil, err
	}
	return manifest.Entries(), nil
}

func splitArchive(ctx context.Context, options ExtractOptions, listing bool) (result *Result, err error) {
	basename, err := Basename(options.InputFile)
	if err != nil {
		return nil, err
	}
	logger := options.logger(basename)

	if options.OutputPath == "" {
		if options.OutputPath, err = DefaultOutputPath(options.InputFile, ""); err != nil {
			return nil, err
		}
	}
	if options.Metrics == nil {
		options.Metrics = metrics.NewMetrics()
	}

	if listing {
		logger.Info().Msgf("listing archive: %s", options.InputFile)
	} else {
		logger.Info().Msgf("extracting archive: %s", options.InputFile)
	}

	file, err := os.Open(options.InputFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sink := options.Sink
	if sink == nil {
		local, sinkErr := storage.NewLocalSink(options.OutputPath, logger)
		if sinkErr != nil {
			return nil, sinkErr
		}
		defer func() {
			if closeErr := local.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		sink = local
	}

	splitter := NewClipSplitter(ClipSplitterOptions{
		Basename:       basename,
		BlockData:      options.BlockData,
		Sink:           sink,
		Metrics:        options.Metrics,
		MaxInflateSize: options.MaxInflateSize,
		Logger:         logger,
	})

	err = splitter.Split(ctx, file)
	result = &Result{
		OutputPath: options.OutputPath,
		Files:      splitter.Files(),
		Chunks:     splitter.Chunks(),
	}
	if err != nil {
		if listing {
			return result, fmt.Errorf("failed to list %s: %w", options.InputFile, err)
		}
		return result, fmt.Errorf("failed to extract %s: %w", options.InputFile, err)
	}

	if listing {
		logger.Info().Int("files", len(result.Files)).Msg("archive listed successfully")
		return result, nil
	}

	options.Metrics.RecordArchive()
	logger.Info().Int("files", len(result.Files)).Msg("archive extracted successfully")
	return result, nil
}
