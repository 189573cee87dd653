package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives the extracted streams of one container.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	Close() error
}

type SinkMode string

const (
	SinkModeLocal SinkMode = "local"
	SinkModeS3    SinkMode = "s3"
)

type SinkOpts struct {
	Mode       SinkMode
	OutputPath string // directory for local sinks
	S3         S3SinkOpts
	Logger     *zerolog.Logger // defaults to the global logger
}

func NewSink(ctx context.Context, opts SinkOpts) (Sink, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	switch opts.Mode {
	case SinkModeLocal, "":
		return NewLocalSink(opts.OutputPath, logger)
	case SinkModeS3:
		return NewS3Sink(ctx, opts.S3, logger)
	default:
		return nil, fmt.Errorf("unsupported sink mode: %s", opts.Mode)
	}
}
