package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalSink writes each stream as a file in one directory. The directory is
// locked for the lifetime of the sink so two extractions cannot interleave
// their output.
type LocalSink struct {
	dir          string
	lockFilePath string
	fileLock     *flock.Flock
	logger       zerolog.Logger
}

func NewLocalSink(dir string, logger zerolog.Logger) (*LocalSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output path cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	lockFilePath := fmt.Sprintf("%s.lock", filepath.Clean(dir))
	fileLock := flock.New(lockFilePath)

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("error while trying to acquire lock %s: %w", lockFilePath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", common.ErrOutputLocked, dir)
	}

	return &LocalSink{
		dir:          dir,
		lockFilePath: lockFilePath,
		fileLock:     fileLock,
		logger:       logger,
	}, nil
}

func (s *LocalSink) Dir() string {
	return s.dir
}

// Put writes data to a temporary file and renames it into place, so a
// reader never observes a half-written stream.
func (s *LocalSink) Put(ctx context.Context, name string, data []byte) error {
	if err := common.ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.dir, name)
	tmpFile := filepath.Join(s.dir, fmt.Sprintf(".%s.%s", name, uuid.New().String()[:6]))

	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}
	if err := os.Rename(tmpFile, target); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}

	s.logger.Debug().Str("path", target).Int("bytes", len(data)).Msg("wrote file")
	return nil
}

func (s *LocalSink) Close() error {
	defer os.Remove(s.lockFilePath)
	return s.fileLock.Unlock()
}
