package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

// File reads newline delimited events from a file. With Follow set it
// keeps polling for appended lines, otherwise it stops at EOF.
type File struct {
	Path string
	// FromEnd skips what is already in the file.
	FromEnd      bool
	Follow       bool
	PollInterval time.Duration

	clock  clock.Clock
	logger *zap.Logger
	file   *os.File
}

// NewFile opens path.
func NewFile(path string, follow bool, logger *zap.Logger) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{
		Path:         path,
		Follow:       follow,
		PollInterval: 500 * time.Millisecond,
		clock:        clock.New(),
		logger:       logger.Named("file"),
		file:         f,
	}, nil
}

// Start reads the file in the background.
func (fs *File) Start(ctx context.Context, out chan<- types.RawEvent) error {
	if fs.FromEnd {
		if _, err := fs.file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seeking %s: %w", fs.Path, err)
		}
	}

	go func() {
		defer close(out)
		reader := bufio.NewReader(fs.file)
		var partial string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				// keep an unterminated tail until the rest arrives
				partial += line
				if err != io.EOF {
					fs.logger.Error("read failed", zap.String("path", fs.Path), zap.Error(err))
					return
				}
				if !fs.Follow {
					fs.emit(ctx, out, partial)
					return
				}
				select {
				case <-ctx.Done():
					fs.logger.Info("file source stopped", zap.String("path", fs.Path))
					return
				case <-fs.clock.After(fs.PollInterval):
					continue
				}
			}

			if !fs.emit(ctx, out, partial+line) {
				return
			}
			partial = ""
		}
	}()
	return nil
}

func (fs *File) emit(ctx context.Context, out chan<- types.RawEvent, line string) bool {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if line == "" {
		return true
	}
	select {
	case out <- types.RawEvent{
		Timestamp: fs.clock.Now().UTC(),
		Source:    fs.Path,
		Line:      line,
	}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close closes the file.
func (fs *File) Close() error {
	return fs.file.Close()
}
