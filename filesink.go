package soap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultAuditDir is where NewClient stores audit files when no sink is configured.
const DefaultAuditDir = "logs"

// FileSink writes each artifact as a file in a single directory. Files are
// created exclusively, so an existing artifact is never overwritten.
type FileSink struct {
	dir      string
	dirPerm  fs.FileMode
	filePerm fs.FileMode
}

// NewFileSink returns a sink rooted at dir. The directory is created on first use.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, dirPerm: 0o755, filePerm: 0o644}
}

// Dir returns the directory artifacts are written to.
func (s *FileSink) Dir() string { return s.dir }

// Open ensures the directory exists.
func (s *FileSink) Open(_ context.Context, _ string) (SinkWriter, error) {
	if err := os.MkdirAll(s.dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &fileWriter{sink: s}, nil
}

type fileWriter struct {
	sink *FileSink
}

func (w *fileWriter) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("artifact name %q contains a path", name)
	}
	path := filepath.Join(w.sink.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, w.sink.filePerm)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrArtifactExists, path)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (w *fileWriter) Close() error { return nil }
