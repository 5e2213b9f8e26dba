package diagnostics

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

const spillFilePerm = 0o600

// FileSink appends one JSON-encoded SpillRecord per line. Each record is
// written with a single write call and synced before Append returns.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileSink opens (or creates) path for appending. A torn final line
// left by an earlier crash is truncated so new records start on a line of
// their own.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("diagnostics: create spill dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_RDWR, spillFilePerm)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open spill file: %w", err)
	}
	if err := truncateTornTail(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("diagnostics: repair spill file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// truncateTornTail cuts f back to just after its last newline.
func truncateTornTail(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	end := fi.Size()
	if end == 0 {
		return nil
	}
	buf := make([]byte, 4096)
	for pos := end; pos > 0; {
		n := int64(len(buf))
		if pos < n {
			n = pos
		}
		pos -= n
		if _, err := f.ReadAt(buf[:n], pos); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			if keep := pos + int64(i) + 1; keep < end {
				return f.Truncate(keep)
			}
			return nil
		}
	}
	return f.Truncate(0)
}

// Path returns the spill file location.
func (s *FileSink) Path() string { return s.path }

// Append implements Sink.
func (s *FileSink) Append(ctx context.Context, rec SpillRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("diagnostics: encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("%w: file sink closed", ErrSinkUnavailable)
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadFile decodes every record in a spill file. A final line without a
// trailing newline that fails to decode is treated as a torn write and
// skipped; a bad line anywhere else is an error.
func ReadFile(path string) ([]SpillRecord, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []SpillRecord
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return out, err
		}
		complete := bytes.HasSuffix(line, []byte{'\n'})
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var rec SpillRecord
			if uerr := json.Unmarshal(line, &rec); uerr != nil {
				if !complete {
					return out, nil
				}
				return out, fmt.Errorf("diagnostics: %s line %d: %w", path, lineNo, uerr)
			}
			out = append(out, rec)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
	}
}

var _ Sink = (*FileSink)(nil)
