package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nao1215/dysdera/internal/model"
)

// maxLineBytes bounds a single JSONL line when reading.
const maxLineBytes = 64 * 1024 * 1024

// JSONL appends records to a line-delimited JSON file.
//
// The file is append-only, so saving a record twice writes two lines.
// Readers resolve the upsert by keeping the last line for each URL, which
// ReadJSONL does.
type JSONL struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// OpenJSONL opens path for appending, creating it and its directory.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return &JSONL{file: f, w: bufio.NewWriter(f)}, nil
}

// Save implements Sink. Each record is written and flushed as one line.
func (j *JSONL) Save(_ context.Context, rec *model.ContentRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close implements Sink.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	flushErr := j.w.Flush()
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return flushErr
}

// ReadJSONL reads records written by JSONL. When a URL appears more than
// once the last line wins; records keep the order of their first line.
func ReadJSONL(r io.Reader) ([]*model.ContentRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	index := make(map[string]int)
	var out []*model.ContentRecord
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec model.ContentRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if i, ok := index[rec.URL]; ok {
			out[i] = &rec
			continue
		}
		index[rec.URL] = len(out)
		out = append(out, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}
