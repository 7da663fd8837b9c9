package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"dexmirror/internal/model"
)

// maxRecordLine bounds one JSONL line; 10 MiB accounts encode to about 14 MiB.
const maxRecordLine = 16 << 20

// JsonlStorage appends records to JSONL files. Failures go to a separate file
// and are dropped when no failures path is set.
type JsonlStorage struct {
	path         string
	failuresPath string
	mu           sync.Mutex
}

var _ Storage = (*JsonlStorage)(nil)

func NewJsonlStorage(path, failuresPath string) *JsonlStorage {
	return &JsonlStorage{path: path, failuresPath: failuresPath}
}

// PutAccountBatch appends a batch of account records as JSON lines.
func (s *JsonlStorage) PutAccountBatch(_ context.Context, records []model.AccountRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(s.path, records)
}

// PutFailureBatch appends a batch of failure records as JSON lines.
func (s *JsonlStorage) PutFailureBatch(_ context.Context, records []model.FailureRecord) error {
	if len(records) == 0 || s.failuresPath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(s.failuresPath, records)
}

func appendLines[T any](path string, records []T) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// ReadAccountRecords parses account records from JSONL, one per line. Blank
// lines are skipped.
func ReadAccountRecords(r io.Reader) ([]model.AccountRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)

	var out []model.AccountRecord
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var rec model.AccountRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}
