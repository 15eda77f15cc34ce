package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tokenScope/internal/model"
)

var _ EventSink = (*JsonlStorage)(nil)

// JsonlStorage appends events and decode errors to JSONL files.
type JsonlStorage struct {
	path       string
	errorsPath string
	mu         sync.Mutex
}

// NewJsonlStorage writes events to path and decode errors next to it.
func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path, errorsPath: ErrorsPath(path)}
}

// ErrorsPath derives the decode error file from the events file,
// events.jsonl -> events.errors.jsonl.
func ErrorsPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + ".errors.jsonl"
	}
	return strings.TrimSuffix(path, ext) + ".errors" + ext
}

// retraction marks an event that a reorg removed after it was written.
type retraction struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint64 `json:"log_index"`
	Removed  bool   `json:"removed"`
}

// PutEvents appends events as JSON lines.
func (s *JsonlStorage) PutEvents(_ context.Context, events []model.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]any, len(events))
	for i := range events {
		records[i] = events[i]
	}
	return s.appendLines(s.path, records)
}

// RemoveEvents appends a retraction line per key; the file stays append-only.
func (s *JsonlStorage) RemoveEvents(_ context.Context, keys []model.EventKey) error {
	if len(keys) == 0 {
		return nil
	}
	records := make([]any, len(keys))
	for i, key := range keys {
		records[i] = retraction{TxHash: key.TxHash, LogIndex: key.LogIndex, Removed: true}
	}
	return s.appendLines(s.path, records)
}

// PutDecodeErrors appends decode failures as JSON lines.
func (s *JsonlStorage) PutDecodeErrors(errs []model.DecodeError) error {
	if len(errs) == 0 {
		return nil
	}
	records := make([]any, len(errs))
	for i := range errs {
		records[i] = errs[i]
	}
	return s.appendLines(s.errorsPath, records)
}

func (s *JsonlStorage) appendLines(path string, records []any) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

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
