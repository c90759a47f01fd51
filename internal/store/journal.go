package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
)

// SignalStore is the persistence surface the journal wraps.
type SignalStore interface {
	Save(ctx context.Context, sig signal.Signal) error
	MarkExecuted(ctx context.Context, id string, at time.Time) error
}

// Journal kinds.
const (
	EntrySaved    = "saved"
	EntryExecuted = "executed"
)

// JournalEntry is one JSON line of the journal.
type JournalEntry struct {
	Kind       string         `json:"kind"`
	Signal     *signal.Signal `json:"signal,omitempty"`
	SignalID   string         `json:"signal_id,omitempty"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
}

// Journal appends every stored signal and execution mark as JSON lines after delegating to next.
type Journal struct {
	next SignalStore
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJournal creates/opens the target file and returns a journal wrapping next.
func NewJournal(path string, next SignalStore) (*Journal, error) {
	if next == nil {
		return nil, fmt.Errorf("journal %s: nil signal store", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{next: next, file: file, enc: json.NewEncoder(file)}, nil
}

// Save stores sig in the wrapped store and journals it.
func (j *Journal) Save(ctx context.Context, sig signal.Signal) error {
	if err := j.next.Save(ctx, sig); err != nil {
		return err
	}
	return j.append(JournalEntry{Kind: EntrySaved, Signal: &sig})
}

// MarkExecuted marks the signal in the wrapped store and journals the mark.
func (j *Journal) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	if err := j.next.MarkExecuted(ctx, id, at); err != nil {
		return err
	}
	return j.append(JournalEntry{Kind: EntryExecuted, SignalID: id, ExecutedAt: &at})
}

func (j *Journal) append(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal closed")
	}
	return j.enc.Encode(entry)
}

// Close flushes and closes the file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// ReadJournal decodes every entry of the journal at path.
func ReadJournal(path string) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var out []JournalEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return out, fmt.Errorf("decode journal line %d: %w", len(out)+1, err)
		}
		out = append(out, entry)
	}
	return out, scanner.Err()
}
