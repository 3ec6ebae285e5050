package journal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transaction outcomes.
const (
	StatusSuccess  = "success"
	StatusReverted = "reverted"
)

// Entry records one submitted transaction.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Contract  string    `json:"contract"`
	Method    string    `json:"method"`
	From      string    `json:"from"`
	TxHash    string    `json:"tx_hash"`
	Status    string    `json:"status"`
	Block     uint64    `json:"block"`
	GasUsed   uint64    `json:"gas_used"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry fills in the id and timestamp.
func NewEntry(action, contract, method, from, txHash string) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Action:    action,
		Contract:  contract,
		Method:    method,
		From:      from,
		TxHash:    strings.ToLower(txHash),
		CreatedAt: time.Now().UTC(),
	}
}

// ErrNotFound is returned by Get for an unknown hash.
var ErrNotFound = stderrors.New("journal entry not found")

// Store abstracts journal persistence.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	// Get looks an entry up by transaction hash.
	Get(ctx context.Context, txHash string) (*Entry, error)
	// List returns the newest entries first.
	List(ctx context.Context, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// NopStore discards entries. Used when no journal is configured.
type NopStore struct{}

func (NopStore) Save(context.Context, Entry) error { return nil }

func (NopStore) Get(context.Context, string) (*Entry, error) { return nil, ErrNotFound }

func (NopStore) List(context.Context, int) ([]Entry, error) { return []Entry{}, nil }

func (NopStore) Ping(context.Context) error { return nil }

func (NopStore) Close() error { return nil }

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, txHash string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return find(m.entries, txHash)
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.entries, limit), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// FileStore keeps the journal in a file of JSON lines. Every Save appends
// one line and every read reloads the file, so separate processes sharing
// the path see each other's entries.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore checks that an existing file is readable.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if _, err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// load accepts JSON lines and also a leading JSON array, the layout older
// journals were written in.
func (f *FileStore) load() ([]Entry, error) {
	file, err := os.Open(f.path)
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	dec := json.NewDecoder(file)
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if stderrors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt journal %s: %w", f.path, err)
		}

		if raw[0] == '[' {
			var batch []Entry
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("corrupt journal %s: %w", f.path, err)
			}
			entries = append(entries, batch...)
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("corrupt journal %s: %w", f.path, err)
		}
		entries = append(entries, entry)
	}
}

// Save appends entry with a single O_APPEND write.
func (f *FileStore) Save(_ context.Context, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (f *FileStore) Get(_ context.Context, txHash string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	return find(entries, txHash)
}

func (f *FileStore) List(_ context.Context, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	return newest(entries, limit), nil
}

func (f *FileStore) Ping(context.Context) error {
	dir := filepath.Dir(f.path)
	_, err := os.Stat(dir)
	return err
}

func (f *FileStore) Close() error { return nil }

func find(entries []Entry, txHash string) (*Entry, error) {
	txHash = strings.ToLower(txHash)
	// latest wins if a hash was recorded twice
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].TxHash == txHash {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func newest(entries []Entry, limit int) []Entry {
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
