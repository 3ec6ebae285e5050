package deploy

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record describes one deployment.
type Record struct {
	Target     string            `json:"target"`
	Contract   string            `json:"contract"`
	Address    string            `json:"address"`
	TxHash     string            `json:"tx_hash"`
	Block      uint64            `json:"block"`
	GasUsed    uint64            `json:"gas_used"`
	Deployer   string            `json:"deployer"`
	ChainID    string            `json:"chain_id"`
	Args       map[string]string `json:"args"`
	DeployedAt time.Time         `json:"deployed_at"`
}

// RecordFile is a JSON array of records, appended to on every deployment.
type RecordFile struct {
	mu   sync.Mutex
	path string
}

func NewRecordFile(path string) *RecordFile {
	return &RecordFile{path: path}
}

func (f *RecordFile) Path() string { return f.path }

// Load returns all records, oldest first. A missing file has none.
func (f *RecordFile) Load() ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Latest returns the newest record for target on chainID.
func (f *RecordFile) Latest(target, chainID string) (*Record, bool, error) {
	records, err := f.Load()
	if err != nil {
		return nil, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Target == target && records[i].ChainID == chainID {
			r := records[i]
			return &r, true, nil
		}
	}
	return nil, false, nil
}

func (f *RecordFile) Append(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	records = append(records, rec)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	// replaced atomically
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *RecordFile) load() ([]Record, error) {
	blob, err := os.ReadFile(f.path)
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(blob))) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, err
	}
	return records, nil
}
