// Package deployments records where contracts were deployed, per chain.
package deployments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidRecord = errors.New("invalid deployment record")

// Record is one deployed contract.
type Record struct {
	ChainID     int64          `json:"chainId"`
	Contract    string         `json:"contract"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Migration   string         `json:"migration"`
	DeployedAt  time.Time      `json:"deployedAt"`
}

func (r Record) validate() error {
	if r.Contract == "" {
		return fmt.Errorf("%w: contract name is empty", ErrInvalidRecord)
	}
	if r.Address == (common.Address{}) {
		return fmt.Errorf("%w: %s has no address", ErrInvalidRecord, r.Contract)
	}
	return nil
}

// Store abstracts deployment persistence. Get returns nil, nil when nothing
// is recorded.
type Store interface {
	Get(ctx context.Context, chainID int64, contract string) (*Record, error)
	Save(ctx context.Context, record Record) error
	List(ctx context.Context, chainID int64) ([]Record, error)
}

// networks is chain id -> contract name -> record, the layout of deployments.json.
type networks map[string]map[string]Record

func (n networks) get(chainID int64, contract string) (*Record, bool) {
	rec, ok := n[strconv.FormatInt(chainID, 10)][contract]
	if !ok {
		return nil, false
	}
	return &rec, true
}

func (n networks) put(record Record) {
	id := strconv.FormatInt(record.ChainID, 10)
	if n[id] == nil {
		n[id] = make(map[string]Record)
	}
	n[id][record.Contract] = record
}

func (n networks) clone() networks {
	out := make(networks, len(n))
	for id, contracts := range n {
		out[id] = make(map[string]Record, len(contracts))
		for name, rec := range contracts {
			out[id][name] = rec
		}
	}
	return out
}

func (n networks) list(chainID int64) []Record {
	contracts := n[strconv.FormatInt(chainID, 10)]
	out := make([]Record, 0, len(contracts))
	for _, rec := range contracts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Contract < out[j].Contract
	})
	return out
}

type MemoryStore struct {
	mu   sync.RWMutex
	data networks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(networks)}
}

func (m *MemoryStore) Get(_ context.Context, chainID int64, contract string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, _ := m.data.get(chainID, contract)
	return rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.put(record)
	return nil
}

func (m *MemoryStore) List(_ context.Context, chainID int64) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.list(chainID), nil
}

// FileStore keeps deployments.json on disk, rewriting it on every save.
type FileStore struct {
	path string
	mu   sync.Mutex
	data networks
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(networks),
	}
	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return fs, nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist(data networks) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, chainID int64, contract string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, _ := f.data.get(chainID, contract)
	return rec, nil
}

func (f *FileStore) Save(_ context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// the file is written first so a failed write leaves memory untouched
	next := f.data.clone()
	next.put(record)
	if err := f.persist(next); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	f.data = next
	return nil
}

func (f *FileStore) List(_ context.Context, chainID int64) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data.list(chainID), nil
}
