package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryStore keeps indexes in process memory with brute-force search. When
// created with a path it loads a snapshot on open and writes one on Save and
// Close.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
	path    string
}

type memoryEntry struct {
	values   []float32
	text     string
	metadata []byte
}

type memoryIndex struct {
	spec       IndexSpec
	mu         sync.RWMutex
	namespaces map[string]map[string]*memoryEntry
}

// NewMemoryStore creates a store. An empty path disables snapshots.
func NewMemoryStore(path string) (*MemoryStore, error) {
	s := &MemoryStore{indexes: make(map[string]*memoryIndex), path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateIndex adds an empty index.
func (s *MemoryStore) CreateIndex(_ context.Context, spec IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrIndexExists, spec.Name)
	}
	s.indexes[spec.Name] = &memoryIndex{spec: spec, namespaces: make(map[string]map[string]*memoryEntry)}
	return nil
}

// HasIndex reports whether the named index exists.
func (s *MemoryStore) HasIndex(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok, nil
}

// DescribeIndex returns the spec of the named index.
func (s *MemoryStore) DescribeIndex(_ context.Context, name string) (*IndexSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	spec := idx.spec
	return &spec, nil
}

// Index returns a handle to the named index.
func (s *MemoryStore) Index(_ context.Context, name string) (Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return idx, nil
}

// Close writes a snapshot when a path is configured.
func (s *MemoryStore) Close() error {
	return s.Save()
}

func (m *memoryIndex) Name() string { return m.spec.Name }
func (m *memoryIndex) Dimension() int { return m.spec.Dimension }
func (m *memoryIndex) Metric() Metric { return m.spec.Metric }

func (m *memoryIndex) DescribeStats(_ context.Context, namespace string) (NamespaceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NamespaceStats{
		Namespace:   namespace,
		VectorCount: int64(len(m.namespaces[namespace])),
		Dimension:   m.spec.Dimension,
	}, nil
}

func (m *memoryIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecords(records, m.spec.Dimension); err != nil {
		return err
	}
	entries := make(map[string]*memoryEntry, len(records))
	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return err
		}
		vec := make([]float32, len(r.Values))
		copy(vec, r.Values)
		entries[r.ID] = &memoryEntry{values: vec, text: r.Text, metadata: meta}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]*memoryEntry)
		m.namespaces[namespace] = ns
	}
	for id, e := range entries {
		ns[id] = e
	}
	return nil
}

func (m *memoryIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkQuery(query, m.spec.Dimension); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := m.namespaces[namespace]
	if k <= 0 || len(ns) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(ns))
	for id, e := range ns {
		matches = append(matches, Match{ID: id, Score: Score(m.spec.Metric, query, e.values), Text: e.text})
	}
	matches = topK(matches, k)
	for i := range matches {
		meta, err := decodeMetadata(ns[matches[i].ID].metadata)
		if err != nil {
			return nil, err
		}
		matches[i].Metadata = meta
	}
	return matches, nil
}

// snapshot is the on-disk form of a MemoryStore.
type snapshot struct {
	Indexes []snapshotIndex
}

type snapshotIndex struct {
	Spec    IndexSpec
	Records []snapshotRecord
}

type snapshotRecord struct {
	Namespace string
	ID        string
	Values    []float32
	Text      string
	Metadata  []byte
}

// Save writes the snapshot. It is a no-op without a path. The file is
// replaced atomically.
func (s *MemoryStore) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	snap := snapshot{}
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		idx := s.indexes[name]
		idx.mu.RLock()
		si := snapshotIndex{Spec: idx.spec}
		for ns, entries := range idx.namespaces {
			for id, e := range entries {
				si.Records = append(si.Records, snapshotRecord{Namespace: ns, ID: id, Values: e.values, Text: e.text, Metadata: e.metadata})
			}
		}
		idx.mu.RUnlock()
		snap.Indexes = append(snap.Indexes, si)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// load reads the snapshot; a missing file leaves the store empty.
func (s *MemoryStore) load() error {
	if s.path == "" {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	for _, si := range snap.Indexes {
		idx := &memoryIndex{spec: si.Spec, namespaces: make(map[string]map[string]*memoryEntry)}
		for _, r := range si.Records {
			if len(r.Values) != si.Spec.Dimension {
				return fmt.Errorf("read snapshot: %w: record %s", ErrDimensionMismatch, r.ID)
			}
			ns, ok := idx.namespaces[r.Namespace]
			if !ok {
				ns = make(map[string]*memoryEntry)
				idx.namespaces[r.Namespace] = ns
			}
			ns[r.ID] = &memoryEntry{values: r.Values, text: r.Text, metadata: r.Metadata}
		}
		s.indexes[si.Spec.Name] = idx
	}
	return nil
}
