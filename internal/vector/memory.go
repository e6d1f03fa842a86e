package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const (
	memoryIndexFile    = "index.bin"
	memoryIndexMagic   = "KTIX"
	memoryIndexVersion = 1
)

// MemoryIndex is an in-memory vector index using brute-force inner product
// search over normalized vectors. Per-document indexes hold a few hundred
// chunks, so a flat scan is fast enough.
type MemoryIndex struct {
	dimensions int
	entries    []Entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add appends entries. Vectors are stored normalized.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries = append(m.entries, Entry{Position: e.Position, Text: e.Text, Vector: normalized(e.Vector)})
	}
	return nil
}

// Search returns the top-k entries by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	q := normalized(query)
	results := make([]*VectorResult, len(m.entries))
	for i, e := range m.entries {
		results[i] = &VectorResult{Position: e.Position, Text: e.Text, Score: InnerProduct(q, e.Vector)}
	}
	sortResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Save writes index.bin and the manifest into dir. Format: magic, version,
// dimension, count (uint32 each after the magic), then per entry: position,
// text length, text bytes, and dimension float32s, all little endian.
func (m *MemoryIndex) Save(dir string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, memoryIndexFile))
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.encode(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	return writeManifest(dir, m)
}

func (m *MemoryIndex) encode(w io.Writer) error {
	if _, err := io.WriteString(w, memoryIndexMagic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	header := []uint32{memoryIndexVersion, uint32(m.dimensions), uint32(len(m.entries))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	vec := make([]byte, m.dimensions*4)
	for _, e := range m.entries {
		text := []byte(e.Text)
		if err := binary.Write(w, binary.LittleEndian, []uint32{uint32(e.Position), uint32(len(text))}); err != nil {
			return fmt.Errorf("write entry header: %w", err)
		}
		if _, err := w.Write(text); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		for i, v := range e.Vector {
			binary.LittleEndian.PutUint32(vec[i*4:], math.Float32bits(v))
		}
		if _, err := w.Write(vec); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads index.bin from dir and replaces the in-memory contents. Dimensions must match.
func (m *MemoryIndex) Load(dir string) error {
	f, err := os.Open(filepath.Join(dir, memoryIndexFile))
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	entries, err := m.decode(bufio.NewReader(f))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) decode(r io.Reader) ([]Entry, error) {
	magic := make([]byte, len(memoryIndexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(magic) != memoryIndexMagic {
		return nil, errors.New("not a memory index file")
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	version, dim, n := header[0], header[1], header[2]
	if version != memoryIndexVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	if int(dim) != m.dimensions {
		return nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}

	entries := make([]Entry, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var eh [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		text := make([]byte, eh[1])
		if _, err := io.ReadFull(r, text); err != nil {
			return nil, fmt.Errorf("read text %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vec := make([]float32, m.dimensions)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		entries = append(entries, Entry{Position: int(eh[0]), Text: string(text), Vector: vec})
	}
	return entries, nil
}

// Size returns the number of entries in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
