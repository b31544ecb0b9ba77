package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatIndex is a brute-force inner-product index. Every search is an exhaustive
// scan, which is exact and fast enough for the target corpus size (~10^5
// vectors). Vectors are immutable once appended; there is no update or delete.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Append adds vectors to the end of the index and returns the assigned ids.
// The whole batch is validated before any vector is stored, so a dimension
// mismatch never leaves a partial append behind.
func (f *FlatIndex) Append(ctx context.Context, vectors [][]float32) ([]int64, error) {
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, index expects %d",
				ErrDimensionMismatch, i, len(vec), f.dimensions)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(vectors))
	for i, vec := range vectors {
		cp := make([]float32, f.dimensions)
		copy(cp, vec)
		ids[i] = int64(len(f.vectors))
		f.vectors = append(f.vectors, cp)
	}
	return ids, nil
}

// Search returns the top n vectors by inner product with query, score
// descending, ties broken by lower id so results are deterministic.
func (f *FlatIndex) Search(ctx context.Context, query []float32, n int) ([]Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if n <= 0 || len(f.vectors) == 0 {
		return []Result{}, nil
	}
	scored := make([]Result, len(f.vectors))
	for i, vec := range f.vectors {
		var dot float64
		for j := 0; j < f.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		scored[i] = Result{ID: int64(i), Score: dot}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n], nil
}

// Save writes the index to path, creating parent directories if needed.
// Format: dimensions (uint32 LE), count (uint32 LE), then count*dimensions
// float32 values.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		_ = file.Close()
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		_ = file.Close()
		return fmt.Errorf("write count: %w", err)
	}
	for id, vec := range f.vectors {
		if _, err := file.Write(float32SliceToBytes(vec)); err != nil {
			_ = file.Close()
			return fmt.Errorf("write vector %d: %w", id, err)
		}
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	// Rename last so a crash mid-write never clobbers the previous blob.
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Load reads the blob at path and replaces the in-memory contents. A missing
// file or unreachable directory is ErrStoreUnavailable: the caller decides
// whether this is first-run creation or a fatal startup condition.
func (f *FlatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, path, err)
	}
	defer file.Close()
	var dim, n uint32
	if err := binary.Read(file, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("%w: blob has %d dimensions, index expects %d",
			ErrDimensionMismatch, dim, f.dimensions)
	}
	if err := binary.Read(file, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	vectors := make([][]float32, 0, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(file, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	f.mu.Lock()
	f.vectors = vectors
	f.mu.Unlock()
	return nil
}

// Size returns the number of stored vectors.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dimensions returns the configured vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
