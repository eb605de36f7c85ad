package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// ErrDimensionMismatch is returned by Set when the vector length does not
// match the configured dimension. No file is written in that case.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cache persists one fixed-length binary vector per event id under
// <baseDir>/embeddings, fronted by a bounded in-memory cache with
// insertion-order eviction (oldest inserted entry goes first, regardless of
// access). The memory layer is purely a read accelerator: losing it and
// rebuilding from disk is safe and transparent.
type Cache struct {
	dir      string
	dims     int
	capacity int

	mu    sync.Mutex
	mem   map[string]Vector
	order []string // insertion order, oldest first
}

// NewCache creates the embeddings directory if needed.
func NewCache(baseDir string, dims, capacity int) (*Cache, error) {
	dir := filepath.Join(baseDir, "embeddings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create embeddings dir: %w", err)
	}
	if capacity <= 0 {
		capacity = 2000
	}
	return &Cache{
		dir:      dir,
		dims:     dims,
		capacity: capacity,
		mem:      make(map[string]Vector, capacity),
	}, nil
}

// Dims returns the configured vector dimension.
func (c *Cache) Dims() int { return c.dims }

func (c *Cache) path(eventID string) string {
	return filepath.Join(c.dir, eventID+".vec")
}

// Get returns the vector for an event id, or ok=false when absent. Vectors
// on disk with a stale dimension are treated as absent.
func (c *Cache) Get(eventID string) (Vector, bool) {
	c.mu.Lock()
	if v, ok := c.mem[eventID]; ok {
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	b, err := os.ReadFile(c.path(eventID))
	if err != nil {
		return nil, false
	}
	if len(b) != c.dims*4 {
		return nil, false
	}
	v := decodeVector(b)
	c.remember(eventID, v)
	return v, true
}

// Set validates the dimension, writes the durable record, then updates the
// memory layer.
func (c *Cache) Set(eventID string, v Vector) error {
	if len(v) != c.dims {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dims, len(v))
	}
	if err := os.WriteFile(c.path(eventID), encodeVector(v), 0o644); err != nil {
		return fmt.Errorf("write embedding %s: %w", eventID, err)
	}
	c.remember(eventID, v)
	return nil
}

// Has reports whether a vector exists for the event id.
func (c *Cache) Has(eventID string) bool {
	c.mu.Lock()
	_, ok := c.mem[eventID]
	c.mu.Unlock()
	if ok {
		return true
	}
	_, err := os.Stat(c.path(eventID))
	return err == nil
}

// MemLen returns the current in-memory entry count.
func (c *Cache) MemLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mem)
}

// DropMem clears the in-memory layer. Reads fall back to disk.
func (c *Cache) DropMem() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem = make(map[string]Vector, c.capacity)
	c.order = nil
}

// remember inserts into the memory layer, evicting the oldest-inserted entry
// when at capacity. Re-setting an existing id keeps its original position.
func (c *Cache) remember(eventID string, v Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mem[eventID]; exists {
		c.mem[eventID] = v
		return
	}
	if len(c.mem) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.mem, oldest)
	}
	c.mem[eventID] = v
	c.order = append(c.order, eventID)
}

func encodeVector(v Vector) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) Vector {
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
