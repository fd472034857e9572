// Package vecbuf implements VectorBuffer: a fixed-capacity, slot-indexed,
// contiguous float32 arena holding up to capacity vectors of dimension D.
//
// Grounded on the teacher's slot/id bookkeeping idiom from pkg/index.HNSW
// (map-keyed nodes with id-based lookups guarded by a sync.RWMutex) and the
// teacher's SQLiteStore lock discipline (pkg/core/store.go), generalized
// from SQLite-backed rows to a flat in-process []float32 arena per spec.md
// §4.1.
package vecbuf

import (
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/corvid-labs/personamemory/internal/errs"
)

// Stats reports buffer usage for diagnostics and capacity-aware callers.
type Stats struct {
	Capacity     int
	Occupied     int
	Free         int
	Dimensions   int
	BufferBytes  int64
}

// Buffer is a contiguous float32 arena partitioned into fixed-width slots.
// Many concurrent readers or one writer; Insert/Replace/Delete take the
// write lock, Get/GetMagnitude/Iterate take the read lock.
type Buffer struct {
	mu sync.RWMutex

	dimensions int
	capacity   int
	data       []float32 // len == capacity*dimensions

	idToSlot map[uuid.UUID]int
	slotToID []uuid.UUID // len == capacity; zero UUID means unused/unknown

	free    []int // LIFO free-slot queue
	nextNew int   // next never-used slot; monotone until first deletion

	magnitude []float32 // per-slot cached Euclidean norm
	occupied  []bool
}

// New constructs a Buffer sized for maxMemoryBytes at the given
// dimensionality: vectorBytes = dimensions*4, capacity =
// floor(maxMemoryBytes/vectorBytes).
func New(maxMemoryBytes int64, dimensions int) (*Buffer, error) {
	if dimensions <= 0 {
		return nil, errs.Wrap("vecbuf.New", errs.Validationf("dimensions must be positive, got %d", dimensions))
	}
	vectorBytes := int64(dimensions) * 4
	capacity := int(maxMemoryBytes / vectorBytes)
	if capacity <= 0 {
		return nil, errs.Wrap("vecbuf.New", errs.Validationf("maxMemoryBytes %d too small for dimension %d", maxMemoryBytes, dimensions))
	}
	return &Buffer{
		dimensions: dimensions,
		capacity:   capacity,
		data:       make([]float32, capacity*dimensions),
		idToSlot:   make(map[uuid.UUID]int, capacity),
		slotToID:   make([]uuid.UUID, capacity),
		magnitude:  make([]float32, capacity),
		occupied:   make([]bool, capacity),
	}, nil
}

// Dimensions returns the buffer's fixed vector width.
func (b *Buffer) Dimensions() int { return b.dimensions }

// Capacity returns the maximum number of vectors the buffer can hold.
func (b *Buffer) Capacity() int { return b.capacity }

// Insert reserves a slot for id and copies vec into it, returning the slot.
// The vector is copied; callers may reuse vec's backing array afterwards.
func (b *Buffer) Insert(id uuid.UUID, vec []float32) (int, error) {
	if len(vec) != b.dimensions {
		return 0, errs.Wrap("vecbuf.Insert", errs.ErrDimensionMismatch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.idToSlot[id]; exists {
		return 0, errs.Wrap("vecbuf.Insert", errs.Validationf("id %s already inserted", id))
	}

	slot, ok := b.allocSlotLocked()
	if !ok {
		return 0, errs.Wrap("vecbuf.Insert", errs.ErrCapacity)
	}

	b.writeSlotLocked(slot, vec)
	b.idToSlot[id] = slot
	b.slotToID[slot] = id
	b.occupied[slot] = true

	return slot, nil
}

// Replace overwrites the vector stored for id in place, recomputing its
// cached magnitude. The VectorId and slot are unchanged.
func (b *Buffer) Replace(id uuid.UUID, vec []float32) error {
	if len(vec) != b.dimensions {
		return errs.Wrap("vecbuf.Replace", errs.ErrDimensionMismatch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	slot, ok := b.idToSlot[id]
	if !ok {
		return errs.Wrap("vecbuf.Replace", errs.ErrNotFound)
	}
	b.writeSlotLocked(slot, vec)
	return nil
}

// Get returns a copy of the vector stored for id.
func (b *Buffer) Get(id uuid.UUID) ([]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	slot, ok := b.idToSlot[id]
	if !ok {
		return nil, errs.Wrap("vecbuf.Get", errs.ErrNotFound)
	}
	return b.viewSlotLocked(slot), nil
}

// GetBySlot returns a copy of the vector at slot without an id lookup; used
// by the index, which addresses nodes by slot.
func (b *Buffer) GetBySlot(slot int) ([]float32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if slot < 0 || slot >= b.capacity || !b.occupied[slot] {
		return nil, false
	}
	return b.viewSlotLocked(slot), true
}

// GetMagnitude returns the cached Euclidean norm for id's vector.
func (b *Buffer) GetMagnitude(id uuid.UUID) (float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	slot, ok := b.idToSlot[id]
	if !ok {
		return 0, errs.Wrap("vecbuf.GetMagnitude", errs.ErrNotFound)
	}
	return b.magnitude[slot], nil
}

// MagnitudeBySlot returns the cached magnitude for an occupied slot.
func (b *Buffer) MagnitudeBySlot(slot int) (float32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if slot < 0 || slot >= b.capacity || !b.occupied[slot] {
		return 0, false
	}
	return b.magnitude[slot], true
}

// SlotOf returns the slot currently holding id, if any.
func (b *Buffer) SlotOf(id uuid.UUID) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	slot, ok := b.idToSlot[id]
	return slot, ok
}

// IDAt returns the VectorId occupying slot, if any.
func (b *Buffer) IDAt(slot int) (uuid.UUID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if slot < 0 || slot >= b.capacity || !b.occupied[slot] {
		return uuid.UUID{}, false
	}
	return b.slotToID[slot], true
}

// Delete frees id's slot, clearing its magnitude and returning it to the
// free-slot queue for reuse. The slot never aliases a live VectorId again
// until it is reallocated by a future Insert.
func (b *Buffer) Delete(id uuid.UUID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot, ok := b.idToSlot[id]
	if !ok {
		return 0, errs.Wrap("vecbuf.Delete", errs.ErrNotFound)
	}

	delete(b.idToSlot, id)
	b.slotToID[slot] = uuid.UUID{}
	b.occupied[slot] = false
	b.magnitude[slot] = 0
	base := slot * b.dimensions
	for i := 0; i < b.dimensions; i++ {
		b.data[base+i] = 0
	}
	b.free = append(b.free, slot)

	return slot, nil
}

// Entry is one (VectorId, slot) pair yielded by Iterate.
type Entry struct {
	ID   uuid.UUID
	Slot int
}

// Iterate returns a snapshot of all occupied (VectorId, slot) pairs. It may
// proceed concurrently with other readers but not with a writer.
func (b *Buffer) Iterate() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]Entry, 0, len(b.idToSlot))
	for id, slot := range b.idToSlot {
		entries = append(entries, Entry{ID: id, Slot: slot})
	}
	return entries
}

// Stats reports current buffer usage.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Capacity:    b.capacity,
		Occupied:    len(b.idToSlot),
		Free:        b.capacity - len(b.idToSlot),
		Dimensions:  b.dimensions,
		BufferBytes: int64(len(b.data)) * 4,
	}
}

// allocSlotLocked pops a free slot or advances the never-used counter. The
// caller must hold the write lock.
func (b *Buffer) allocSlotLocked() (int, bool) {
	if n := len(b.free); n > 0 {
		slot := b.free[n-1]
		b.free = b.free[:n-1]
		return slot, true
	}
	if b.nextNew < b.capacity {
		slot := b.nextNew
		b.nextNew++
		return slot, true
	}
	return 0, false
}

// writeSlotLocked copies vec into slot and recomputes its magnitude using
// 64-bit accumulation. Caller must hold the write lock.
func (b *Buffer) writeSlotLocked(slot int, vec []float32) {
	base := slot * b.dimensions
	copy(b.data[base:base+b.dimensions], vec)

	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	b.magnitude[slot] = float32(math.Sqrt(sumSq))
}

// viewSlotLocked copies slot's vector out. Caller must hold at least the
// read lock.
func (b *Buffer) viewSlotLocked(slot int) []float32 {
	base := slot * b.dimensions
	out := make([]float32, b.dimensions)
	copy(out, b.data[base:base+b.dimensions])
	return out
}
