package services

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// PhysMem simula la memoria física: frames de PageSize bytes con contador de referencias.
// El frame 0 queda reservado y nunca se entrega.
type PhysMem struct {
	mu     sync.Mutex
	frames [][]byte
	refs   []uint32
	free   *bitset.BitSet // bit prendido = frame libre
}

func NewPhysMem(npages int) *PhysMem {
	if npages < 2 {
		npages = 2
	}
	m := &PhysMem{
		frames: make([][]byte, npages),
		refs:   make([]uint32, npages),
		free:   bitset.New(uint(npages)),
	}
	for i := 1; i < npages; i++ {
		m.free.Set(uint(i))
	}
	slog.Debug(fmt.Sprintf("Memoria física inicializada: %d frames de %d bytes", npages, models.PageSize))
	return m
}

// Alloc reserva un frame libre con contador en cero. Si zero es true el contenido queda en cero.
func (m *PhysMem) Alloc(zero bool) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.free.NextSet(0)
	if !ok {
		return 0, fmt.Errorf("no hay frames libres: %w", models.ErrNoMem)
	}
	m.free.Clear(idx)

	if m.frames[idx] == nil {
		m.frames[idx] = make([]byte, models.PageSize)
	} else if zero {
		clear(m.frames[idx])
	}
	return uint32(idx), nil
}

func (m *PhysMem) IncRef(frame uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs[frame]++
}

// DecRef baja el contador y libera el frame cuando llega a cero.
func (m *PhysMem) DecRef(frame uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs[frame] == 0 {
		slog.Error(fmt.Sprintf("DecRef sobre frame %d sin referencias", frame))
		return
	}
	m.refs[frame]--
	if m.refs[frame] == 0 {
		m.free.Set(uint(frame))
	}
}

func (m *PhysMem) Ref(frame uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refs[frame]
}

// Bytes devuelve el contenido del frame. El slice apunta a la memoria simulada, no es una copia.
func (m *PhysMem) Bytes(frame uint32) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frames[frame] == nil {
		m.frames[frame] = make([]byte, models.PageSize)
	}
	return m.frames[frame]
}

func (m *PhysMem) FreeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int(m.free.Count())
}

func (m *PhysMem) NPages() int {
	return len(m.refs)
}

// FreeIfUnused devuelve al pool un frame recién reservado que nunca llegó a mapearse.
func (m *PhysMem) FreeIfUnused(frame uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs[frame] == 0 {
		m.free.Set(uint(frame))
	}
}
