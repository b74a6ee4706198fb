package services

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

const (
	TLBFifo = "FIFO"
	TLBLru  = "LRU"
)

type TLBEntry struct {
	PageNumber uint32
	Frame      uint32
	Perm       models.Perm
	LastUsed   int64 // contador para LRU
}

// TLB cachea traducciones de un espacio de direcciones. Cada Insert o Remove del Pgdir invalida
// la página afectada, así un remapeo (por ejemplo el de un fault COW) nunca usa la entrada vieja.
type TLB struct {
	mu        sync.Mutex
	owner     string
	entries   []TLBEntry
	maxSize   int
	algorithm string
	counter   int64
	hits      int
	misses    int
}

// NewTLB crea una TLB de size entradas con reemplazo FIFO o LRU. Con size 0 devuelve nil (TLB
// desactivada).
func NewTLB(owner string, size int, algorithm string) (*TLB, error) {
	if size <= 0 {
		return nil, nil
	}
	algorithm = strings.ToUpper(algorithm)
	if algorithm != TLBFifo && algorithm != TLBLru {
		return nil, fmt.Errorf("algoritmo de reemplazo de TLB %q: %w", algorithm, models.ErrInval)
	}
	return &TLB{owner: owner, entries: make([]TLBEntry, 0, size), maxSize: size, algorithm: algorithm}, nil
}

// Search busca la página pn. En LRU un hit actualiza el uso.
func (t *TLB) Search(pn uint32) (uint32, models.Perm, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].PageNumber == pn {
			if t.algorithm == TLBLru {
				t.counter++
				t.entries[i].LastUsed = t.counter
			}
			t.hits++
			slog.Debug(fmt.Sprintf("## (%s) - TLB HIT - Pagina: %d", t.owner, pn))
			return t.entries[i].Frame, t.entries[i].Perm, true
		}
	}
	t.misses++
	slog.Debug(fmt.Sprintf("## (%s) - TLB MISS - Pagina: %d", t.owner, pn))
	return 0, 0, false
}

// Insert agrega la traducción de pn. Si la TLB está llena reemplaza según el algoritmo.
func (t *TLB) Insert(pn uint32, frame uint32, perm models.Perm) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counter++
	entry := TLBEntry{PageNumber: pn, Frame: frame, Perm: perm, LastUsed: t.counter}

	for i := range t.entries {
		if t.entries[i].PageNumber == pn {
			t.entries[i] = entry
			return
		}
	}

	if len(t.entries) < t.maxSize {
		t.entries = append(t.entries, entry)
		return
	}

	victim := 0
	if t.algorithm == TLBLru {
		for i, e := range t.entries {
			if e.LastUsed < t.entries[victim].LastUsed {
				victim = i
			}
		}
	}
	slog.Debug(fmt.Sprintf("## (%s) - TLB reemplazo: Página %d por Página %d", t.owner, t.entries[victim].PageNumber, pn))

	if t.algorithm == TLBFifo {
		// La más vieja está siempre al principio.
		copy(t.entries, t.entries[1:])
		t.entries[len(t.entries)-1] = entry
		return
	}
	t.entries[victim] = entry
}

// Invalidate saca la página pn, si estaba.
func (t *TLB) Invalidate(pn uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.PageNumber != pn {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

func (t *TLB) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = t.entries[:0]
}

func (t *TLB) Stats() (hits, misses int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.hits, t.misses
}

func (t *TLB) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}
