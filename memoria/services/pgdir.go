package services

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// PageTable es el segundo nivel: 1024 entradas, cada una mapea una página.
type PageTable struct {
	Entries [models.NPTEntries]models.PTE
	present int
}

// Pgdir es el directorio de páginas de un env. Las tablas de segundo nivel se crean a demanda
// y se liberan cuando quedan vacías.
type Pgdir struct {
	mu     sync.RWMutex
	mem    *PhysMem
	tables map[uint32]*PageTable
	tlb    *TLB
}

func NewPgdir(mem *PhysMem) *Pgdir {
	return &Pgdir{mem: mem, tables: make(map[uint32]*PageTable)}
}

func (pg *Pgdir) Mem() *PhysMem { return pg.mem }

// SetTLB pone una TLB delante de las traducciones de usuario. nil la desactiva.
func (pg *Pgdir) SetTLB(tlb *TLB) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	pg.tlb = tlb
}

// TLBStats devuelve hits y misses de la TLB, o ceros si no tiene.
func (pg *Pgdir) TLBStats() (hits, misses int) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	if pg.tlb == nil {
		return 0, 0
	}
	return pg.tlb.Stats()
}

// invalidate se llama con pg.mu tomado para escritura.
func (pg *Pgdir) invalidate(va uint32) {
	if pg.tlb != nil {
		pg.tlb.Invalidate(models.PageNum(va))
	}
}

// walk devuelve la entrada de la tabla para va. Con create crea la tabla si no existe.
// Se llama con pg.mu tomado.
func (pg *Pgdir) walk(va uint32, create bool) (*models.PTE, *PageTable) {
	pdx := models.PDX(va)
	table, exists := pg.tables[pdx]
	if !exists {
		if !create {
			return nil, nil
		}
		table = &PageTable{}
		pg.tables[pdx] = table
	}
	return &table.Entries[models.PTX(va)], table
}

// Insert mapea frame en va con perm|PteP. Si ya había otra página en va se desmapea primero.
// Re-insertar el mismo frame en la misma dirección solo cambia los permisos.
func (pg *Pgdir) Insert(frame uint32, va uint32, perm models.Perm) error {
	if va >= models.UTop || !models.Aligned(va) {
		return fmt.Errorf("insert en va 0x%08x: %w", va, models.ErrInval)
	}
	if err := models.CheckCOWExclusive(perm); err != nil {
		return err
	}

	pg.mu.Lock()
	defer pg.mu.Unlock()

	// Se incrementa antes de desmapear para no liberar el frame cuando es el mismo.
	pg.mem.IncRef(frame)
	entry, table := pg.walk(va, true)
	if entry.Present() {
		pg.mem.DecRef(entry.Frame())
		table.present--
	}
	*entry = models.MakePTE(frame, perm|models.PteP)
	table.present++
	pg.invalidate(va)
	return nil
}

// Lookup devuelve el frame y los permisos mapeados en va.
func (pg *Pgdir) Lookup(va uint32) (uint32, models.Perm, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	entry, _ := pg.walk(va, false)
	if entry == nil || !entry.Present() {
		return 0, 0, false
	}
	return entry.Frame(), entry.Perm(), true
}

// lookupCached es Lookup pasando por la TLB. La consulta y el llenado se hacen bajo el mismo
// lock de lectura, así no se cuela una entrada invalidada en el medio.
func (pg *Pgdir) lookupCached(va uint32) (uint32, models.Perm, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	pn := models.PageNum(va)
	if pg.tlb != nil {
		if frame, perm, ok := pg.tlb.Search(pn); ok {
			return frame, perm, true
		}
	}
	entry, _ := pg.walk(va, false)
	if entry == nil || !entry.Present() {
		return 0, 0, false
	}
	if pg.tlb != nil {
		pg.tlb.Insert(pn, entry.Frame(), entry.Perm())
	}
	return entry.Frame(), entry.Perm(), true
}

// Remove desmapea va. No hace nada si no había nada mapeado.
func (pg *Pgdir) Remove(va uint32) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	pg.removeLocked(va)
}

func (pg *Pgdir) removeLocked(va uint32) {
	entry, table := pg.walk(va, false)
	if entry == nil || !entry.Present() {
		return
	}
	pg.mem.DecRef(entry.Frame())
	*entry = 0
	table.present--
	pg.invalidate(va)
	if table.present == 0 {
		delete(pg.tables, models.PDX(va))
	}
}

// Uvpd es la vista de solo lectura del directorio: la entrada está presente si existe la tabla.
func (pg *Pgdir) Uvpd(pdx uint32) models.PTE {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	if _, exists := pg.tables[pdx]; !exists {
		return 0
	}
	return models.MakePTE(pdx, models.PteP|models.PteU|models.PteW)
}

// Uvpt es la vista de solo lectura de las tablas, indexada por número de página.
func (pg *Pgdir) Uvpt(pn uint32) models.PTE {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	entry, _ := pg.walk(models.PageAddr(pn), false)
	if entry == nil {
		return 0
	}
	return *entry
}

// ForEachPresent recorre en orden creciente las páginas presentes por debajo de limit.
func (pg *Pgdir) ForEachPresent(limit uint32, fn func(va uint32, e models.PTE)) {
	type mapping struct {
		va uint32
		e  models.PTE
	}
	var found []mapping

	pg.mu.RLock()
	for pdx, table := range pg.tables {
		for ptx, e := range table.Entries {
			va := pdx<<models.PDXShift | uint32(ptx)<<models.PageShift
			if e.Present() && va < limit {
				found = append(found, mapping{va, e})
			}
		}
	}
	pg.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].va < found[j].va })
	for _, m := range found {
		fn(m.va, m.e)
	}
}

// Count devuelve la cantidad de páginas presentes.
func (pg *Pgdir) Count() int {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	count := 0
	for _, table := range pg.tables {
		count += table.present
	}
	return count
}

// Free desmapea todas las páginas del espacio de usuario.
func (pg *Pgdir) Free() {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	for pdx, table := range pg.tables {
		for ptx, e := range table.Entries {
			if e.Present() {
				pg.mem.DecRef(e.Frame())
			}
			table.Entries[ptx] = 0
		}
		delete(pg.tables, pdx)
	}
	if pg.tlb != nil {
		pg.tlb.Flush()
	}
}
