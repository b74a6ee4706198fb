package services

import (
	"fmt"

	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// Bits del código de error de un page fault.
const (
	FecPr uint32 = 0x1 // la página estaba presente (violación de protección)
	FecWr uint32 = 0x2 // el acceso fue una escritura
	FecU  uint32 = 0x4 // el acceso vino de modo usuario
)

// PageFault es la excepción que levanta la MMU simulada.
type PageFault struct {
	VA  uint32
	Err uint32
}

func (f *PageFault) Error() string {
	return fmt.Sprintf("page fault en va 0x%08x (err 0x%x)", f.VA, f.Err)
}

func (f *PageFault) Write() bool { return f.Err&FecWr != 0 }

// Translate traduce va como lo haría el hardware para un acceso de usuario. Los bits de
// software (COW) no se miran: una página COW no es escribible.
func (pg *Pgdir) Translate(va uint32, write bool) (uint32, *PageFault) {
	errCode := FecU
	if write {
		errCode |= FecWr
	}
	if va >= models.UTop {
		return 0, &PageFault{VA: va, Err: errCode}
	}
	frame, perm, ok := pg.lookupCached(va)
	if !ok {
		return 0, &PageFault{VA: va, Err: errCode}
	}
	if !perm.User() || (write && !perm.Writable()) {
		return 0, &PageFault{VA: va, Err: errCode | FecPr}
	}
	return frame, nil
}

// UserRead lee n bytes desde va en modo usuario, pudiendo cruzar páginas.
func (pg *Pgdir) UserRead(va uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		frame, fault := pg.Translate(va, false)
		if fault != nil {
			return nil, fault
		}
		off := models.PageOffset(va)
		chunk := min(n, int(models.PageSize-off))
		out = append(out, pg.mem.Bytes(frame)[off:int(off)+chunk]...)
		va += uint32(chunk)
		n -= chunk
	}
	return out, nil
}

// UserWrite escribe data en va en modo usuario. Todas las páginas se validan antes de
// escribir, así un fault no deja la escritura a medias.
func (pg *Pgdir) UserWrite(va uint32, data []byte) error {
	frames, err := pg.translateRange(va, len(data), true)
	if err != nil {
		return err
	}
	pg.copyTo(frames, va, data)
	return nil
}

// KernelWrite escribe data en va sin mirar el bit W. Solo exige que las páginas estén presentes.
func (pg *Pgdir) KernelWrite(va uint32, data []byte) error {
	frames, err := pg.translateRange(va, len(data), false)
	if err != nil {
		return err
	}
	pg.copyTo(frames, va, data)
	return nil
}

// CheckUser verifica que [va, va+n) sea accesible desde usuario con los permisos perm.
func (pg *Pgdir) CheckUser(va uint32, n int, perm models.Perm) error {
	if n <= 0 {
		return nil
	}
	end := uint64(va) + uint64(n)
	for page := models.RoundDown(va, models.PageSize); uint64(page) < end; page += models.PageSize {
		if page >= models.UTop {
			return fmt.Errorf("va 0x%08x fuera del espacio de usuario: %w", page, models.ErrInval)
		}
		_, got, ok := pg.Lookup(page)
		if !ok || !got.Has(perm|models.PteP|models.PteU) {
			return fmt.Errorf("va 0x%08x sin permisos %s (tiene %s): %w", page, perm|models.PteP|models.PteU, got, models.ErrInval)
		}
	}
	return nil
}

func (pg *Pgdir) translateRange(va uint32, n int, write bool) ([]uint32, error) {
	var frames []uint32
	end := uint64(va) + uint64(n)
	for page := models.RoundDown(va, models.PageSize); uint64(page) < end; page += models.PageSize {
		if write {
			frame, fault := pg.Translate(max(page, va), true)
			if fault != nil {
				return nil, fault
			}
			frames = append(frames, frame)
			continue
		}
		frame, _, ok := pg.Lookup(page)
		if !ok {
			return nil, &PageFault{VA: max(page, va), Err: 0}
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (pg *Pgdir) copyTo(frames []uint32, va uint32, data []byte) {
	for _, frame := range frames {
		off := models.PageOffset(va)
		chunk := copy(pg.mem.Bytes(frame)[off:], data)
		data = data[chunk:]
		va += uint32(chunk)
	}
}
