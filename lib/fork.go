package lib

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	"github.com/sisoputnfrba/magiOS-cow/utils/metrics"
	"github.com/sisoputnfrba/magiOS-cow/utils/tracing"
)

// Fork clona el env que llama. En el padre devuelve el id del hijo; el hijo arranca dentro de
// fork (ForkReturnAddr) y ve 0. Las páginas escribibles quedan compartidas como COW.
// Si algo falla después de crear el hijo, el hijo queda NOT_RUNNABLE y nunca se despacha.
func (u *Env) Fork() (child models.EnvID, err error) {
	_, span := tracing.StartSpan(context.Background(), "lib.Fork")
	defer func() {
		tracing.EndSpan(span, err)
		metrics.Fork(err)
	}()

	if err = u.SetPgfaultHandler(PgfaultHandlerAddr); err != nil {
		return 0, fmt.Errorf("fork: %w", err)
	}

	child, err = u.p.Exofork()
	if err != nil {
		return 0, fmt.Errorf("fork: exofork: %w", err)
	}
	if child == 0 {
		_, err = u.forkReturn()
		return 0, err
	}
	span.WithAttributes(map[string]string{"child": child.String()})

	for va := uint32(0); va < memModels.UXStackTop-memModels.PageSize; {
		if !u.p.Uvpd(memModels.PDX(va)).Present() {
			va = memModels.RoundDown(va, memModels.PTSize) + memModels.PTSize
			continue
		}
		pn := memModels.PageNum(va)
		if u.p.Uvpt(pn).Present() {
			if err = u.duppage(child, pn); err != nil {
				return 0, fmt.Errorf("fork: %w", err)
			}
		}
		va += memModels.PageSize
	}

	if err = u.p.PageAlloc(child, memModels.UXStackTop-memModels.PageSize, userRW); err != nil {
		return 0, fmt.Errorf("fork: pila de excepción del hijo: %w", err)
	}
	if err = u.p.EnvSetPgfaultUpcall(child, PgfaultUpcallAddr); err != nil {
		return 0, fmt.Errorf("fork: upcall del hijo: %w", err)
	}
	if err = u.p.EnvSetStatus(child, models.EnvRunnable); err != nil {
		return 0, fmt.Errorf("fork: %w", err)
	}

	slog.Info(fmt.Sprintf("## (%s) Fork -> hijo %s", u.p.Getenvid(), child))
	return child, nil
}

// forkReturn es el camino del hijo: corrige thisenv y devuelve 0. Como la página de datos es
// COW, la escritura de thisenv ya dispara la primera copia privada.
func (u *Env) forkReturn() (int32, error) {
	if err := u.storeWord(ThisenvAddr, uint32(u.p.Getenvid())); err != nil {
		return 0, err
	}
	return 0, nil
}

// duppage mapea la página pn en child con los mismos permisos, bajando W a COW. Si la página
// queda COW se vuelve a mapear también en el padre.
func (u *Env) duppage(child models.EnvID, pn uint32) error {
	va := memModels.PageAddr(pn)
	perm := u.p.Uvpt(pn).Perm().Syscall()
	if perm.NeedsCOW() {
		perm = perm.ToCOW()
	}

	if err := u.p.PageMap(0, va, child, va, perm); err != nil {
		return fmt.Errorf("duppage va 0x%08x en %s: %w", va, child, err)
	}
	if perm.COW() {
		if err := u.p.PageMap(0, va, 0, va, perm); err != nil {
			return fmt.Errorf("duppage va 0x%08x en el padre: %w", va, err)
		}
	}
	return nil
}

// Sfork (fork con memoria compartida) no está soportado.
func (u *Env) Sfork() (models.EnvID, error) {
	return 0, fmt.Errorf("sfork: %w", models.ErrUnimplemented)
}
