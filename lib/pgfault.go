package lib

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
	"github.com/sisoputnfrba/magiOS-cow/utils/metrics"
	"github.com/sisoputnfrba/magiOS-cow/utils/tracing"
)

const userRW = memModels.PteP | memModels.PteU | memModels.PteW

// SetPgfaultHandler registra handler como rutina de page fault del env. La primera vez reserva
// la pila de excepción e instala el upcall en el kernel. Registrar el mismo handler otra vez no
// cambia nada.
func (u *Env) SetPgfaultHandler(handler uint32) error {
	if _, ok := faultHandlers[handler]; !ok {
		return fmt.Errorf("set_pgfault_handler: 0x%08x no es un handler: %w", handler, models.ErrInval)
	}
	current, err := u.loadWord(PgfaultHandlerSlot)
	if err != nil {
		return err
	}
	if current == 0 {
		if err := u.p.PageAlloc(0, memModels.UXStackTop-memModels.PageSize, userRW); err != nil {
			return fmt.Errorf("set_pgfault_handler: pila de excepción: %w", err)
		}
		if err := u.p.EnvSetPgfaultUpcall(0, PgfaultUpcallAddr); err != nil {
			return fmt.Errorf("set_pgfault_handler: upcall: %w", err)
		}
	}
	if current == handler {
		return nil
	}
	return u.storeWord(PgfaultHandlerSlot, handler)
}

// pgfaultUpcall es el trampolín: el kernel dejó el UTrapframe en el tope de la pila de excepción
// (Esp). Llama al handler registrado y vuelve al estado del momento del fault.
func (u *Env) pgfaultUpcall() error {
	tf := u.p.Trapframe()
	raw, err := u.p.Load(tf.Esp, models.UTrapframeSize)
	if err != nil {
		return models.Fatal(models.ScopeEnv, err, "pgfault_upcall: no se pudo leer el utrapframe en 0x%08x", tf.Esp)
	}
	utf, err := models.DecodeUTrapframe(raw)
	if err != nil {
		return models.Fatal(models.ScopeEnv, err, "pgfault_upcall")
	}

	slot, err := u.p.Load(PgfaultHandlerSlot, 4)
	if err != nil {
		return models.Fatal(models.ScopeEnv, err, "pgfault_upcall: no se pudo leer el handler")
	}
	addr := binary.LittleEndian.Uint32(slot)
	handler, ok := faultHandlers[addr]
	if !ok {
		return models.FatalAt(models.ScopeEnv, utf.FaultVA, 0, models.ErrFault, "pgfault_upcall: handler 0x%08x desconocido", addr)
	}
	if err := handler.fn(u, utf); err != nil {
		return err
	}

	*tf = utf.Tf
	return nil
}

// pgfault repara un fault de escritura sobre una página COW: copia la página a un frame nuevo y
// lo mapea escribible en la misma dirección. Cualquier otro fault es fatal para el env.
func (u *Env) pgfault(utf models.UTrapframe) (err error) {
	_, span := tracing.StartSpan(context.Background(), "lib.pgfault")
	defer func() { tracing.EndSpan(span, err) }()

	if utf.Err&memServices.FecWr == 0 {
		return models.FatalAt(models.ScopeEnv, utf.FaultVA, 0, models.ErrFault, "pgfault: el acceso no fue una escritura")
	}

	va := memModels.RoundDown(utf.FaultVA, memModels.PageSize)
	var perm memModels.Perm
	if u.p.Uvpd(memModels.PDX(va)).Present() {
		perm = u.p.Uvpt(memModels.PageNum(va)).Perm()
	}
	if !perm.Present() || !perm.COW() {
		return models.FatalAt(models.ScopeEnv, utf.FaultVA, perm, models.ErrFault, "pgfault: escritura sobre una página que no es COW")
	}

	if err := u.p.PageAlloc(0, memModels.PFTemp, userRW); err != nil {
		return models.FatalAt(models.ScopeEnv, va, perm, err, "pgfault: page_alloc")
	}
	data, err := u.p.Load(va, memModels.PageSize)
	if err != nil {
		return models.FatalAt(models.ScopeEnv, va, perm, err, "pgfault: leyendo la página original")
	}
	if err := u.p.Store(memModels.PFTemp, data); err != nil {
		return models.FatalAt(models.ScopeEnv, va, perm, err, "pgfault: copiando a PFTEMP")
	}
	if err := u.p.PageMap(0, memModels.PFTemp, 0, va, userRW); err != nil {
		return models.FatalAt(models.ScopeEnv, va, perm, err, "pgfault: page_map")
	}
	if err := u.p.PageUnmap(0, memModels.PFTemp); err != nil {
		return models.FatalAt(models.ScopeEnv, va, perm, err, "pgfault: page_unmap")
	}

	slog.Info(fmt.Sprintf("## (%s) COW fault va=0x%08x", u.p.Getenvid(), utf.FaultVA))
	metrics.COWFault()
	return nil
}
