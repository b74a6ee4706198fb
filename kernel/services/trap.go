package services

import (
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
)

// pageFault despacha un page fault de e al upcall de usuario. Apila un UTrapframe en la pila de
// excepción y devuelve la dirección donde sigue el env. Se llama con el lock tomado.
func (m *Machine) pageFault(e *models.Env, fault *memServices.PageFault) (uint32, error) {
	if fault.Err&memServices.FecU == 0 {
		return 0, models.FatalAt(models.ScopeSystem, fault.VA, 0, models.ErrFault, "page fault en modo kernel")
	}
	if e.PgfaultUpcall == 0 {
		return 0, models.FatalAt(models.ScopeEnv, fault.VA, 0, models.ErrFault, "page fault de %s sin upcall", e.ID)
	}

	xstackBottom := memModels.UXStackTop - memModels.PageSize
	if e.Tf.Esp >= xstackBottom && e.Tf.Esp < memModels.UXStackTop {
		return 0, models.FatalAt(models.ScopeEnv, fault.VA, 0, models.ErrFault, "page fault recursivo de %s en la pila de excepción", e.ID)
	}

	utfVA := memModels.UXStackTop - models.UTrapframeSize
	if err := e.Pgdir.CheckUser(utfVA, models.UTrapframeSize, memModels.PteW); err != nil {
		return 0, models.FatalAt(models.ScopeEnv, fault.VA, 0, err, "pila de excepción de %s inválida", e.ID)
	}

	utf := models.UTrapframe{FaultVA: fault.VA, Err: fault.Err, Tf: e.Tf}
	if err := e.Pgdir.KernelWrite(utfVA, utf.Encode()); err != nil {
		return 0, models.Fatal(models.ScopeSystem, err, "apilando el utrapframe de %s", e.ID)
	}

	slog.Debug(fmt.Sprintf("## (%s) Page fault va=0x%08x err=0x%x -> upcall 0x%08x", e.ID, fault.VA, fault.Err, e.PgfaultUpcall))
	e.Tf.Esp = utfVA
	e.Tf.Eip = e.PgfaultUpcall
	return e.PgfaultUpcall, nil
}

// handleTrap atiende la vuelta al kernel de e en el core c. Se llama con el lock tomado y lo
// deja tomado; después el core llama a SchedYield. Solo devuelve error si hay que detener la máquina.
func (m *Machine) handleTrap(c *models.CPU, e *models.Env, trap models.Trap) error {
	c.Status = models.CPUStarted
	e.LastPC = e.Tf.PC

	if trap.Kind == models.TrapFault {
		if fatal, ok := models.AsFatal(trap.Err); ok && fatal.Scope == models.ScopeSystem {
			slog.Error(fmt.Sprintf("## (%s) Error fatal del sistema: %v", e.ID, fatal))
			return fatal
		}
		slog.Error(fmt.Sprintf("## (%s) Fault no recuperable: %v", e.ID, trap.Err))
		m.envDestroy(e)
	}
	if trap.Kind == models.TrapExit && e.Status != models.EnvDying {
		m.envDestroy(e)
	}

	// Un env destruido mientras corría se libera recién ahora.
	if e.Status == models.EnvDying {
		if c.CurEnv == e {
			c.CurEnv = nil
		}
		e.CPU = NoCPU
		m.envFree(e)
	}

	slog.Debug(fmt.Sprintf("## CPU %d - Trap %s de %s", c.ID, trap.Kind, e.ID))
	return nil
}
