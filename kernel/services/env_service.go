package services

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/lib"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
)

// Todas las funciones de este archivo se llaman con el lock del kernel tomado.

// transitionEnvState cambia el estado de un env y deja el log obligatorio.
func transitionEnvState(e *models.Env, newState models.EnvStatus) {
	oldState := e.Status
	if oldState == newState {
		return
	}
	e.Status = newState
	slog.Info(fmt.Sprintf("## (%s) Pasa del estado %s al estado %s", e.ID, oldState, newState))
}

// envAlloc toma un slot libre y lo inicializa NOT_RUNNABLE, con espacio de direcciones vacío
// y sin upcall.
func (m *Machine) envAlloc(parentID models.EnvID) (*models.Env, error) {
	slot, err := m.free.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("env_alloc: %w", models.ErrNoFreeEnv)
	}

	e := &m.envs[slot]
	id := models.NextEnvID(e.ID, slot, len(m.envs))
	tlb, err := memServices.NewTLB(id.String(), m.cfg.TlbEntries, m.cfg.TlbReplace)
	if err != nil {
		m.free.Push(slot)
		return nil, err
	}
	pgdir := memServices.NewPgdir(m.mem)
	pgdir.SetTLB(tlb)

	*e = models.Env{
		ID:       id,
		ParentID: parentID,
		Status:   models.EnvNotRunnable,
		CPU:      NoCPU,
		Pgdir:    pgdir,
		Tf:       models.Trapframe{Esp: memModels.UStackTop},
	}
	slog.Info(fmt.Sprintf("## (%s) Se crea el env - Estado : %s", e.ID, e.Status))
	return e, nil
}

// envid2env busca un env por id. El id 0 es cur. Con checkperm el env tiene que ser cur o un
// hijo inmediato de cur.
func (m *Machine) envid2env(id models.EnvID, cur *models.Env, checkperm bool) (*models.Env, error) {
	if id == 0 {
		if cur == nil {
			return nil, fmt.Errorf("envid 0 sin env actual: %w", models.ErrBadEnv)
		}
		return cur, nil
	}

	e := &m.envs[id.Slot(len(m.envs))]
	if e.Status == models.EnvFree || e.ID != id {
		return nil, fmt.Errorf("env %s: %w", id, models.ErrBadEnv)
	}
	if checkperm && (cur == nil || (e != cur && e.ParentID != cur.ID)) {
		return nil, fmt.Errorf("env %s no es hijo del llamador: %w", id, models.ErrBadEnv)
	}
	return e, nil
}

// envFree libera la memoria del env y devuelve el slot. También libera a los hijos que quedaron
// NOT_RUNNABLE sin haber corrido nunca (un fork que falló a mitad de camino).
func (m *Machine) envFree(e *models.Env) {
	for i := range m.envs {
		child := &m.envs[i]
		if child != e && child.ParentID == e.ID && child.Status == models.EnvNotRunnable && child.Runs == 0 {
			slog.Debug(fmt.Sprintf("Liberando hijo inerte %s de %s", child.ID, e.ID))
			m.envFree(child)
		}
	}

	if e.Pgdir != nil {
		e.Pgdir.Free()
	}
	e.Pgdir = nil
	e.Program = nil
	e.PgfaultUpcall = 0
	e.CPU = NoCPU
	transitionEnvState(e, models.EnvFree)
	slog.Info(fmt.Sprintf("## (%s) - Finaliza el env", e.ID))
	m.free.Push(e.ID.Slot(len(m.envs)))
}

// envDestroy destruye e. Si está corriendo en algún core queda DYING y se libera cuando
// vuelva a entrar al kernel.
func (m *Machine) envDestroy(e *models.Env) {
	if e.CPU != NoCPU {
		transitionEnvState(e, models.EnvDying)
		return
	}
	m.envFree(e)
}

// envCreate arma un env nuevo con el programa dado: página de texto, página de datos de la lib
// (con thisenv inicializado) y pila. Queda RUNNABLE.
func (m *Machine) envCreate(program cpuModels.Program, name string) (*models.Env, error) {
	e, err := m.envAlloc(0)
	if err != nil {
		return nil, err
	}
	e.Program = program
	e.Name = name

	pages := []struct {
		va   uint32
		perm memModels.Perm
	}{
		{memModels.UText, memModels.PteP | memModels.PteU},
		{memModels.UData, memModels.PteP | memModels.PteU | memModels.PteW},
		{memModels.UStackTop - memModels.PageSize, memModels.PteP | memModels.PteU | memModels.PteW},
	}
	for _, page := range pages {
		if err := m.mapNewPage(e, page.va, page.perm); err != nil {
			m.envFree(e)
			return nil, fmt.Errorf("env_create: %w", err)
		}
	}

	thisenv := make([]byte, 4)
	binary.LittleEndian.PutUint32(thisenv, uint32(e.ID))
	if err := e.Pgdir.KernelWrite(lib.ThisenvAddr, thisenv); err != nil {
		m.envFree(e)
		return nil, models.Fatal(models.ScopeSystem, err, "env_create: escribiendo thisenv")
	}

	transitionEnvState(e, models.EnvRunnable)
	return e, nil
}

// mapNewPage reserva un frame en cero y lo mapea en va.
func (m *Machine) mapNewPage(e *models.Env, va uint32, perm memModels.Perm) error {
	frame, err := m.mem.Alloc(true)
	if err != nil {
		return err
	}
	if err := e.Pgdir.Insert(frame, va, perm); err != nil {
		m.mem.FreeIfUnused(frame)
		return err
	}
	return nil
}
