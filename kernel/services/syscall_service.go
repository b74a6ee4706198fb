package services

import (
	"fmt"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/lib"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
	"github.com/sisoputnfrba/magiOS-cow/utils/metrics"
)

// envPlatform es la interfaz de syscalls que ve el env e mientras corre en el core c.
// Cada syscall toma el lock del kernel; los accesos a memoria de usuario no.
type envPlatform struct {
	m *Machine
	c *models.CPU
	e *models.Env
}

var _ lib.Platform = (*envPlatform)(nil)

func (p *envPlatform) enter(name string) {
	p.m.lock.Lock(p.c.ID)
	metrics.Syscall(name)
}

func (p *envPlatform) Getenvid() models.EnvID {
	p.enter("getenvid")
	defer p.m.lock.Unlock()

	return p.e.ID
}

func (p *envPlatform) Cputs(s string) {
	p.enter("cputs")
	defer p.m.lock.Unlock()

	fmt.Fprintf(p.m.console, "[%s] %s\n", p.e.ID, s)
}

// Exofork crea un hijo con una copia de los registros del padre. El hijo retoma dentro de fork
// con 0 en el registro de retorno.
func (p *envPlatform) Exofork() (models.EnvID, error) {
	p.enter("exofork")
	defer p.m.lock.Unlock()

	child, err := p.m.envAlloc(p.e.ID)
	if err != nil {
		return 0, err
	}
	child.Tf = p.e.Tf
	child.Tf.Eax = 0
	child.Tf.Eip = lib.ForkReturnAddr
	child.LastPC = child.Tf.PC
	child.Program = p.e.Program
	child.Name = p.e.Name
	return child.ID, nil
}

func (p *envPlatform) EnvSetStatus(id models.EnvID, status models.EnvStatus) error {
	p.enter("env_set_status")
	defer p.m.lock.Unlock()

	if status != models.EnvRunnable && status != models.EnvNotRunnable {
		return fmt.Errorf("env_set_status %s: %w", status, models.ErrInval)
	}
	target, err := p.m.envid2env(id, p.e, true)
	if err != nil {
		return err
	}
	// Un env que está en un core no cambia de estado desde afuera: solo el planificador
	// puede sacarlo de RUNNING.
	if target.CPU != NoCPU || target.Status == models.EnvDying {
		return fmt.Errorf("env_set_status sobre %s en estado %s: %w", target.ID, target.Status, models.ErrInval)
	}
	transitionEnvState(target, status)
	if status == models.EnvRunnable {
		p.m.Kick()
	}
	return nil
}

func (p *envPlatform) EnvSetPgfaultUpcall(id models.EnvID, upcall uint32) error {
	p.enter("env_set_pgfault_upcall")
	defer p.m.lock.Unlock()

	target, err := p.m.envid2env(id, p.e, true)
	if err != nil {
		return err
	}
	if upcall >= memModels.UTop {
		return fmt.Errorf("upcall 0x%08x: %w", upcall, models.ErrInval)
	}
	target.PgfaultUpcall = upcall
	return nil
}

func checkUserVA(va uint32) error {
	if va >= memModels.UTop || !memModels.Aligned(va) {
		return fmt.Errorf("va 0x%08x: %w", va, models.ErrInval)
	}
	return nil
}

func checkPerm(perm memModels.Perm) error {
	if !perm.Valid() {
		return fmt.Errorf("permisos %s: %w", perm, models.ErrInval)
	}
	return memModels.CheckCOWExclusive(perm)
}

func (p *envPlatform) PageAlloc(id models.EnvID, va uint32, perm memModels.Perm) error {
	p.enter("page_alloc")
	defer p.m.lock.Unlock()

	target, err := p.m.envid2env(id, p.e, true)
	if err != nil {
		return err
	}
	if err := checkUserVA(va); err != nil {
		return err
	}
	if err := checkPerm(perm); err != nil {
		return err
	}
	return p.m.mapNewPage(target, va, perm)
}

func (p *envPlatform) PageMap(srcID models.EnvID, srcVA uint32, dstID models.EnvID, dstVA uint32, perm memModels.Perm) error {
	p.enter("page_map")
	defer p.m.lock.Unlock()

	src, err := p.m.envid2env(srcID, p.e, true)
	if err != nil {
		return err
	}
	dst, err := p.m.envid2env(dstID, p.e, true)
	if err != nil {
		return err
	}
	if err := checkUserVA(srcVA); err != nil {
		return err
	}
	if err := checkUserVA(dstVA); err != nil {
		return err
	}
	if err := checkPerm(perm); err != nil {
		return err
	}

	frame, srcPerm, ok := src.Pgdir.Lookup(srcVA)
	if !ok {
		return fmt.Errorf("page_map: 0x%08x no está mapeada en %s: %w", srcVA, src.ID, models.ErrInval)
	}
	if perm.Writable() && !srcPerm.Writable() {
		return fmt.Errorf("page_map: W sobre una página de solo lectura (%s): %w", srcPerm, models.ErrInval)
	}
	return dst.Pgdir.Insert(frame, dstVA, perm)
}

func (p *envPlatform) PageUnmap(id models.EnvID, va uint32) error {
	p.enter("page_unmap")
	defer p.m.lock.Unlock()

	target, err := p.m.envid2env(id, p.e, true)
	if err != nil {
		return err
	}
	if err := checkUserVA(va); err != nil {
		return err
	}
	target.Pgdir.Remove(va)
	return nil
}

// EnvDestroy destruye id (o al llamador). Si el env está corriendo queda DYING.
func (p *envPlatform) EnvDestroy(id models.EnvID) error {
	p.enter("env_destroy")
	defer p.m.lock.Unlock()

	target, err := p.m.envid2env(id, p.e, true)
	if err != nil {
		return err
	}
	p.m.envDestroy(target)
	return nil
}

func (p *envPlatform) DumpMemory() (string, error) {
	p.enter("dump_memory")
	defer p.m.lock.Unlock()

	return memServices.ExecuteDumpMemory(p.m.cfg.DumpPath, p.e.ID.String(), p.e.Pgdir)
}

func (p *envPlatform) Uvpd(pdx uint32) memModels.PTE { return p.e.Pgdir.Uvpd(pdx) }

func (p *envPlatform) Uvpt(pn uint32) memModels.PTE { return p.e.Pgdir.Uvpt(pn) }

func (p *envPlatform) Load(va uint32, n int) ([]byte, error) { return p.e.Pgdir.UserRead(va, n) }

func (p *envPlatform) Store(va uint32, data []byte) error { return p.e.Pgdir.UserWrite(va, data) }

func (p *envPlatform) PageFault(fault *memServices.PageFault) (uint32, error) {
	p.m.lock.Lock(p.c.ID)
	defer p.m.lock.Unlock()

	return p.m.pageFault(p.e, fault)
}

func (p *envPlatform) Trapframe() *models.Trapframe { return &p.e.Tf }
