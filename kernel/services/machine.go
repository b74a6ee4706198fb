package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/lib"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
	"github.com/sisoputnfrba/magiOS-cow/utils/list"
	"golang.org/x/sync/errgroup"
)

// UserRunner ejecuta un env en modo usuario durante a lo sumo slice instrucciones y devuelve el
// motivo por el que vuelve al kernel. Corre sin el lock del kernel.
type UserRunner interface {
	RunUser(cpu int, e *models.Env, u *lib.Env, slice int) models.Trap
}

// Machine es el kernel completo: lock global, tabla de envs, cores y memoria física.
type Machine struct {
	cfg     *models.Config
	lock    *KernelLock
	envs    []models.Env
	free    *list.ArrayList[int]
	cpus    []*models.CPU
	mem     *memServices.PhysMem
	runner  UserRunner
	console io.Writer
	wake    []chan struct{}

	monitorIn  io.Reader
	monitorOut io.Writer
}

func NewMachine(cfg *models.Config, runner UserRunner, console io.Writer) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuración inválida: %w", err)
	}

	m := &Machine{
		cfg:     cfg,
		lock:    NewKernelLock(),
		envs:    make([]models.Env, cfg.NEnv),
		free:    &list.ArrayList[int]{},
		mem:     memServices.NewPhysMem(cfg.NPages),
		runner:  runner,
		console: console,
	}
	for i := range m.envs {
		m.envs[i].CPU = NoCPU
		m.free.Add(i)
	}
	for i := 0; i < cfg.CPUs; i++ {
		m.cpus = append(m.cpus, &models.CPU{ID: i, Status: models.CPUStarted})
		m.wake = append(m.wake, make(chan struct{}, 1))
	}
	slog.Debug(fmt.Sprintf("Máquina creada: %d CPUs, %d envs, %d frames", cfg.CPUs, cfg.NEnv, cfg.NPages))
	return m, nil
}

// SetMonitor configura la consola del monitor que se abre cuando la máquina se detiene.
func (m *Machine) SetMonitor(in io.Reader, out io.Writer) {
	m.monitorIn = in
	m.monitorOut = out
}

func (m *Machine) Config() *models.Config { return m.cfg }

// Run arranca un goroutine por core y espera a que la máquina se detenga. Cuando ya no quedan
// envs se entra al monitor (si hay uno) y se devuelve un FatalError de sistema que envuelve
// ErrNoRunnableEnvs. Cancelar ctx detiene todos los cores y devuelve nil.
func (m *Machine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.cpus {
		g.Go(func() error {
			return m.runCore(gctx, c)
		})
	}

	err := g.Wait()
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	if errors.Is(err, models.ErrNoRunnableEnvs) {
		slog.Info("## Sistema detenido: no quedan envs")
		if m.monitorIn != nil {
			if monErr := m.Monitor(m.monitorIn, m.monitorOut); monErr != nil {
				slog.Warn(fmt.Sprintf("Monitor: %v", monErr))
			}
		}
	}
	if _, ok := models.AsFatal(err); ok {
		return err
	}
	return models.Fatal(models.ScopeSystem, err, "máquina detenida")
}

// runCore es el loop de un core: planifica, corre el env en modo usuario y vuelve a entrar al
// kernel con el trap.
func (m *Machine) runCore(ctx context.Context, c *models.CPU) error {
	slog.Debug(fmt.Sprintf("## CPU %d - Inicia", c.ID))
	m.lock.Lock(c.ID)
	for {
		if err := ctx.Err(); err != nil {
			m.lock.Unlock()
			return err
		}

		transfer, err := m.SchedYield(c)
		if err != nil {
			return err
		}

		if transfer.Halt {
			if err := m.waitInterrupt(ctx, c); err != nil {
				return err
			}
			m.lock.Lock(c.ID)
			c.Status = models.CPUStarted
			continue
		}

		e := transfer.Env
		trap := m.runner.RunUser(c.ID, e, m.UserEnv(c, e), m.cfg.TimeSlice)

		m.lock.Lock(c.ID)
		if err := m.handleTrap(c, e, trap); err != nil {
			m.lock.Unlock()
			return err
		}
	}
}

// waitInterrupt bloquea un core detenido hasta el próximo tick del timer o un Kick.
func (m *Machine) waitInterrupt(ctx context.Context, c *models.CPU) error {
	var tick <-chan time.Time
	if m.cfg.TimerMs > 0 {
		timer := time.NewTimer(time.Duration(m.cfg.TimerMs) * time.Millisecond)
		defer timer.Stop()
		tick = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.wake[c.ID]:
	case <-tick:
	}
	return nil
}

// Kick despierta a los cores detenidos, como una interrupción.
func (m *Machine) Kick() {
	for _, ch := range m.wake {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// UserEnv devuelve la vista de usuario de e mientras corre en c.
func (m *Machine) UserEnv(c *models.CPU, e *models.Env) *lib.Env {
	return lib.New(&envPlatform{m: m, c: c, e: e})
}

// CPU devuelve el core id.
func (m *Machine) CPU(id int) *models.CPU {
	return m.cpus[id]
}

// Yield toma el lock y corre el planificador en el core id, igual que un core al arrancar.
func (m *Machine) Yield(id int) (models.Transfer, error) {
	c := m.cpus[id]
	m.lock.Lock(c.ID)
	c.Status = models.CPUStarted
	return m.SchedYield(c)
}

// Trap entrega al kernel la vuelta de e en el core id.
func (m *Machine) Trap(id int, e *models.Env, trap models.Trap) error {
	c := m.cpus[id]
	m.lock.Lock(c.ID)
	defer m.lock.Unlock()

	return m.handleTrap(c, e, trap)
}

// Spawn crea un env RUNNABLE con el programa dado y despierta a los cores.
func (m *Machine) Spawn(program cpuModels.Program, name string) (models.EnvID, error) {
	m.lock.Lock(NoCPU)
	e, err := m.envCreate(program, name)
	m.lock.Unlock()
	if err != nil {
		return 0, err
	}
	m.Kick()
	return e.ID, nil
}

// Env busca un env vivo por id.
func (m *Machine) Env(id models.EnvID) (*models.Env, error) {
	m.lock.Lock(NoCPU)
	defer m.lock.Unlock()

	return m.envid2env(id, nil, false)
}

// Destroy destruye un env desde afuera (monitor, HTTP).
func (m *Machine) Destroy(id models.EnvID) error {
	m.lock.Lock(NoCPU)
	defer m.lock.Unlock()

	e, err := m.envid2env(id, nil, false)
	if err != nil {
		return err
	}
	m.envDestroy(e)
	return nil
}

// DumpEnv vuelca la memoria de un env.
func (m *Machine) DumpEnv(id models.EnvID) (string, error) {
	m.lock.Lock(NoCPU)
	defer m.lock.Unlock()

	e, err := m.envid2env(id, nil, false)
	if err != nil {
		return "", err
	}
	return memServices.ExecuteDumpMemory(m.cfg.DumpPath, e.ID.String(), e.Pgdir)
}

// Envs devuelve los envs que no están libres, en orden de slot.
func (m *Machine) Envs() []models.EnvInfo {
	m.lock.Lock(NoCPU)
	defer m.lock.Unlock()

	var infos []models.EnvInfo
	for i := range m.envs {
		if m.envs[i].Status != models.EnvFree {
			infos = append(infos, m.envs[i].Info())
		}
	}
	return infos
}

func (m *Machine) CPUs() []models.CPUInfo {
	m.lock.Lock(NoCPU)
	defer m.lock.Unlock()

	infos := make([]models.CPUInfo, 0, len(m.cpus))
	for _, c := range m.cpus {
		infos = append(infos, c.Info())
	}
	return infos
}

type MemInfo struct {
	Frames     int `json:"frames"`
	FreeFrames int `json:"free_frames"`
	FreeEnvs   int `json:"free_envs"`
}

func (m *Machine) Mem() MemInfo {
	return MemInfo{Frames: m.mem.NPages(), FreeFrames: m.mem.FreeCount(), FreeEnvs: m.free.Size()}
}
