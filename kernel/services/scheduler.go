package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/utils/metrics"
	"github.com/sisoputnfrba/magiOS-cow/utils/tracing"
)

// SelectNext elige el próximo slot a correr con round-robin.
//   - Sin env actual (cur < 0) devuelve el primer slot RUNNABLE desde el 0.
//   - Con env actual recorre circularmente desde cur+1 sin pasar por cur y devuelve el primer
//     RUNNABLE. Si no hay ninguno y cur sigue RUNNING, devuelve cur.
//
// Devuelve -1 si no hay nada para correr. Un slot RUNNING nunca se toma como candidato.
func SelectNext(envs []models.Env, cur int) int {
	n := len(envs)
	if cur < 0 {
		for i := range envs {
			if envs[i].Status == models.EnvRunnable {
				return i
			}
		}
		return -1
	}

	for i := 1; i < n; i++ {
		idx := (cur + i) % n
		if envs[idx].Status == models.EnvRunnable {
			return idx
		}
	}
	if envs[cur].Status == models.EnvRunning {
		return cur
	}
	return -1
}

// SchedYield decide qué corre el core c. Se llama con el lock tomado y siempre vuelve con el
// lock liberado: o el env elegido pasó a RUNNING en c, o el core quedó HALTED.
// Un error es terminal para la máquina.
func (m *Machine) SchedYield(c *models.CPU) (models.Transfer, error) {
	cur := -1
	if c.CurEnv != nil {
		cur = c.CurEnv.ID.Slot(len(m.envs))
	}

	if next := SelectNext(m.envs, cur); next >= 0 {
		e := &m.envs[next]
		m.envRun(c, e)
		return models.RunEnv(e), nil
	}
	return m.schedHalt(c)
}

// envRun marca e como RUNNING en c y suelta el lock. A partir de acá el core corre e en modo
// usuario y no vuelve al planificador hasta el próximo trap.
func (m *Machine) envRun(c *models.CPU, e *models.Env) {
	if prev := c.CurEnv; prev != nil && prev != e {
		if prev.Status == models.EnvRunning {
			transitionEnvState(prev, models.EnvRunnable)
		}
		prev.CPU = NoCPU
	}

	c.CurEnv = e
	e.CPU = c.ID
	e.Runs++
	transitionEnvState(e, models.EnvRunning)

	slog.Info(fmt.Sprintf("## CPU %d - Ejecuta env %s", c.ID, e.ID))
	metrics.Dispatch(c.ID)
	m.lock.Unlock()
}

// schedHalt detiene el core cuando no hay nada para correr. Si en toda la tabla no queda ningún
// env RUNNABLE, RUNNING o DYING el sistema no tiene cómo seguir y se devuelve ErrNoRunnableEnvs.
func (m *Machine) schedHalt(c *models.CPU) (models.Transfer, error) {
	_, span := tracing.StartSpan(context.Background(), "kernel.SchedHalt")

	alive := false
	for i := range m.envs {
		switch m.envs[i].Status {
		case models.EnvRunnable, models.EnvRunning, models.EnvDying:
			alive = true
		}
	}
	if !alive {
		slog.Error(fmt.Sprintf("## CPU %d - No runnable environments in the system!", c.ID))
		err := models.Fatal(models.ScopeSystem, models.ErrNoRunnableEnvs, "sched_halt en CPU %d", c.ID)
		m.lock.Unlock()
		tracing.EndSpan(span, err)
		return models.Halted(), err
	}

	// El core simulado no tiene espacio de direcciones propio: con CurEnv en nil ninguna
	// traducción de usuario pasa por él, que es lo mismo que quedar con el pgdir del kernel.
	if c.CurEnv != nil {
		c.CurEnv.CPU = NoCPU
		c.CurEnv = nil
	}
	c.Status = models.CPUHalted
	slog.Info(fmt.Sprintf("## CPU %d - HALT", c.ID))
	metrics.Halt(c.ID)

	m.lock.Unlock()
	tracing.EndSpan(span, nil)
	return models.Halted(), nil
}
