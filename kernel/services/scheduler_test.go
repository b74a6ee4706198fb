package services

import (
	"testing"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(statuses ...models.EnvStatus) []models.Env {
	envs := make([]models.Env, len(statuses))
	for i, status := range statuses {
		envs[i].Status = status
	}
	return envs
}

func TestSelectNext(t *testing.T) {
	const (
		free     = models.EnvFree
		runnable = models.EnvRunnable
		running  = models.EnvRunning
		dying    = models.EnvDying
		blocked  = models.EnvNotRunnable
	)
	tests := []struct {
		name string
		envs []models.Env
		cur  int
		want int
	}{
		{"escenario A: primer runnable después del actual", table(running, runnable, free, runnable), 0, 1},
		{"escenario B: nada listo, se re-elige el actual", table(running, free, dying, blocked), 0, 0},
		{"sin actual arranca desde el slot 0", table(free, blocked, runnable, runnable), -1, 2},
		{"da la vuelta circular", table(runnable, free, running, free), 2, 0},
		{"nunca toma un RUNNING de otro core", table(running, running, free, free), -1, -1},
		{"RUNNING ajeno se saltea en la vuelta", table(blocked, running, running, free), 1, 1},
		{"actual no RUNNING y nada listo", table(blocked, free, free, free), 0, -1},
		{"tabla vacía de runnables", table(free, free, free, free), -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectNext(tt.envs, tt.cur)
			assert.Equal(t, tt.want, got)
			if got >= 0 && got != tt.cur {
				assert.Equal(t, models.EnvRunnable, tt.envs[got].Status)
			}
		})
	}
}

func TestSelectNext_RoundRobinFairness(t *testing.T) {
	envs := table(models.EnvRunning, models.EnvRunnable, models.EnvRunnable, models.EnvRunnable)
	cur := 0
	var order []int
	for i := 0; i < 8; i++ {
		next := SelectNext(envs, cur)
		envs[cur].Status = models.EnvRunnable
		envs[next].Status = models.EnvRunning
		order = append(order, next)
		cur = next
	}
	assert.Equal(t, []int{1, 2, 3, 0, 1, 2, 3, 0}, order)
}

func TestSchedYield_ScenarioA(t *testing.T) {
	m, _ := newTestMachine(t, 4, 1, nil)
	setStatuses(m, models.EnvRunning, models.EnvRunnable, models.EnvFree, models.EnvRunnable)
	c := m.cpus[0]
	c.CurEnv = &m.envs[0]
	m.envs[0].CPU = 0

	m.lock.Lock(c.ID)
	transfer, err := m.SchedYield(c)
	require.NoError(t, err)

	assert.Same(t, &m.envs[1], transfer.Env)
	assert.Equal(t, models.EnvRunning, m.envs[1].Status)
	assert.Equal(t, models.EnvRunnable, m.envs[0].Status)
	assert.Equal(t, NoCPU, m.envs[0].CPU)
	assert.Same(t, &m.envs[1], c.CurEnv)
	assert.Equal(t, 1, m.envs[1].Runs)

	assert.Equal(t, NoCPU, m.lock.Holder())
	require.True(t, m.lock.mu.TryLock(), "el lock queda liberado al despachar")
	m.lock.mu.Unlock()
}

func TestSchedYield_ScenarioB(t *testing.T) {
	m, _ := newTestMachine(t, 4, 1, nil)
	setStatuses(m, models.EnvRunning, models.EnvFree, models.EnvDying, models.EnvNotRunnable)
	c := m.cpus[0]
	c.CurEnv = &m.envs[0]
	m.envs[0].CPU = 0

	m.lock.Lock(c.ID)
	transfer, err := m.SchedYield(c)
	require.NoError(t, err)

	assert.Same(t, &m.envs[0], transfer.Env)
	assert.Equal(t, models.EnvRunning, m.envs[0].Status)
}

func TestSchedYield_ScenarioC(t *testing.T) {
	m, _ := newTestMachine(t, 4, 1, nil)
	setStatuses(m, models.EnvFree, models.EnvNotRunnable, models.EnvFree, models.EnvNotRunnable)
	c := m.cpus[0]

	m.lock.Lock(c.ID)
	transfer, err := m.SchedYield(c)
	require.Error(t, err)

	assert.True(t, transfer.Halt)
	assert.ErrorIs(t, err, models.ErrNoRunnableEnvs)
	fatal, ok := models.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, models.ScopeSystem, fatal.Scope)

	require.True(t, m.lock.mu.TryLock(), "el lock se libera aun en el error terminal")
	m.lock.mu.Unlock()
}

func TestSchedYield_HaltsWhenOthersStillAlive(t *testing.T) {
	m, _ := newTestMachine(t, 4, 2, nil)
	setStatuses(m, models.EnvNotRunnable, models.EnvRunning, models.EnvFree, models.EnvFree)
	m.envs[1].CPU = 1
	m.cpus[1].CurEnv = &m.envs[1]
	c := m.cpus[0]
	c.CurEnv = &m.envs[0]
	m.envs[0].CPU = 0

	m.lock.Lock(c.ID)
	transfer, err := m.SchedYield(c)
	require.NoError(t, err)

	assert.True(t, transfer.Halt)
	assert.Nil(t, c.CurEnv)
	assert.Equal(t, models.CPUHalted, c.Status)
	assert.Equal(t, NoCPU, m.envs[0].CPU)
	assert.Equal(t, models.EnvRunning, m.envs[1].Status, "el env del otro core no se toca")

	require.True(t, m.lock.mu.TryLock(), "halt libera el lock")
	m.lock.mu.Unlock()
}

func TestSchedYield_DyingCountsAsAlive(t *testing.T) {
	m, _ := newTestMachine(t, 4, 2, nil)
	setStatuses(m, models.EnvDying, models.EnvFree, models.EnvFree, models.EnvFree)

	transfer, err := m.Yield(0)
	require.NoError(t, err)
	assert.True(t, transfer.Halt)
}
