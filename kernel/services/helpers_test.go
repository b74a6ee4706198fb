package services

import (
	"bytes"
	"testing"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, nenv, cpus int, runner UserRunner) (*Machine, *bytes.Buffer) {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.NEnv = nenv
	cfg.CPUs = cpus
	cfg.NPages = 64
	cfg.TimerMs = 1
	cfg.DumpPath = t.TempDir()

	console := &bytes.Buffer{}
	m, err := NewMachine(cfg, runner, console)
	require.NoError(t, err)
	return m, console
}

var exitProgram = cpuModels.Program{{Op: cpuModels.OpExit}}

// dispatch crea un env y lo pone a correr en el core 0.
func dispatch(t *testing.T, m *Machine) (*models.Env, *envPlatform) {
	t.Helper()
	_, err := m.Spawn(exitProgram, "test")
	require.NoError(t, err)
	transfer, err := m.Yield(0)
	require.NoError(t, err)
	require.NotNil(t, transfer.Env)
	return transfer.Env, &envPlatform{m: m, c: m.cpus[0], e: transfer.Env}
}

// setStatuses arma la tabla a mano para probar el planificador.
func setStatuses(m *Machine, statuses ...models.EnvStatus) {
	for i, status := range statuses {
		m.envs[i].ID = models.NextEnvID(0, i, len(m.envs))
		m.envs[i].Status = status
	}
}
