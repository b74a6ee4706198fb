package lib_test

import (
	"io"
	"testing"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/services"
	"github.com/sisoputnfrba/magiOS-cow/lib"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userRW   = memModels.PteP | memModels.PteU | memModels.PteW
	userCOW  = memModels.PteP | memModels.PteU | memModels.PteCOW
	xstackVA = memModels.UXStackTop - memModels.PageSize
	dataVA   = memModels.UData + 64
)

type kernel struct {
	m *services.Machine
}

// boot crea un env y lo pone a correr en el core 0.
func boot(t *testing.T, npages int) (kernel, *models.Env, *lib.Env) {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.NEnv = 8
	cfg.NPages = npages
	cfg.DumpPath = t.TempDir()
	m, err := services.NewMachine(cfg, nil, io.Discard)
	require.NoError(t, err)

	_, err = m.Spawn(cpuModels.Program{{Op: cpuModels.OpExit}}, "padre")
	require.NoError(t, err)
	k := kernel{m: m}
	e, u := k.next(t)
	return k, e, u
}

// next corre el planificador en el core 0 y devuelve el env elegido.
func (k kernel) next(t *testing.T) (*models.Env, *lib.Env) {
	t.Helper()
	transfer, err := k.m.Yield(0)
	require.NoError(t, err)
	require.NotNil(t, transfer.Env)
	return transfer.Env, k.m.UserEnv(k.m.CPU(0), transfer.Env)
}

// yield devuelve e al kernel y planifica el siguiente.
func (k kernel) yield(t *testing.T, e *models.Env) (*models.Env, *lib.Env) {
	t.Helper()
	require.NoError(t, k.m.Trap(0, e, models.Trap{Kind: models.TrapYield}))
	return k.next(t)
}

func lookup(t *testing.T, e *models.Env, va uint32) (uint32, memModels.Perm) {
	t.Helper()
	frame, perm, ok := e.Pgdir.Lookup(va)
	require.True(t, ok, "0x%08x no está mapeada en %s", va, e.ID)
	return frame, perm
}

func TestFork_ScenarioD(t *testing.T) {
	k, parent, u := boot(t, 64)
	require.NoError(t, u.Store(dataVA, []byte("padre")))
	parentFrame, perm := lookup(t, parent, memModels.UData)
	require.True(t, perm.Writable())

	childID, err := u.Fork()
	require.NoError(t, err)
	require.NotZero(t, childID)

	child, err := k.m.Env(childID)
	require.NoError(t, err)
	assert.Equal(t, models.EnvRunnable, child.Status)
	assert.Equal(t, lib.PgfaultUpcallAddr, child.PgfaultUpcall)

	frame, perm := lookup(t, parent, memModels.UData)
	assert.Equal(t, parentFrame, frame)
	assert.Equal(t, userCOW, perm)
	frame, perm = lookup(t, child, memModels.UData)
	assert.Equal(t, parentFrame, frame)
	assert.Equal(t, userCOW, perm)

	// El hijo arranca dentro de fork, arregla thisenv y eso dispara la copia privada.
	childEnv, uc := k.yield(t, parent)
	require.Same(t, child, childEnv)
	ret, err := uc.Resume(child.Tf.Eip)
	require.NoError(t, err)
	assert.Zero(t, ret)

	thisenv, err := uc.Thisenv()
	require.NoError(t, err)
	assert.Equal(t, childID, thisenv)

	childFrame, perm := lookup(t, child, memModels.UData)
	assert.NotEqual(t, parentFrame, childFrame)
	assert.Equal(t, userRW, perm)
	frame, perm = lookup(t, parent, memModels.UData)
	assert.Equal(t, parentFrame, frame)
	assert.Equal(t, userCOW, perm, "el padre sigue COW")

	require.NoError(t, uc.Store(dataVA, []byte("hijo!")))

	// Aislamiento: el padre sigue viendo su valor.
	parentEnv, u := k.yield(t, child)
	require.Same(t, parent, parentEnv)
	got, err := u.Load(dataVA, 5)
	require.NoError(t, err)
	assert.Equal(t, "padre", string(got))
	thisenv, err = u.Thisenv()
	require.NoError(t, err)
	assert.Equal(t, parent.ID, thisenv)

	// El padre también obtiene su copia al escribir.
	require.NoError(t, u.Store(dataVA, []byte("PADRE")))
	_, perm = lookup(t, parent, memModels.UData)
	assert.Equal(t, userRW, perm)
	got, err = child.Pgdir.UserRead(dataVA, 5)
	require.NoError(t, err)
	assert.Equal(t, "hijo!", string(got))
}

func TestFork_ReadReadEquivalence(t *testing.T) {
	k, parent, u := boot(t, 64)
	extra := []uint32{memModels.UTemp, memModels.UTemp + memModels.PageSize, 0x10000000}
	for i, va := range extra {
		require.NoError(t, u.PageAlloc(va, userRW))
		require.NoError(t, u.Store(va+16, []byte{byte(i + 1), 0xAB, 0xCD}))
	}

	childID, err := u.Fork()
	require.NoError(t, err)
	child, err := k.m.Env(childID)
	require.NoError(t, err)

	assert.Equal(t, parent.Pgdir.Count(), child.Pgdir.Count())
	parent.Pgdir.ForEachPresent(xstackVA, func(va uint32, e memModels.PTE) {
		want, err := parent.Pgdir.UserRead(va, memModels.PageSize)
		require.NoError(t, err)
		got, err := child.Pgdir.UserRead(va, memModels.PageSize)
		require.NoError(t, err, "0x%08x", va)
		assert.Equal(t, want, got, "0x%08x", va)
		assert.NoError(t, memModels.CheckCOWExclusive(e.Perm()))
	})
}

func TestFork_ReadOnlyPagesStayShared(t *testing.T) {
	k, parent, u := boot(t, 64)
	childID, err := u.Fork()
	require.NoError(t, err)
	child, _ := k.m.Env(childID)

	parentFrame, perm := lookup(t, parent, memModels.UText)
	assert.Equal(t, memModels.PteP|memModels.PteU, perm, "el texto no pasa a COW")
	childFrame, perm := lookup(t, child, memModels.UText)
	assert.Equal(t, parentFrame, childFrame)
	assert.False(t, perm.COW())
}

func TestFork_ExceptionStackNeverCOW(t *testing.T) {
	k, parent, u := boot(t, 64)
	childID, err := u.Fork()
	require.NoError(t, err)
	child, _ := k.m.Env(childID)

	parentFrame, perm := lookup(t, parent, xstackVA)
	assert.Equal(t, userRW, perm)
	childFrame, perm := lookup(t, child, xstackVA)
	assert.Equal(t, userRW, perm)
	assert.NotEqual(t, parentFrame, childFrame, "la pila de excepción del hijo es propia")

	// Un segundo fork desde el hijo tampoco la comparte.
	_, uc := k.yield(t, parent)
	_, err = uc.Resume(child.Tf.Eip)
	require.NoError(t, err)
	grandchildID, err := uc.Fork()
	require.NoError(t, err)
	grandchild, _ := k.m.Env(grandchildID)
	_, perm = lookup(t, child, xstackVA)
	assert.Equal(t, userRW, perm)
	_, perm = lookup(t, grandchild, xstackVA)
	assert.Equal(t, userRW, perm)
}

func TestSetPgfaultHandler_Idempotent(t *testing.T) {
	_, once, u1 := boot(t, 64)
	require.NoError(t, u1.SetPgfaultHandler(lib.PgfaultHandlerAddr))

	k, twice, u2 := boot(t, 64)
	require.NoError(t, u2.SetPgfaultHandler(lib.PgfaultHandlerAddr))
	frame, _ := lookup(t, twice, xstackVA)
	free := k.m.Mem().FreeFrames
	require.NoError(t, u2.SetPgfaultHandler(lib.PgfaultHandlerAddr))

	again, _ := lookup(t, twice, xstackVA)
	assert.Equal(t, frame, again, "no se reserva otra pila")
	assert.Equal(t, free, k.m.Mem().FreeFrames)
	assert.Equal(t, once.PgfaultUpcall, twice.PgfaultUpcall)
	assert.Equal(t, once.Pgdir.Count(), twice.Pgdir.Count())

	h1, err := once.Pgdir.UserRead(lib.PgfaultHandlerSlot, 4)
	require.NoError(t, err)
	h2, err := twice.Pgdir.UserRead(lib.PgfaultHandlerSlot, 4)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	assert.ErrorIs(t, u2.SetPgfaultHandler(0x1234), models.ErrInval)
}

func TestFork_FailureLeavesChildInert(t *testing.T) {
	k, parent, u := boot(t, 16)
	require.NoError(t, u.SetPgfaultHandler(lib.PgfaultHandlerAddr))
	for va := memModels.UTemp; k.m.Mem().FreeFrames > 0; va += memModels.PageSize {
		require.NoError(t, u.PageAlloc(va, userRW))
	}

	_, err := u.Fork()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoMem)

	envs := k.m.Envs()
	require.Len(t, envs, 2)
	assert.Equal(t, models.EnvNotRunnable.String(), envs[1].Status)
	assert.Zero(t, envs[1].Runs)

	// El hijo inerte nunca se despacha y se libera con el padre.
	require.NoError(t, k.m.Trap(0, parent, models.Trap{Kind: models.TrapExit}))
	assert.Empty(t, k.m.Envs())
	transfer, err := k.m.Yield(0)
	assert.ErrorIs(t, err, models.ErrNoRunnableEnvs)
	assert.Nil(t, transfer.Env)
}

func TestSfork_Unimplemented(t *testing.T) {
	k, _, u := boot(t, 64)
	before := k.m.Envs()
	free := k.m.Mem().FreeFrames

	child, err := u.Sfork()
	assert.Zero(t, child)
	assert.ErrorIs(t, err, models.ErrUnimplemented)
	assert.Equal(t, before, k.m.Envs())
	assert.Equal(t, free, k.m.Mem().FreeFrames)
}
