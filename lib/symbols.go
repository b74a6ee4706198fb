package lib

import (
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// Direcciones de las rutinas de la lib dentro de la página de texto de cada env.
const (
	ForkReturnAddr     = memModels.UText + 0x100
	PgfaultUpcallAddr  = memModels.UText + 0x200
	PgfaultHandlerAddr = memModels.UText + 0x300
)

// Direcciones de las variables globales de la lib dentro de la página de datos.
const (
	ThisenvAddr        = memModels.UData
	PgfaultHandlerSlot = memModels.UData + 4
)

type entryPoint struct {
	name string
	fn   func(u *Env) (int32, error)
}

type faultHandler struct {
	name string
	fn   func(u *Env, utf models.UTrapframe) error
}

var (
	entryPoints   map[uint32]entryPoint
	faultHandlers map[uint32]faultHandler
)

// Las tablas se arman en init porque las rutinas vuelven a pasar por ellas al manejar faults.
func init() {
	entryPoints = map[uint32]entryPoint{
		ForkReturnAddr: {"fork_return", (*Env).forkReturn},
	}
	faultHandlers = map[uint32]faultHandler{
		PgfaultHandlerAddr: {"pgfault", (*Env).pgfault},
	}
}

// Symbols devuelve el nombre de la rutina de la lib en addr, o "" si no hay ninguna.
func Symbols(addr uint32) string {
	if ep, ok := entryPoints[addr]; ok {
		return ep.name
	}
	if h, ok := faultHandlers[addr]; ok {
		return h.name
	}
	if addr == PgfaultUpcallAddr {
		return "pgfault_upcall"
	}
	return ""
}

// Resume continúa un env que quedó parado dentro de la lib (Trapframe.Eip != 0) y devuelve el
// valor de retorno de esa rutina.
func (u *Env) Resume(addr uint32) (int32, error) {
	ep, ok := entryPoints[addr]
	if !ok {
		return 0, models.Fatal(models.ScopeEnv, models.ErrFault, "eip 0x%08x no es un punto de entrada", addr)
	}
	return ep.fn(u)
}

func (u *Env) jump(addr uint32) error {
	if addr != PgfaultUpcallAddr {
		return models.Fatal(models.ScopeEnv, models.ErrFault, "upcall 0x%08x desconocido", addr)
	}
	return u.pgfaultUpcall()
}
