package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// Errores que las syscalls devuelven al código de usuario.
var (
	ErrInval          = memModels.ErrInval
	ErrNoMem          = memModels.ErrNoMem
	ErrBadEnv         = errors.New("bad environment")
	ErrNoFreeEnv      = errors.New("out of environments")
	ErrFault          = errors.New("memory fault")
	ErrUnimplemented  = errors.New("unimplemented")
	ErrNoRunnableEnvs = errors.New("no runnable environments in the system")
)

// Scope indica qué hay que terminar ante un error fatal.
type Scope int

const (
	ScopeEnv    Scope = iota // se destruye el env que falló
	ScopeSystem              // se detiene la máquina
)

func (s Scope) String() string {
	if s == ScopeSystem {
		return "system"
	}
	return "env"
}

// FatalError es el error no recuperable. Sube hasta el loop del core, que destruye el env o
// detiene el sistema según Scope. ID permite cruzar el log con el dump de diagnóstico.
type FatalError struct {
	Scope Scope
	Msg   string
	VA    uint32
	Perm  memModels.Perm
	ID    uuid.UUID
	Err   error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("fatal [%s %s]: %s", e.Scope, e.ID, e.Msg)
	if e.VA != 0 || e.Perm != 0 {
		msg += fmt.Sprintf(" (va 0x%08x perm %s)", e.VA, e.Perm)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal arma un FatalError con un id de reporte nuevo.
func Fatal(scope Scope, err error, format string, args ...any) *FatalError {
	return &FatalError{Scope: scope, Msg: fmt.Sprintf(format, args...), ID: uuid.New(), Err: err}
}

// FatalAt es Fatal con la dirección y los permisos observados, para diagnóstico.
func FatalAt(scope Scope, va uint32, perm memModels.Perm, err error, format string, args ...any) *FatalError {
	fatal := Fatal(scope, err, format, args...)
	fatal.VA = va
	fatal.Perm = perm
	return fatal
}

// AsFatal devuelve el FatalError contenido en err, si lo hay.
func AsFatal(err error) (*FatalError, bool) {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal, true
	}
	return nil, false
}
