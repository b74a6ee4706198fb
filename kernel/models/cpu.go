package models

import "fmt"

type CPUStatus int

const (
	CPUStarted CPUStatus = iota
	CPUHalted
)

func (s CPUStatus) String() string {
	if s == CPUHalted {
		return "HALTED"
	}
	return "STARTED"
}

// CPU es el estado por core. Solo se modifica con el lock del kernel tomado.
type CPU struct {
	ID     int
	Status CPUStatus
	CurEnv *Env
}

type CPUInfo struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	CurEnv string `json:"cur_env,omitempty"`
}

func (c *CPU) Info() CPUInfo {
	info := CPUInfo{ID: c.ID, Status: c.Status.String()}
	if c.CurEnv != nil {
		info.CurEnv = c.CurEnv.ID.String()
	}
	return info
}

// Transfer es el resultado del planificador: o se corre Env en modo usuario o el core se detiene.
// El core lo consume directamente; nunca se vuelve al planificador con él.
type Transfer struct {
	Env  *Env
	Halt bool
}

func RunEnv(e *Env) Transfer { return Transfer{Env: e} }

func Halted() Transfer { return Transfer{Halt: true} }

type TrapKind int

const (
	TrapTimer TrapKind = iota // fin del quantum
	TrapYield
	TrapExit
	TrapFault // fault no recuperable, Err lo describe
)

func (k TrapKind) String() string {
	switch k {
	case TrapTimer:
		return "TIMER"
	case TrapYield:
		return "YIELD"
	case TrapExit:
		return "EXIT"
	case TrapFault:
		return "FAULT"
	default:
		return fmt.Sprintf("TrapKind(%d)", int(k))
	}
}

// Trap es el motivo por el que un env volvió al kernel.
type Trap struct {
	Kind TrapKind
	Err  error
}
