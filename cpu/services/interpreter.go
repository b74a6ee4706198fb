package services

import (
	"fmt"
	"log/slog"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/lib"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// Interpreter ejecuta el pseudocódigo de los envs. Cumple services.UserRunner del kernel.
type Interpreter struct{}

func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// RunUser corre e hasta slice instrucciones. Devuelve TrapTimer si se agota el quantum.
func (in *Interpreter) RunUser(cpu int, e *models.Env, u *lib.Env, slice int) models.Trap {
	tf := &e.Tf

	// El env quedó parado adentro de la lib (el hijo de un fork arranca en ForkReturnAddr).
	if tf.Eip != 0 {
		ret, err := u.Resume(tf.Eip)
		if err != nil {
			return faultTrap(e, err)
		}
		tf.Eip = 0
		tf.Eax = ret
		tf.PC++
	}

	for executed := 0; executed < slice; executed++ {
		if tf.PC < 0 || tf.PC >= len(e.Program) {
			return faultTrap(e, models.Fatal(models.ScopeEnv, models.ErrFault, "pc %d fuera del programa", tf.PC))
		}
		inst := e.Program[tf.PC]
		slog.Debug(fmt.Sprintf("## CPU %d - (%s) - PC: %d - Ejecutando: %s", cpu, e.ID, tf.PC, inst))

		trap, stop := in.execute(e, u, inst)
		if stop {
			return trap
		}
	}
	return models.Trap{Kind: models.TrapTimer}
}

// execute ejecuta una instrucción. Con stop en true el env vuelve al kernel con trap.
func (in *Interpreter) execute(e *models.Env, u *lib.Env, inst cpuModels.Instruction) (models.Trap, bool) {
	tf := &e.Tf
	switch inst.Op {
	case cpuModels.OpNoop:

	case cpuModels.OpWrite:
		if err := u.Store(inst.Addr, []byte(inst.Text)); err != nil {
			return faultTrap(e, err), true
		}

	case cpuModels.OpRead:
		data, err := u.Load(inst.Addr, inst.N)
		if err != nil {
			return faultTrap(e, err), true
		}
		u.Cputs(trimZeros(data))

	case cpuModels.OpAlloc:
		if err := u.PageAlloc(inst.Addr, memModels.PteP|memModels.PteU|memModels.PteW); err != nil {
			slog.Warn(fmt.Sprintf("## (%s) ALLOC 0x%08x falló: %v", e.ID, inst.Addr, err))
		}

	case cpuModels.OpFork:
		child, err := u.Fork()
		if err != nil {
			if _, fatal := models.AsFatal(err); fatal {
				return faultTrap(e, err), true
			}
			slog.Warn(fmt.Sprintf("## (%s) FORK falló: %v", e.ID, err))
			tf.Eax = -1
		} else {
			tf.Eax = int32(child)
		}

	case cpuModels.OpSfork:
		if _, err := u.Sfork(); err != nil {
			slog.Warn(fmt.Sprintf("## (%s) SFORK falló: %v", e.ID, err))
			tf.Eax = -1
		}

	case cpuModels.OpIfChild:
		if tf.Eax == 0 {
			tf.PC = inst.N
			return models.Trap{}, false
		}

	case cpuModels.OpGoto:
		tf.PC = inst.N
		return models.Trap{}, false

	case cpuModels.OpYield:
		tf.PC++
		return models.Trap{Kind: models.TrapYield}, true

	case cpuModels.OpPrint:
		u.Cputs(inst.Text)

	case cpuModels.OpDumpMemory:
		if _, err := u.DumpMemory(); err != nil {
			slog.Error(fmt.Sprintf("## (%s) DUMP_MEMORY falló: %v", e.ID, err))
		}

	case cpuModels.OpExit:
		if err := u.Exit(); err != nil {
			slog.Error(fmt.Sprintf("## (%s) EXIT: %v", e.ID, err))
		}
		return models.Trap{Kind: models.TrapExit}, true

	default:
		return faultTrap(e, models.Fatal(models.ScopeEnv, cpuModels.ErrInvalidInstruction, "opcode %s", inst.Op)), true
	}

	tf.PC++
	return models.Trap{}, false
}

func faultTrap(e *models.Env, err error) models.Trap {
	slog.Debug(fmt.Sprintf("## (%s) Trap por fault: %v", e.ID, err))
	return models.Trap{Kind: models.TrapFault, Err: err}
}

func trimZeros(data []byte) string {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return string(data[:end])
}
