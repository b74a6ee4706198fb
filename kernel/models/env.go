package models

import (
	"encoding/binary"
	"fmt"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
)

// EnvGenShift es el desplazamiento del contador de generación dentro de un EnvID.
// El tamaño de la tabla de envs no puede superar 1<<EnvGenShift.
const EnvGenShift = 12

// EnvID identifica un env: los bits bajos son el slot en la tabla y los altos la generación.
// Un id vencido (slot reutilizado) no coincide con el del env actual del slot.
type EnvID int32

// Slot devuelve el índice en una tabla de nenv entradas (nenv potencia de dos).
func (id EnvID) Slot(nenv int) int { return int(id) & (nenv - 1) }

func (id EnvID) String() string { return fmt.Sprintf("%08x", int32(id)) }

// NextEnvID calcula el id de la próxima generación del slot.
func NextEnvID(old EnvID, slot int, nenv int) EnvID {
	generation := (old + (1 << EnvGenShift)) &^ EnvID(nenv-1)
	if generation <= 0 {
		generation = 1 << EnvGenShift
	}
	return generation | EnvID(slot)
}

type EnvStatus int

const (
	EnvFree EnvStatus = iota
	EnvDying
	EnvRunnable
	EnvRunning
	EnvNotRunnable
)

func (s EnvStatus) String() string {
	switch s {
	case EnvFree:
		return "FREE"
	case EnvDying:
		return "DYING"
	case EnvRunnable:
		return "RUNNABLE"
	case EnvRunning:
		return "RUNNING"
	case EnvNotRunnable:
		return "NOT_RUNNABLE"
	default:
		return fmt.Sprintf("EnvStatus(%d)", int(s))
	}
}

// Trapframe es el estado de usuario guardado de un env.
//   - PC: próxima instrucción del programa.
//   - Eip: distinto de cero cuando el env está parado dentro de código de la lib (ver lib.Symbols).
//   - Eax: registro de retorno (resultado del último FORK).
//   - Esp: puntero de pila.
type Trapframe struct {
	Eip uint32 `json:"eip"`
	PC  int    `json:"pc"`
	Eax int32  `json:"eax"`
	Esp uint32 `json:"esp"`
}

// UTrapframe es lo que el kernel apila en la pila de excepción antes de saltar al upcall.
type UTrapframe struct {
	FaultVA uint32
	Err     uint32
	Tf      Trapframe
}

// UTrapframeSize es el tamaño codificado de un UTrapframe.
const UTrapframeSize = 24

func (u UTrapframe) Encode() []byte {
	buf := make([]byte, UTrapframeSize)
	binary.LittleEndian.PutUint32(buf[0:], u.FaultVA)
	binary.LittleEndian.PutUint32(buf[4:], u.Err)
	binary.LittleEndian.PutUint32(buf[8:], u.Tf.Eip)
	binary.LittleEndian.PutUint32(buf[12:], uint32(int32(u.Tf.PC)))
	binary.LittleEndian.PutUint32(buf[16:], uint32(u.Tf.Eax))
	binary.LittleEndian.PutUint32(buf[20:], u.Tf.Esp)
	return buf
}

func DecodeUTrapframe(buf []byte) (UTrapframe, error) {
	if len(buf) < UTrapframeSize {
		return UTrapframe{}, fmt.Errorf("utrapframe de %d bytes: %w", len(buf), ErrInval)
	}
	return UTrapframe{
		FaultVA: binary.LittleEndian.Uint32(buf[0:]),
		Err:     binary.LittleEndian.Uint32(buf[4:]),
		Tf: Trapframe{
			Eip: binary.LittleEndian.Uint32(buf[8:]),
			PC:  int(int32(binary.LittleEndian.Uint32(buf[12:]))),
			Eax: int32(binary.LittleEndian.Uint32(buf[16:])),
			Esp: binary.LittleEndian.Uint32(buf[20:]),
		},
	}, nil
}

// Env es una entrada de la tabla de envs. Todos los campos se leen y escriben con el lock del
// kernel tomado, salvo Tf, que mientras el env está RUNNING solo lo toca el core que lo ejecuta.
// LastPC es la copia de Tf.PC que el kernel guarda en cada entrada al kernel.
type Env struct {
	ID            EnvID
	ParentID      EnvID
	Status        EnvStatus
	CPU           int // core que lo ejecuta, -1 si ninguno
	Runs          int // cantidad de veces que fue despachado
	Pgdir         *memServices.Pgdir
	PgfaultUpcall uint32
	Tf            Trapframe
	LastPC        int
	Program       cpuModels.Program
	Name          string
}

// EnvInfo es la vista que se expone por HTTP y en el monitor.
type EnvInfo struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Status   string `json:"status"`
	CPU      int    `json:"cpu"`
	Runs     int    `json:"runs"`
	Pages    int    `json:"pages"`
	PC       int    `json:"pc"`
	Name     string `json:"name"`
	TLBHits  int    `json:"tlb_hits"`
	TLBMiss  int    `json:"tlb_misses"`
}

func (e *Env) Info() EnvInfo {
	pages, hits, misses := 0, 0, 0
	if e.Pgdir != nil {
		pages = e.Pgdir.Count()
		hits, misses = e.Pgdir.TLBStats()
	}
	return EnvInfo{
		ID:       e.ID.String(),
		ParentID: e.ParentID.String(),
		Status:   e.Status.String(),
		CPU:      e.CPU,
		Runs:     e.Runs,
		Pages:    pages,
		PC:       e.LastPC,
		Name:     e.Name,
		TLBHits:  hits,
		TLBMiss:  misses,
	}
}
