package models

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// DEFINICION DE ERRORES
var ErrInvalidInstruction = errors.New("invalid instruction")
var ErrInvalidAddress = errors.New("invalid address")

type Opcode string

const (
	OpNoop       Opcode = "NOOP"
	OpWrite      Opcode = "WRITE"       // WRITE <va> <texto>
	OpRead       Opcode = "READ"        // READ <va> <n>
	OpAlloc      Opcode = "ALLOC"       // ALLOC <va>
	OpFork       Opcode = "FORK"        // Eax = id del hijo en el padre, 0 en el hijo
	OpSfork      Opcode = "SFORK"       // siempre falla
	OpIfChild    Opcode = "IFCHILD"     // IFCHILD <pc>: salta si el último FORK devolvió 0
	OpGoto       Opcode = "GOTO"        // GOTO <pc>
	OpYield      Opcode = "YIELD"
	OpPrint      Opcode = "PRINT"       // PRINT <texto>
	OpDumpMemory Opcode = "DUMP_MEMORY"
	OpExit       Opcode = "EXIT"
)

// Instruction es una línea ya parseada del pseudocódigo.
type Instruction struct {
	Op   Opcode
	Addr uint32 // WRITE, READ, ALLOC
	N    int    // READ: cantidad de bytes; IFCHILD y GOTO: pc destino
	Text string // WRITE, PRINT
}

func (i Instruction) String() string {
	switch i.Op {
	case OpWrite:
		return fmt.Sprintf("%s 0x%x %s", i.Op, i.Addr, i.Text)
	case OpRead:
		return fmt.Sprintf("%s 0x%x %d", i.Op, i.Addr, i.N)
	case OpAlloc:
		return fmt.Sprintf("%s 0x%x", i.Op, i.Addr)
	case OpIfChild, OpGoto:
		return fmt.Sprintf("%s %d", i.Op, i.N)
	case OpPrint:
		return fmt.Sprintf("%s %s", i.Op, i.Text)
	default:
		return string(i.Op)
	}
}

type Program []Instruction

// ParseInstruction parsea una línea. Las direcciones aceptan decimal, 0x hexa y 0 octal.
func ParseInstruction(line string) (Instruction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Instruction{}, fmt.Errorf("línea vacía: %w", ErrInvalidInstruction)
	}
	inst := Instruction{Op: Opcode(strings.ToUpper(fields[0]))}
	args := fields[1:]

	wantArgs := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s espera %d argumentos, tiene %d: %w", inst.Op, n, len(args), ErrInvalidInstruction)
		}
		return nil
	}

	switch inst.Op {
	case OpNoop, OpFork, OpSfork, OpYield, OpDumpMemory, OpExit:
		return inst, nil
	case OpWrite:
		if err := wantArgs(2); err != nil {
			return inst, err
		}
		addr, err := parseAddress(args[0])
		if err != nil {
			return inst, err
		}
		inst.Addr = addr
		inst.Text = strings.Join(args[1:], " ")
	case OpRead:
		if err := wantArgs(2); err != nil {
			return inst, err
		}
		addr, err := parseAddress(args[0])
		if err != nil {
			return inst, err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return inst, fmt.Errorf("tamaño %q: %w", args[1], ErrInvalidInstruction)
		}
		inst.Addr, inst.N = addr, n
	case OpAlloc:
		if err := wantArgs(1); err != nil {
			return inst, err
		}
		addr, err := parseAddress(args[0])
		if err != nil {
			return inst, err
		}
		inst.Addr = addr
	case OpIfChild, OpGoto:
		if err := wantArgs(1); err != nil {
			return inst, err
		}
		pc, err := strconv.Atoi(args[0])
		if err != nil || pc < 0 {
			return inst, fmt.Errorf("pc %q: %w", args[0], ErrInvalidInstruction)
		}
		inst.N = pc
	case OpPrint:
		inst.Text = strings.Join(args, " ")
	default:
		return inst, fmt.Errorf("opcode %q: %w", fields[0], ErrInvalidInstruction)
	}
	return inst, nil
}

func parseAddress(s string) (uint32, error) {
	addr, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("dirección %q: %w", s, ErrInvalidAddress)
	}
	return uint32(addr), nil
}

// ParseProgram parsea un programa completo. Las líneas vacías y las que empiezan con # se ignoran.
// Los saltos tienen que caer dentro del programa.
func ParseProgram(lines []string) (Program, error) {
	var program Program
	for n, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inst, err := ParseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("línea %d: %w", n+1, err)
		}
		program = append(program, inst)
	}
	for pc, inst := range program {
		if (inst.Op == OpGoto || inst.Op == OpIfChild) && inst.N >= len(program) {
			return nil, fmt.Errorf("instrucción %d (%s) salta fuera del programa: %w", pc, inst, ErrInvalidInstruction)
		}
	}
	return program, nil
}

func ReadProgram(r io.Reader) (Program, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ParseProgram(lines)
}

// LoadProgram lee un archivo de pseudocódigo.
func LoadProgram(path string) (Program, error) {
	file, err := os.Open(path)
	if err != nil {
		slog.Error(fmt.Sprintf("No se pudo abrir el archivo de instrucciones %s: %v", path, err))
		return nil, err
	}
	defer file.Close()

	program, err := ReadProgram(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug(fmt.Sprintf("Programa %s cargado: %d instrucciones", path, len(program)))
	return program, nil
}
