package services

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
)

type monitorCommand struct {
	name string
	desc string
	fn   func(m *Machine, args []string, out io.Writer) (exit bool)
}

var monitorCommands []monitorCommand

func init() {
	monitorCommands = []monitorCommand{
		{"help", "Muestra esta lista de comandos", monHelp},
		{"envs", "Lista los envs que no están libres", monEnvs},
		{"cpus", "Muestra el estado de cada CPU", monCPUs},
		{"mem", "Muestra el uso de frames y de slots de envs", monMem},
		{"kill", "kill <envid>: destruye un env", monKill},
		{"dump", "dump <envid>: vuelca la memoria de un env", monDump},
		{"exit", "Sale del monitor", func(*Machine, []string, io.Writer) bool { return true }},
	}
}

// Monitor es la consola del kernel. Lee un comando por línea de in hasta "exit" o EOF.
func (m *Machine) Monitor(in io.Reader, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintln(out, "Bienvenido al monitor del kernel. Escribí 'help' para ver los comandos.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "K> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		found := false
		for _, cmd := range monitorCommands {
			if cmd.name == fields[0] {
				found = true
				if cmd.fn(m, fields[1:], out) {
					return nil
				}
				break
			}
		}
		if !found {
			fmt.Fprintf(out, "Comando desconocido '%s'\n", fields[0])
		}
	}
}

func monHelp(_ *Machine, _ []string, out io.Writer) bool {
	for _, cmd := range monitorCommands {
		fmt.Fprintf(out, "%s - %s\n", cmd.name, cmd.desc)
	}
	return false
}

func monEnvs(m *Machine, _ []string, out io.Writer) bool {
	envs := m.Envs()
	if len(envs) == 0 {
		fmt.Fprintln(out, "No hay envs")
		return false
	}
	fmt.Fprintf(out, "%-8s %-8s %-12s %4s %5s %5s %11s %s\n", "ID", "PADRE", "ESTADO", "CPU", "RUNS", "PAGS", "TLB HIT/MISS", "NOMBRE")
	for _, e := range envs {
		tlb := fmt.Sprintf("%d/%d", e.TLBHits, e.TLBMiss)
		fmt.Fprintf(out, "%-8s %-8s %-12s %4d %5d %5d %11s %s\n", e.ID, e.ParentID, e.Status, e.CPU, e.Runs, e.Pages, tlb, e.Name)
	}
	return false
}

func monCPUs(m *Machine, _ []string, out io.Writer) bool {
	for _, c := range m.CPUs() {
		cur := "-"
		if c.CurEnv != "" {
			cur = c.CurEnv
		}
		fmt.Fprintf(out, "CPU %d: %s env=%s\n", c.ID, c.Status, cur)
	}
	return false
}

func monMem(m *Machine, _ []string, out io.Writer) bool {
	mem := m.Mem()
	fmt.Fprintf(out, "frames: %d libres de %d, slots de env libres: %d\n", mem.FreeFrames, mem.Frames, mem.FreeEnvs)
	return false
}

func parseEnvID(args []string, out io.Writer) (models.EnvID, bool) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Falta el envid")
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 16, 32)
	if err != nil {
		fmt.Fprintf(out, "envid inválido '%s'\n", args[0])
		return 0, false
	}
	return models.EnvID(id), true
}

func monKill(m *Machine, args []string, out io.Writer) bool {
	id, ok := parseEnvID(args, out)
	if !ok {
		return false
	}
	if err := m.Destroy(id); err != nil {
		fmt.Fprintf(out, "kill %s: %v\n", id, err)
		return false
	}
	fmt.Fprintf(out, "env %s destruido\n", id)
	return false
}

func monDump(m *Machine, args []string, out io.Writer) bool {
	id, ok := parseEnvID(args, out)
	if !ok {
		return false
	}
	path, err := m.DumpEnv(id)
	if err != nil {
		fmt.Fprintf(out, "dump %s: %v\n", id, err)
		return false
	}
	fmt.Fprintf(out, "dump en %s\n", path)
	return false
}
