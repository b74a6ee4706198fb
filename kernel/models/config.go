package models

import (
	"fmt"

	"go.uber.org/multierr"
)

type Config struct {
	LogLevel     string   `json:"log_level" yaml:"log_level"`
	LogPath      string   `json:"log_path" yaml:"log_path"`
	CPUs         int      `json:"cpus" yaml:"cpus"`
	NEnv         int      `json:"nenv" yaml:"nenv"`
	NPages       int      `json:"npages" yaml:"npages"`
	TimeSlice    int      `json:"time_slice" yaml:"time_slice"`
	TimerMs      int      `json:"timer_ms" yaml:"timer_ms"`
	TlbEntries   int      `json:"tlb_entries" yaml:"tlb_entries"`
	TlbReplace   string   `json:"tlb_replacement" yaml:"tlb_replacement"`
	PortKernel   int      `json:"port_kernel" yaml:"port_kernel"`
	TraceOutput  string   `json:"trace_output" yaml:"trace_output"`
	DumpPath     string   `json:"dump_path" yaml:"dump_path"`
	InitPrograms []string `json:"init_programs" yaml:"init_programs"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "INFO",
		CPUs:       1,
		NEnv:       64,
		NPages:     1024,
		TimeSlice:  8,
		TimerMs:    10,
		TlbEntries: 4,
		TlbReplace: "LRU",
		DumpPath:   "./dump_files/",
	}
}

// Validate junta todos los problemas de la configuración en un único error.
func (c *Config) Validate() error {
	var err error
	if c.CPUs < 1 {
		err = multierr.Append(err, fmt.Errorf("cpus debe ser >= 1, es %d", c.CPUs))
	}
	if c.NEnv < 2 || c.NEnv&(c.NEnv-1) != 0 || c.NEnv > 1<<EnvGenShift {
		err = multierr.Append(err, fmt.Errorf("nenv debe ser potencia de dos entre 2 y %d, es %d", 1<<EnvGenShift, c.NEnv))
	}
	if c.NPages < 16 {
		err = multierr.Append(err, fmt.Errorf("npages debe ser >= 16, es %d", c.NPages))
	}
	if c.TimeSlice < 1 {
		err = multierr.Append(err, fmt.Errorf("time_slice debe ser >= 1, es %d", c.TimeSlice))
	}
	if c.TlbEntries < 0 {
		err = multierr.Append(err, fmt.Errorf("tlb_entries no puede ser negativo, es %d", c.TlbEntries))
	}
	if c.TlbEntries > 0 && c.TlbReplace != "FIFO" && c.TlbReplace != "LRU" {
		err = multierr.Append(err, fmt.Errorf("tlb_replacement debe ser FIFO o LRU, es %q", c.TlbReplace))
	}
	if c.TimerMs < 0 {
		err = multierr.Append(err, fmt.Errorf("timer_ms no puede ser negativo, es %d", c.TimerMs))
	}
	return err
}
