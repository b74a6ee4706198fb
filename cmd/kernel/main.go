package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	cpuServices "github.com/sisoputnfrba/magiOS-cow/cpu/services"
	kernelHandlers "github.com/sisoputnfrba/magiOS-cow/kernel/handlers"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/services"
	"github.com/sisoputnfrba/magiOS-cow/utils/config"
	"github.com/sisoputnfrba/magiOS-cow/utils/log"
	"github.com/sisoputnfrba/magiOS-cow/utils/tracing"
	"github.com/sisoputnfrba/magiOS-cow/utils/web/server"
)

const ConfigPath = "configs/kernel.json"

// Uso:
//
//	kernel [config] [programa ...]
//	kernel spawn <programa> [ip] [puerto]
func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "spawn" {
		if err := runSpawn(args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	configPath := ConfigPath
	if len(args) > 0 {
		configPath = args[0]
		args = args[1:]
	}
	os.Exit(boot(configPath, args))
}

func boot(configPath string, programs []string) int {
	cfg := models.DefaultConfig()
	config.InitConfig(configPath, cfg)
	if cfg.LogPath != "" {
		logFile := log.InitLogger(cfg.LogPath, cfg.LogLevel)
		defer logFile.Close()
	} else {
		log.InitLoggerWriter(os.Stdout, cfg.LogLevel)
	}

	if cfg.TraceOutput != "" {
		if err := tracing.Init("magiOS-cow", cfg.TraceOutput); err != nil {
			slog.Warn(fmt.Sprintf("No se pudo iniciar el tracing: %v", err))
		}
		defer tracing.Shutdown(context.Background())
	}

	machine, err := services.NewMachine(cfg, cpuServices.NewInterpreter(), os.Stdout)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	for _, path := range append(cfg.InitPrograms, programs...) {
		program, err := cpuModels.LoadProgram(path)
		if err != nil {
			slog.Error(fmt.Sprintf("No se pudo cargar %s: %v", path, err))
			return 1
		}
		id, err := machine.Spawn(program, filepath.Base(path))
		if err != nil {
			slog.Error(fmt.Sprintf("No se pudo crear el env de %s: %v", path, err))
			return 1
		}
		slog.Debug(fmt.Sprintf("Programa %s cargado en el env %s", path, id))
	}

	console := &ttyConsole{}
	defer console.Close()
	machine.SetMonitor(console, console)

	if cfg.PortKernel != 0 {
		srv := server.NewServer(cfg.PortKernel, kernelHandlers.Routes(machine))
		go srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = machine.Run(ctx)
	switch {
	case err == nil:
		slog.Info("## Kernel detenido por señal")
		return 0
	case errors.Is(err, models.ErrNoRunnableEnvs):
		return 0
	default:
		slog.Error(fmt.Sprintf("## Kernel detenido: %v", err))
		return 1
	}
}
