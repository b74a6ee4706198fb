package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	cpuModels "github.com/sisoputnfrba/magiOS-cow/cpu/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/services"
	"github.com/sisoputnfrba/magiOS-cow/utils/metrics"
	"github.com/sisoputnfrba/magiOS-cow/utils/web/handlers"
	"github.com/sisoputnfrba/magiOS-cow/utils/web/server"
)

// SpawnRequest es el body de POST /kernel/envs: el pseudocódigo, una instrucción por línea.
type SpawnRequest struct {
	Name    string   `json:"name"`
	Program []string `json:"program"`
}

type SpawnResponse struct {
	ID string `json:"id"`
}

type DumpResponse struct {
	Path string `json:"path"`
}

// Routes arma el mux del kernel.
func Routes(m *services.Machine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", handlers.HandshakeHandler("kernel", "Bienvenido al módulo de Kernel"))
	mux.HandleFunc("GET /kernel", handlers.HandshakeHandler("kernel", "Kernel en funcionamiento 🚀"))
	mux.HandleFunc("GET /kernel/envs", GetEnvsHandler(m))
	mux.HandleFunc("POST /kernel/envs", SpawnEnvHandler(m))
	mux.HandleFunc("GET /kernel/envs/{id}", GetEnvHandler(m))
	mux.HandleFunc("DELETE /kernel/envs/{id}", DestroyEnvHandler(m))
	mux.HandleFunc("POST /kernel/envs/{id}/dump", DumpEnvHandler(m))
	mux.HandleFunc("GET /kernel/cpus", GetCpusHandler(m))
	mux.HandleFunc("GET /kernel/mem", GetMemHandler(m))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func GetEnvsHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		envs := m.Envs()
		if envs == nil {
			envs = []models.EnvInfo{}
		}
		server.SendJsonResponse(writer, envs)
	}
}

func GetEnvHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		id, ok := envIDFromPath(writer, request)
		if !ok {
			return
		}
		for _, info := range m.Envs() {
			if info.ID == id.String() {
				server.SendJsonResponse(writer, info)
				return
			}
		}
		http.Error(writer, fmt.Sprintf("env %s no existe", id), http.StatusNotFound)
	}
}

func SpawnEnvHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var body SpawnRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			http.Error(writer, "Error al decodificar el cuerpo de la solicitud", http.StatusBadRequest)
			return
		}

		program, err := cpuModels.ParseProgram(body.Program)
		if err != nil {
			http.Error(writer, err.Error(), http.StatusBadRequest)
			return
		}
		if len(program) == 0 {
			http.Error(writer, "el programa está vacío", http.StatusBadRequest)
			return
		}

		name := body.Name
		if name == "" {
			name = "http"
		}
		id, err := m.Spawn(program, name)
		if err != nil {
			slog.Error(fmt.Sprintf("No se pudo crear el env %s: %v", name, err))
			writeKernelError(writer, err)
			return
		}
		server.SendJsonResponse(writer, SpawnResponse{ID: id.String()})
	}
}

func DestroyEnvHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		id, ok := envIDFromPath(writer, request)
		if !ok {
			return
		}
		if err := m.Destroy(id); err != nil {
			writeKernelError(writer, err)
			return
		}
		slog.Info(fmt.Sprintf("## (%s) Destruido por HTTP", id))
		writer.WriteHeader(http.StatusOK)
	}
}

func DumpEnvHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		id, ok := envIDFromPath(writer, request)
		if !ok {
			return
		}
		path, err := m.DumpEnv(id)
		if err != nil {
			writeKernelError(writer, err)
			return
		}
		server.SendJsonResponse(writer, DumpResponse{Path: path})
	}
}

func GetCpusHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, m.CPUs())
	}
}

func GetMemHandler(m *services.Machine) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, m.Mem())
	}
}

// envIDFromPath lee el {id} de la ruta, en hexa como lo muestran los logs.
func envIDFromPath(writer http.ResponseWriter, request *http.Request) (models.EnvID, bool) {
	raw := request.PathValue("id")
	id, err := strconv.ParseInt(raw, 16, 32)
	if err != nil || id <= 0 {
		http.Error(writer, fmt.Sprintf("id de env inválido: %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return models.EnvID(id), true
}

func writeKernelError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadEnv):
		http.Error(writer, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrNoFreeEnv), errors.Is(err, models.ErrNoMem):
		http.Error(writer, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(writer, err.Error(), http.StatusInternalServerError)
	}
}
