package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Server envuelve un http.Server para poder apagarlo junto con el resto del módulo.
type Server struct {
	srv *http.Server
}

// NewServer prepara el servidor en port con las rutas de handler. Todavía no escucha.
//
// Ejemplo:
//
//	func main() {
//		srv := server.NewServer(cfg.PortKernel, handlers.Routes(machine))
//		go srv.Start()
//		defer srv.Shutdown(context.Background())
//	}
func NewServer(port int, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start bloquea atendiendo requests. Un Shutdown no se reporta como error.
func (s *Server) Start() error {
	slog.Info(fmt.Sprintf("Servidor escuchando en %s", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	slog.Error(fmt.Sprintf("Error al escuchar en el puerto %s: %v", s.srv.Addr, err))
	return err
}

// Shutdown deja de aceptar conexiones y espera a las que están en curso hasta que venza ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// SendJsonResponse retorna la respues del servidor en formato JSON
//
// Parámetros:
//   - writer: el http.ResponseWriter con el que se escribe la respuesta HTTP
//   - data: cualquier estructura de datos que querés enviar al cliente, se convierte automáticamente a JSON.
func SendJsonResponse(writer http.ResponseWriter, data interface{}) {
	response, err := json.Marshal(data)
	if err != nil {
		http.Error(writer, "Error al convertir datos a JSON", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	writer.Write(response)
}
