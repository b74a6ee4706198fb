package handlers

import (
	"net/http"

	"github.com/sisoputnfrba/magiOS-cow/utils/web/server"
)

// Handshake es la respuesta de los endpoints de chequeo.
type Handshake struct {
	Module  string `json:"module"`
	Message string `json:"message"`
}

// HandshakeHandler se usa para chequear la conexión al servidor
//
// Ejemplo:
//
//	mux.HandleFunc("GET /kernel", handlers.HandshakeHandler("kernel", "Kernel en funcionamiento"))
func HandshakeHandler(module string, message string) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, Handshake{Module: module, Message: message})
	}
}
