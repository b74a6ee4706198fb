package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DoRequest es una función genérica para realizar peticiones HTTP (GET, POST, PUT, DELETE, etc.) desde un cliente.
// Retorna la respuesta del servidor. En caso que se produzca un error va a retornar el error que se produjo.
//
// Parámetros:
//   - port: el puerto al que se hará la petición
//   - ip: la IP o dominio del servidor
//   - metodo: metodo HTTP
//   - query: parte final de la URL
//   - bodies ...[]byte: (opcional) body del request (usado por ejemplo en un POST/PUT), puede pasarse vacío.
//
// Ejemplo:
//
//	func main() {
//		response, err := client.DoRequest(8001, "127.0.0.1", "GET", "kernel/envs")
//		if err != nil {
//			slog.Error(fmt.Sprintf("Ocurrió un error: %v", err))
//			return
//		}
//		defer response.Body.Close()
//	}
func DoRequest(port int, ip string, metodo string, query string, bodies ...[]byte) (*http.Response, error) {
	cliente := &http.Client{}
	url := fmt.Sprintf("http://%s:%d/%s", ip, port, query)

	req, err := http.NewRequest(metodo, url, ifBody(bodies...))
	if err != nil {
		slog.Error(fmt.Sprintf("error creando request a ip: %s puerto: %d", ip, port))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	respuesta, err := cliente.Do(req)
	if err != nil {
		slog.Error(fmt.Sprintf("error enviando request a ip: %s puerto: %d - %v", ip, port, err))
		return nil, err
	}

	// Un status distinto de OK se devuelve como error junto con la respuesta, que puede traer el detalle.
	if respuesta.StatusCode != http.StatusOK {
		errorMsg := fmt.Errorf("status error: %d %s", respuesta.StatusCode, http.StatusText(respuesta.StatusCode))
		slog.Error(errorMsg.Error())
		return respuesta, errorMsg
	}

	return respuesta, nil
}

// DoJSON manda body serializado como JSON y decodifica la respuesta en out (si no es nil).
func DoJSON(port int, ip string, metodo string, query string, body any, out any) error {
	var payload [][]byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = append(payload, data)
	}

	respuesta, err := DoRequest(port, ip, metodo, query, payload...)
	if err != nil {
		if respuesta != nil {
			detail, _ := io.ReadAll(respuesta.Body)
			respuesta.Body.Close()
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(detail))
		}
		return err
	}
	defer respuesta.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(respuesta.Body).Decode(out)
}

func ifBody(bodies ...[]byte) io.Reader {
	if len(bodies) == 0 {
		return nil
	}
	return bytes.NewBuffer(bodies[0])
}
