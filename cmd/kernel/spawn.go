package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	kernelHandlers "github.com/sisoputnfrba/magiOS-cow/kernel/handlers"
	"github.com/sisoputnfrba/magiOS-cow/utils/web/client"
)

const (
	defaultIP   = "127.0.0.1"
	defaultPort = 8001
)

// runSpawn manda un programa a un kernel que ya está corriendo.
func runSpawn(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("uso: kernel spawn <programa> [ip] [puerto]")
	}
	ip, port := defaultIP, defaultPort
	if len(args) > 1 {
		ip = args[1]
	}
	if len(args) > 2 {
		p, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("puerto inválido %q: %w", args[2], err)
		}
		port = p
	}

	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	request := kernelHandlers.SpawnRequest{Name: filepath.Base(args[0])}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		request.Program = append(request.Program, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	var response kernelHandlers.SpawnResponse
	if err := client.DoJSON(port, ip, http.MethodPost, "kernel/envs", request, &response); err != nil {
		return err
	}
	fmt.Printf("env %s creado\n", response.ID)
	return nil
}
