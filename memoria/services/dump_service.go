package services

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sisoputnfrba/magiOS-cow/memoria/helpers"
	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
)

// ExecuteDumpMemory vuelca las páginas de usuario presentes de pg en <dir>/<label>-<timestamp>.dmp.
// Cada página se escribe como un encabezado (va y permisos, little endian) seguido de sus PageSize bytes.
// Devuelve el path del archivo creado.
func ExecuteDumpMemory(dir string, label string, pg *Pgdir) (string, error) {
	slog.Info(fmt.Sprintf("## (%s) - Memory Dump solicitado", label))

	if err := helpers.CreateDirectory(dir); err != nil {
		return "", err
	}
	dumpFilePath := filepath.Join(dir, helpers.GetDumpName(label))

	file, err := os.Create(dumpFilePath)
	if err != nil {
		slog.Error(fmt.Sprintf("error al crear archivo de dump: %v", err))
		return "", err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var header [8]byte
	var writeErr error
	pages := 0
	pg.ForEachPresent(models.UTop, func(va uint32, e models.PTE) {
		if writeErr != nil {
			return
		}
		binary.LittleEndian.PutUint32(header[0:4], va)
		binary.LittleEndian.PutUint32(header[4:8], uint32(e.Perm()))
		if _, writeErr = writer.Write(header[:]); writeErr != nil {
			return
		}
		_, writeErr = writer.Write(pg.mem.Bytes(e.Frame()))
		pages++
	})
	if writeErr == nil {
		writeErr = writer.Flush()
	}
	if writeErr != nil {
		slog.Error("Fallo al escribir contenido en el archivo de dump")
		return "", fmt.Errorf("fallo al escribir datos al archivo de dump: %w", writeErr)
	}

	slog.Info(fmt.Sprintf("Memoria: Memory Dump completado para %s (%d páginas)", label, pages))
	return dumpFilePath, nil
}
