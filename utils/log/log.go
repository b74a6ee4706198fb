package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// InitLogger loguea a la vez en stdout y en logPath con el nivel del archivo de config. Devuelve el
// archivo abierto para que main lo cierre al terminar; si no se puede crear finaliza con panic.
//
// Ejemplo:
//
//	func main() {
//		logFile := log.InitLogger("./logs/kernel.log", "INFO")
//		defer logFile.Close()
//	}
func InitLogger(logPath string, logLevel string) io.Closer {
	if err := os.MkdirAll(filepath.Dir(logPath), os.ModePerm); err != nil {
		panic(err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		panic(err)
	}

	InitLoggerWriter(io.MultiWriter(os.Stdout, logFile), logLevel)
	return logFile
}

// InitLoggerWriter configura slog sobre cualquier writer. Se usa en los tests y cuando el kernel
// arranca sin archivo de log.
func InitLoggerWriter(w io.Writer, logLevel string) *slog.Logger {
	level, err := convertStringToLogLevel(logLevel)

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Un nivel mal escrito no frena el arranque, solo avisa.
	if err != nil {
		slog.Warn(err.Error())
	}
	slog.Debug("Se ha configurado correctamente el logger.")
	return logger
}

// convertStringToLogLevel traduce el log_level de la config. Acepta minúsculas.
func convertStringToLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("No existe %s, se coloca INFO por defecto. ", levelStr)
	}
}
