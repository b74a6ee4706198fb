package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitConfig lee el archivo de configuración y retorna sus valores en la variable config. En caso de error
// finaliza con panic.
//
// Parámetros:
//   - filePath: ubicacion donde se encuentra el archivo de configuracion (.json, .yaml o .yml)
//   - config: acepta cualquier tipo de estructura
//
// Ejemplo:
//
//	type TestConfig struct {
//		Name  string `json:"name" yaml:"name"`
//		Value int    `json:"value" yaml:"value"`
//	}
//	func main() {
//		var testConfig TestConfig
//		config.InitConfig("./test.json", &testConfig)
//	}
func InitConfig(filePath string, config interface{}) {
	if err := Load(filePath, config); err != nil {
		panic(fmt.Errorf("error al configurar el archivo %s: %w", filePath, err))
	}
}

// Load es igual a InitConfig pero devuelve el error en lugar de hacer panic.
func Load(filePath string, config interface{}) error {
	return setupConfig(filePath, config)
}

func setupConfig(filePath string, config interface{}) error {
	configFile, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer configFile.Close()

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(configFile).Decode(config); err != nil {
			return err
		}
	default:
		if err := json.NewDecoder(configFile).Decode(config); err != nil {
			return err
		}
	}

	return nil
}
