package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	"github.com/sisoputnfrba/magiOS-cow/kernel/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T) (*services.Machine, *http.ServeMux) {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.NEnv = 4
	cfg.NPages = 64
	cfg.DumpPath = t.TempDir()
	m, err := services.NewMachine(cfg, nil, io.Discard)
	require.NoError(t, err)
	return m, Routes(m)
}

func do(t *testing.T, mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func spawn(t *testing.T, mux http.Handler, lines ...string) string {
	t.Helper()
	rec := do(t, mux, http.MethodPost, "/kernel/envs", SpawnRequest{Name: "prueba", Program: lines})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SpawnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestHandshake(t *testing.T) {
	_, mux := newTestMux(t)
	rec := do(t, mux, http.MethodGet, "/kernel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Kernel en funcionamiento")
}

func TestSpawnAndListEnvs(t *testing.T) {
	_, mux := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/kernel/envs", nil)
	assert.JSONEq(t, "[]", rec.Body.String())

	id := spawn(t, mux, "PRINT hola", "EXIT")
	assert.Equal(t, "00001000", id)

	rec = do(t, mux, http.MethodGet, "/kernel/envs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var envs []models.EnvInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envs))
	require.Len(t, envs, 1)
	assert.Equal(t, id, envs[0].ID)
	assert.Equal(t, "RUNNABLE", envs[0].Status)
	assert.Equal(t, "prueba", envs[0].Name)
	assert.Equal(t, 3, envs[0].Pages)

	rec = do(t, mux, http.MethodGet, "/kernel/envs/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSpawn_BadRequests(t *testing.T) {
	_, mux := newTestMux(t)

	cases := []struct {
		name string
		body any
	}{
		{"json inválido", "no es un objeto"},
		{"opcode desconocido", SpawnRequest{Program: []string{"SALTAR 3"}}},
		{"salto fuera del programa", SpawnRequest{Program: []string{"GOTO 9"}}},
		{"programa vacío", SpawnRequest{Program: []string{"# nada"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/kernel/envs", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSpawn_TableFull(t *testing.T) {
	_, mux := newTestMux(t)
	for i := 0; i < 4; i++ {
		spawn(t, mux, "EXIT")
	}
	rec := do(t, mux, http.MethodPost, "/kernel/envs", SpawnRequest{Program: []string{"EXIT"}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDestroyEnv(t *testing.T) {
	m, mux := newTestMux(t)
	id := spawn(t, mux, "EXIT")

	rec := do(t, mux, http.MethodDelete, "/kernel/envs/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, m.Envs())

	rec = do(t, mux, http.MethodDelete, "/kernel/envs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "la generación ya no existe")

	rec = do(t, mux, http.MethodDelete, "/kernel/envs/zzz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDumpEnv(t *testing.T) {
	_, mux := newTestMux(t)
	id := spawn(t, mux, "EXIT")

	rec := do(t, mux, http.MethodPost, "/kernel/envs/"+id+"/dump", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp DumpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	info, err := os.Stat(resp.Path)
	require.NoError(t, err)
	assert.EqualValues(t, 3*(8+4096), info.Size())

	rec = do(t, mux, http.MethodPost, "/kernel/envs/00002000/dump", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCpusAndMem(t *testing.T) {
	_, mux := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/kernel/cpus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cpus []models.CPUInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cpus))
	assert.Len(t, cpus, 1)

	rec = do(t, mux, http.MethodGet, "/kernel/mem", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mem services.MemInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mem))
	assert.Equal(t, services.MemInfo{Frames: 64, FreeFrames: 63, FreeEnvs: 4}, mem)
}

func TestMetricsEndpoint(t *testing.T) {
	_, mux := newTestMux(t)
	spawn(t, mux, "EXIT")

	rec := do(t, mux, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "magios_"), rec.Body.String())
}
