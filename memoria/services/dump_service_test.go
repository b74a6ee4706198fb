package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteDumpMemory(t *testing.T) {
	pg, _ := newTestPgdir(t, 8)
	mapPage(t, pg, models.UText, models.PteP|models.PteU)
	mapPage(t, pg, models.UData, userRW)
	require.NoError(t, pg.UserWrite(models.UData, []byte("dump")))

	dir := t.TempDir()
	path, err := ExecuteDumpMemory(dir, "00001000", pg)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "00001000-"))
	assert.True(t, strings.HasSuffix(path, ".dmp"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 2*(8+models.PageSize))
	assert.Equal(t, "dump", string(data[2*8+models.PageSize:2*8+models.PageSize+4]))
}
