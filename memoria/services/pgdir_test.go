package services

import (
	"testing"

	"github.com/sisoputnfrba/magiOS-cow/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userRW = models.PteP | models.PteU | models.PteW

func newTestPgdir(t *testing.T, npages int) (*Pgdir, *PhysMem) {
	t.Helper()
	mem := NewPhysMem(npages)
	return NewPgdir(mem), mem
}

func TestPgdir_InsertLookupRemove(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	frame, err := mem.Alloc(true)
	require.NoError(t, err)

	require.NoError(t, pg.Insert(frame, models.UText, userRW))
	got, perm, ok := pg.Lookup(models.UText)
	require.True(t, ok)
	assert.Equal(t, frame, got)
	assert.Equal(t, userRW, perm)
	assert.Equal(t, uint32(1), mem.Ref(frame))
	assert.Equal(t, 1, pg.Count())

	pg.Remove(models.UText)
	_, _, ok = pg.Lookup(models.UText)
	assert.False(t, ok)
	assert.Equal(t, 7, mem.FreeCount())
	assert.Zero(t, pg.Uvpd(models.PDX(models.UText)), "la tabla vacía se libera")
}

func TestPgdir_ReinsertSameFrameOnlyChangesPerm(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	frame, err := mem.Alloc(true)
	require.NoError(t, err)

	require.NoError(t, pg.Insert(frame, models.UText, userRW))
	require.NoError(t, pg.Insert(frame, models.UText, userRW.ToCOW()))

	_, perm, ok := pg.Lookup(models.UText)
	require.True(t, ok)
	assert.Equal(t, models.PteP|models.PteU|models.PteCOW, perm)
	assert.Equal(t, uint32(1), mem.Ref(frame))
}

func TestPgdir_InsertReplacesOldFrame(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	first, _ := mem.Alloc(true)
	require.NoError(t, pg.Insert(first, models.UText, userRW))
	second, _ := mem.Alloc(true)
	require.NoError(t, pg.Insert(second, models.UText, userRW))

	assert.Zero(t, mem.Ref(first))
	assert.Equal(t, uint32(1), mem.Ref(second))
}

func TestPgdir_InsertRejectsInvalid(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	frame, _ := mem.Alloc(true)

	assert.ErrorIs(t, pg.Insert(frame, models.UText+1, userRW), models.ErrInval)
	assert.ErrorIs(t, pg.Insert(frame, models.UTop, userRW), models.ErrInval)
	assert.ErrorIs(t, pg.Insert(frame, models.UText, userRW|models.PteCOW), models.ErrInval)
}

func TestPgdir_UvpdUvpt(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	frame, _ := mem.Alloc(true)
	require.NoError(t, pg.Insert(frame, models.UData, userRW))

	assert.True(t, pg.Uvpd(models.PDX(models.UData)).Present())
	assert.False(t, pg.Uvpd(models.PDX(models.UTemp)).Present())

	e := pg.Uvpt(models.PageNum(models.UData))
	assert.True(t, e.Present())
	assert.Equal(t, frame, e.Frame())
	assert.False(t, pg.Uvpt(models.PageNum(models.UData)+1).Present())
}

func TestPgdir_ForEachPresentIsOrdered(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	vas := []uint32{models.UXStackTop - models.PageSize, models.UText, models.UData}
	for _, va := range vas {
		frame, err := mem.Alloc(true)
		require.NoError(t, err)
		require.NoError(t, pg.Insert(frame, va, userRW))
	}

	var got []uint32
	pg.ForEachPresent(models.UTop, func(va uint32, e models.PTE) {
		got = append(got, va)
	})
	assert.Equal(t, []uint32{models.UText, models.UData, models.UXStackTop - models.PageSize}, got)

	got = nil
	pg.ForEachPresent(models.UData, func(va uint32, e models.PTE) {
		got = append(got, va)
	})
	assert.Equal(t, []uint32{models.UText}, got)
}

func TestPgdir_FreeReleasesFrames(t *testing.T) {
	pg, mem := newTestPgdir(t, 8)
	for _, va := range []uint32{models.UText, models.UData} {
		frame, _ := mem.Alloc(true)
		require.NoError(t, pg.Insert(frame, va, userRW))
	}
	assert.Equal(t, 5, mem.FreeCount())

	pg.Free()
	assert.Equal(t, 7, mem.FreeCount())
	assert.Zero(t, pg.Count())
}
