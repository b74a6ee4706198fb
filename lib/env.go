package lib

import (
	"encoding/binary"
	"errors"

	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
)

// Un acceso que vuelve a fallar después de tantos upcalls se considera un loop del handler.
const maxFaultRetries = 64

// Env es la vista de usuario de un env: lo que ve el programa mientras corre.
type Env struct {
	p Platform
}

func New(p Platform) *Env {
	return &Env{p: p}
}

func (u *Env) Getenvid() models.EnvID { return u.p.Getenvid() }

func (u *Env) Cputs(s string) { u.p.Cputs(s) }

func (u *Env) PageAlloc(va uint32, perm memModels.Perm) error { return u.p.PageAlloc(0, va, perm) }

func (u *Env) DumpMemory() (string, error) { return u.p.DumpMemory() }

// Exit destruye al env que llama. El kernel lo libera cuando el env vuelve a entrar.
func (u *Env) Exit() error { return u.p.EnvDestroy(0) }

// Thisenv lee la variable global thisenv de la lib.
func (u *Env) Thisenv() (models.EnvID, error) {
	word, err := u.loadWord(ThisenvAddr)
	return models.EnvID(word), err
}

// Load lee memoria de usuario. Un page fault pasa por el kernel y el upcall, y el acceso se
// reintenta desde el principio.
func (u *Env) Load(va uint32, n int) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		data, err := u.p.Load(va, n)
		fault, ok := asPageFault(err)
		if !ok {
			return data, err
		}
		if err := u.trap(fault, attempt); err != nil {
			return nil, err
		}
	}
}

// Store escribe memoria de usuario con el mismo manejo de faults que Load.
func (u *Env) Store(va uint32, data []byte) error {
	for attempt := 0; ; attempt++ {
		err := u.p.Store(va, data)
		fault, ok := asPageFault(err)
		if !ok {
			return err
		}
		if err := u.trap(fault, attempt); err != nil {
			return err
		}
	}
}

func (u *Env) trap(fault *memServices.PageFault, attempt int) error {
	if attempt >= maxFaultRetries {
		return models.FatalAt(models.ScopeEnv, fault.VA, 0, models.ErrFault, "el fault se repite después de %d upcalls", attempt)
	}
	upcall, err := u.p.PageFault(fault)
	if err != nil {
		return err
	}
	return u.jump(upcall)
}

func asPageFault(err error) (*memServices.PageFault, bool) {
	var fault *memServices.PageFault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}

func (u *Env) loadWord(va uint32) (uint32, error) {
	data, err := u.Load(va, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (u *Env) storeWord(va uint32, word uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	return u.Store(va, buf)
}
