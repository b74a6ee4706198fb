// Package lib es la biblioteca de usuario: stubs de syscalls, el registro del handler de page
// fault, el trampolín de upcall y fork con copy-on-write.
package lib

import (
	"github.com/sisoputnfrba/magiOS-cow/kernel/models"
	memModels "github.com/sisoputnfrba/magiOS-cow/memoria/models"
	memServices "github.com/sisoputnfrba/magiOS-cow/memoria/services"
)

// Platform es lo que el kernel le ofrece a un env en ejecución. Un id 0 siempre significa
// "el env que llama".
type Platform interface {
	Getenvid() models.EnvID
	Cputs(s string)
	Exofork() (models.EnvID, error)
	EnvSetStatus(id models.EnvID, status models.EnvStatus) error
	EnvSetPgfaultUpcall(id models.EnvID, upcall uint32) error
	PageAlloc(id models.EnvID, va uint32, perm memModels.Perm) error
	PageMap(srcID models.EnvID, srcVA uint32, dstID models.EnvID, dstVA uint32, perm memModels.Perm) error
	PageUnmap(id models.EnvID, va uint32) error
	EnvDestroy(id models.EnvID) error
	DumpMemory() (string, error)

	// Vistas de solo lectura de la tabla de páginas propia.
	Uvpd(pdx uint32) memModels.PTE
	Uvpt(pn uint32) memModels.PTE

	// Accesos a memoria de usuario a través de la MMU. Fallan con *memServices.PageFault.
	Load(va uint32, n int) ([]byte, error)
	Store(va uint32, data []byte) error

	// PageFault entra al kernel con un fault de usuario. El kernel apila el UTrapframe en la
	// pila de excepción y devuelve la dirección del upcall donde sigue el env.
	PageFault(fault *memServices.PageFault) (uint32, error)

	// Trapframe es el estado de registros vivo del env.
	Trapframe() *models.Trapframe
}
