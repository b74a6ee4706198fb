package models

// Layout de memoria virtual de un env (32 bits, dos niveles de tablas de páginas).
//
//	UTOP, UXSTACKTOP -> +------------------+
//	                    |  pila excepción  |  PageSize, nunca COW
//	                    +------------------+
//	                    |   (sin mapear)   |
//	USTACKTOP        -> +------------------+
//	                    |    pila normal   |
//	                    +------------------+
//	                    |        ...       |
//	UDATA            -> +------------------+ datos de la lib (thisenv, handler)
//	UTEXT            -> +------------------+ texto del programa
//	PFTEMP           -> slot temporario del handler de page fault
//	UTEMP            -> +------------------+
const (
	PageSize   = 4096
	PageShift  = 12
	NPDEntries = 1024
	NPTEntries = 1024
	PTSize     = PageSize * NPTEntries // bytes mapeados por una entrada del directorio
	PDXShift   = 22

	UTop       uint32 = 0xEEC00000
	UXStackTop uint32 = UTop
	UStackTop  uint32 = UTop - 2*PageSize
	UText      uint32 = 0x00800000
	UData      uint32 = UText + PTSize
	UTemp      uint32 = 0x00400000
	PFTemp     uint32 = UTemp + PTSize - PageSize
)

// PageNum devuelve el número de página virtual de va.
func PageNum(va uint32) uint32 { return va >> PageShift }

// PDX devuelve el índice en el directorio de páginas.
func PDX(va uint32) uint32 { return (va >> PDXShift) & 0x3FF }

// PTX devuelve el índice dentro de la tabla de páginas.
func PTX(va uint32) uint32 { return (va >> PageShift) & 0x3FF }

// PageOffset devuelve el desplazamiento dentro de la página.
func PageOffset(va uint32) uint32 { return va & (PageSize - 1) }

// PageAddr arma la dirección virtual de la página pn.
func PageAddr(pn uint32) uint32 { return pn << PageShift }

func RoundDown(va uint32, n uint32) uint32 { return va - va%n }

func RoundUp(va uint32, n uint32) uint32 { return RoundDown(va+n-1, n) }

// Aligned indica si va está alineada a página.
func Aligned(va uint32) bool { return PageOffset(va) == 0 }
