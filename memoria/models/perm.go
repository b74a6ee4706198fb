package models

import (
	"errors"
	"fmt"
	"strings"
)

// Perm son los bits de permiso de una entrada de tabla de páginas.
type Perm uint32

const (
	PteP   Perm = 0x001 // presente
	PteW   Perm = 0x002 // escribible
	PteU   Perm = 0x004 // accesible desde modo usuario
	PtePWT Perm = 0x008
	PtePCD Perm = 0x010
	PteA   Perm = 0x020
	PteD   Perm = 0x040
	PtePS  Perm = 0x080
	PteG   Perm = 0x100

	// Bits reservados para el software, el hardware nunca los interpreta.
	PteAvail Perm = 0xE00
	PteCOW   Perm = 0x800

	// Bits que un env puede pasar en una syscall de mapeo.
	PteSyscall = PteAvail | PteP | PteW | PteU

	permMask Perm = 0xFFF
)

var (
	ErrInval = errors.New("invalid parameter")
	ErrNoMem = errors.New("out of memory")
)

func (p Perm) Has(bits Perm) bool { return p&bits == bits }

func (p Perm) Present() bool { return p.Has(PteP) }

func (p Perm) User() bool { return p.Has(PteU) }

func (p Perm) Writable() bool { return p.Has(PteW) }

func (p Perm) COW() bool { return p.Has(PteCOW) }

// Syscall enmascara los bits a los que puede ver y pasar un env.
func (p Perm) Syscall() Perm { return p & PteSyscall }

// NeedsCOW indica si la página tiene que compartirse como copy-on-write al hacer fork.
func (p Perm) NeedsCOW() bool { return p.Writable() || p.COW() }

// ToCOW saca el bit de escritura y marca la página como COW.
func (p Perm) ToCOW() Perm { return (p &^ PteW) | PteCOW }

// Valid indica si el permiso es aceptable en una syscall: P y U prendidos y ningún bit
// fuera de PteSyscall.
func (p Perm) Valid() bool {
	return p.Has(PteP|PteU) && p&^PteSyscall == 0
}

func (p Perm) String() string {
	if p == 0 {
		return "-"
	}
	names := []struct {
		bit  Perm
		name string
	}{
		{PteP, "P"}, {PteW, "W"}, {PteU, "U"}, {PtePWT, "PWT"}, {PtePCD, "PCD"},
		{PteA, "A"}, {PteD, "D"}, {PtePS, "PS"}, {PteG, "G"}, {PteCOW, "COW"},
	}
	var parts []string
	for _, n := range names {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if other := p & (PteAvail &^ PteCOW); other != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(other)))
	}
	return strings.Join(parts, "|")
}

// CheckCOWExclusive verifica que W y COW no aparezcan juntos.
func CheckCOWExclusive(p Perm) error {
	if p.Writable() && p.COW() {
		return fmt.Errorf("permiso %s: W y COW no pueden convivir: %w", p, ErrInval)
	}
	return nil
}

// PTE es una entrada de tabla de páginas: frame físico en los 20 bits altos, permisos en los 12 bajos.
type PTE uint32

func MakePTE(frame uint32, perm Perm) PTE {
	return PTE(frame<<PageShift | uint32(perm&permMask))
}

func (e PTE) Frame() uint32 { return uint32(e) >> PageShift }

func (e PTE) Perm() Perm { return Perm(e) & permMask }

func (e PTE) Present() bool { return e.Perm().Present() }
