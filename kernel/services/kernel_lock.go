package services

import (
	"sync"
	"sync/atomic"
)

// NoCPU identifica a quien toma el lock fuera de un core (monitor, HTTP).
const NoCPU = -1

// KernelLock es el lock global del kernel. Serializa todo el código de kernel de todos los cores.
type KernelLock struct {
	mu     sync.Mutex
	holder atomic.Int32
}

func NewKernelLock() *KernelLock {
	l := &KernelLock{}
	l.holder.Store(NoCPU)
	return l
}

func (l *KernelLock) Lock(cpu int) {
	l.mu.Lock()
	l.holder.Store(int32(cpu))
}

func (l *KernelLock) Unlock() {
	l.holder.Store(NoCPU)
	l.mu.Unlock()
}

// Holder devuelve el core que tiene el lock, NoCPU si nadie (o un dueño que no es un core).
func (l *KernelLock) Holder() int {
	return int(l.holder.Load())
}
