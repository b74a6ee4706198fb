package list

import (
	"errors"
	"sync"
)

var ErrEmpty = errors.New("list is empty")

// List es una cola genérica segura para usar desde varios goroutines.
type List[T any] interface {
	Add(item T)
	Push(item T)
	Dequeue() (T, error)
	Size() int
}

// ArrayList implementa List sobre un slice. El valor cero está listo para usar.
type ArrayList[T any] struct {
	mu    sync.RWMutex
	items []T
}

var _ List[int] = (*ArrayList[int])(nil)

// Add encola item al final.
//
// Ejemplo:
//
//	free := &list.ArrayList[int]{}
//	for slot := 0; slot < nenv; slot++ {
//		free.Add(slot)
//	}
func (list *ArrayList[T]) Add(item T) {
	list.mu.Lock()
	defer list.mu.Unlock()

	list.items = append(list.items, item)
}

// Push pone item al principio, así es lo próximo que sale con Dequeue.
func (list *ArrayList[T]) Push(item T) {
	list.mu.Lock()
	defer list.mu.Unlock()

	list.items = append([]T{item}, list.items...)
}

// Dequeue saca el primer elemento. Con la lista vacía devuelve ErrEmpty.
func (list *ArrayList[T]) Dequeue() (T, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if len(list.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	first := list.items[0]
	list.items = list.items[1:]
	return first, nil
}

func (list *ArrayList[T]) Size() int {
	list.mu.RLock()
	defer list.mu.RUnlock()

	return len(list.items)
}
