package worker

import (
	"context"
	"sync"
)

// CompletionRegistry — реестр шагов, которые завершили попытку выполнения.
//
// Реестр принадлежит одному run плана. Множество только растёт:
// удаления нет, успех и неудача команды не различаются.
//
// Каждое имя имеет свой сигнальный канал, который закрывается при первой
// отметке. Ожидающие гейты просыпаются сразу, без опроса по таймеру.
type CompletionRegistry struct {
	mu      sync.Mutex
	signals map[string]chan struct{}
	order   []string
}

// NewCompletionRegistry создаёт пустой реестр.
func NewCompletionRegistry() *CompletionRegistry {
	return &CompletionRegistry{
		signals: make(map[string]chan struct{}),
	}
}

// signalLocked возвращает канал для имени, создавая его при необходимости.
// Вызывать под r.mu.
func (r *CompletionRegistry) signalLocked(name string) chan struct{} {
	ch, ok := r.signals[name]
	if !ok {
		ch = make(chan struct{})
		r.signals[name] = ch
	}
	return ch
}

// MarkComplete добавляет имя в реестр. Повторная отметка ничего не делает.
func (r *CompletionRegistry) MarkComplete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.signalLocked(name)
	select {
	case <-ch:
		return
	default:
	}

	close(ch)
	r.order = append(r.order, name)
}

// IsComplete проверяет, есть ли имя в реестре.
func (r *CompletionRegistry) IsComplete(name string) bool {
	select {
	case <-r.Done(name):
		return true
	default:
		return false
	}
}

// Done возвращает канал, который закрывается, когда имя попадает в реестр.
func (r *CompletionRegistry) Done(name string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signalLocked(name)
}

// WaitFor блокируется, пока все имена не окажутся в реестре.
//
// Таймаута нет: имя, которое никогда не будет отмечено, блокирует навсегда.
// Выход раньше возможен только при отмене ctx.
func (r *CompletionRegistry) WaitFor(ctx context.Context, names []string) error {
	for _, name := range names {
		select {
		case <-r.Done(name):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Missing возвращает имена, которых ещё нет в реестре.
func (r *CompletionRegistry) Missing(names []string) []string {
	var missing []string
	for _, name := range names {
		if !r.IsComplete(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Names возвращает имена в порядке завершения.
func (r *CompletionRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len возвращает количество завершённых шагов.
func (r *CompletionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
