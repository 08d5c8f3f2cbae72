package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// SlotPool é um semáforo baseado em channel com capacidade fixa.
//
// Além de limitar concorrência, expõe a ocupação como fator de carga
// (domain.LoadSource) para o controlador adaptativo: len/cap, sem I/O.
type SlotPool struct {
	sem chan struct{}
}

var (
	_ domain.SlotPool  = (*SlotPool)(nil)
	_ domain.LoadSource = (*SlotPool)(nil)
)

// NewSlotPool cria o pool com capacidade `size` (mínimo 1).
func NewSlotPool(size int) *SlotPool {
	return &SlotPool{sem: make(chan struct{}, max(size, 1))}
}

func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *SlotPool) InFlight() int { return len(p.sem) }

func (p *SlotPool) Capacity() int { return cap(p.sem) }

func (p *SlotPool) LoadFactor() float64 {
	return float64(len(p.sem)) / float64(cap(p.sem))
}
