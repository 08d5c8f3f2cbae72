package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: conexões concorrentes).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// LoadSource fornece o fator de carga atual em [0,1] para o controlador adaptativo.
//
// Deve ser barato e síncrono (sem I/O); suavização é responsabilidade da fonte.
type LoadSource interface {
	LoadFactor() float64
}

type LoadFunc func() float64

func (f LoadFunc) LoadFactor() float64 { return f() }
